package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"lotus-md/internal/adapter/httpclient"
	"lotus-md/internal/domain"
)

const forecastDays = 3

// forecastResponse is the subset of the weatherapi.com forecast payload we render.
type forecastResponse struct {
	Location struct {
		Name    string `json:"name"`
		Region  string `json:"region"`
		Country string `json:"country"`
	} `json:"location"`
	Current struct {
		LastUpdated string  `json:"last_updated"`
		TempC       float64 `json:"temp_c"`
		TempF       float64 `json:"temp_f"`
		IsDay       int     `json:"is_day"`
		Condition   struct {
			Text string `json:"text"`
			Code int    `json:"code"`
		} `json:"condition"`
		WindKph    float64 `json:"wind_kph"`
		WindDir    string  `json:"wind_dir"`
		PressureMB float64 `json:"pressure_mb"`
		Humidity   int     `json:"humidity"`
		FeelsLikeC float64 `json:"feelslike_c"`
		FeelsLikeF float64 `json:"feelslike_f"`
		VisKm      float64 `json:"vis_km"`
		UV         float64 `json:"uv"`
	} `json:"current"`
	Forecast struct {
		Days []struct {
			Date string `json:"date"`
			Day  struct {
				MaxTempC     float64 `json:"maxtemp_c"`
				MinTempC     float64 `json:"mintemp_c"`
				ChanceOfRain int     `json:"daily_chance_of_rain"`
				Condition    struct {
					Text string `json:"text"`
				} `json:"condition"`
			} `json:"day"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

// weatherEmoji picks an icon for a weatherapi.com condition code.
func weatherEmoji(code int, isDay bool) string {
	switch code {
	case 1000:
		if isDay {
			return "☀️"
		}
		return "🌙"
	case 1003:
		if isDay {
			return "⛅"
		}
		return "☁️"
	case 1006, 1009:
		return "☁️"
	case 1030, 1135, 1147:
		return "🌫️"
	case 1063, 1150, 1153, 1180, 1183:
		return "🌦️"
	case 1186, 1189, 1192, 1195:
		return "🌧️"
	case 1087, 1273, 1276:
		return "⛈️"
	case 1066, 1114, 1210, 1213, 1216, 1219:
		return "🌨️"
	case 1222, 1225, 1237:
		return "❄️"
	}
	return "🌡️"
}

func formatWeather(w *forecastResponse) string {
	c := w.Current
	var b strings.Builder
	fmt.Fprintf(&b, "%s *Weather in %s, %s*\n\n", weatherEmoji(c.Condition.Code, c.IsDay == 1), w.Location.Name, w.Location.Country)
	fmt.Fprintf(&b, "*Temperature:* %.1f°C / %.1f°F\n", c.TempC, c.TempF)
	fmt.Fprintf(&b, "*Condition:* %s\n", c.Condition.Text)
	fmt.Fprintf(&b, "*Feels Like:* %.1f°C / %.1f°F\n", c.FeelsLikeC, c.FeelsLikeF)
	fmt.Fprintf(&b, "*Humidity:* %d%%\n", c.Humidity)
	fmt.Fprintf(&b, "*Wind:* %.1f km/h %s\n", c.WindKph, c.WindDir)
	fmt.Fprintf(&b, "*Pressure:* %.0f mb\n", c.PressureMB)
	fmt.Fprintf(&b, "*Visibility:* %.1f km\n", c.VisKm)
	fmt.Fprintf(&b, "*UV Index:* %.0f\n", c.UV)
	fmt.Fprintf(&b, "*Last Updated:* %s", c.LastUpdated)

	if days := w.Forecast.Days; len(days) > 0 {
		fmt.Fprintf(&b, "\n\n*%d-Day Forecast:*", len(days))
		for _, day := range days {
			fmt.Fprintf(&b, "\n• *%s:* %s %.1f°C - %.1f°C", day.Date, day.Day.Condition.Text, day.Day.MinTempC, day.Day.MaxTempC)
			if day.Day.ChanceOfRain > 0 {
				fmt.Fprintf(&b, " (%d%% rain)", day.Day.ChanceOfRain)
			}
		}
	}
	return b.String()
}

func (d *Deps) weather(ctx context.Context, client domain.Client, msg domain.InboundMessage, cc domain.CommandContext) error {
	location := cc.Text
	if location == "" {
		_, err := reply(ctx, client, msg, fmt.Sprintf("Please provide a location to check weather.\n\nExample: %sweather New York", cc.Prefix))
		return err
	}
	if d.Weather == nil || d.WeatherAPIKey == "" {
		_, err := reply(ctx, client, msg, "⚠️ Weather lookups are not configured. Ask the bot owner to set a weather API key.")
		return err
	}

	ref, err := reply(ctx, client, msg, fmt.Sprintf("🔍 Getting weather information for \"%s\"...", location))
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("key", d.WeatherAPIKey)
	q.Set("q", location)
	q.Set("days", fmt.Sprint(forecastDays))

	var w forecastResponse
	err = d.Weather.GetJSON(ctx, strings.TrimRight(d.WeatherBaseURL, "/")+"/forecast.json", q, &w)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && (se.Code == http.StatusBadRequest || se.Code == http.StatusNotFound) {
			return edit(ctx, client, ref, fmt.Sprintf("❌ Could not find weather information for \"%s\". Please check the location and try again.", location))
		}
		d.Logger.Warn("weather lookup failed", "location", location, "error", err)
		return edit(ctx, client, ref, "❌ Weather service is unavailable right now. Please try again later.")
	}

	return edit(ctx, client, ref, formatWeather(&w)+d.footer())
}
