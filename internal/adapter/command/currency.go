package command

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"lotus-md/internal/domain"
)

// ratesAsOf dates the reference table below.
const ratesAsOf = "2025-05-01"

var currencyCodes = []string{
	"USD", "EUR", "GBP", "JPY", "AUD", "CAD", "CHF", "CNY", "INR",
	"KRW", "MXN", "SGD", "ZAR", "THB", "RUB", "BRL", "MYR",
}

// referenceRates holds quoted rows; every code has a USD quote so any pair
// resolves through USD.
var referenceRates = map[string]map[string]float64{
	"USD": {
		"EUR": 0.92, "GBP": 0.79, "JPY": 108.95, "AUD": 1.34, "CAD": 1.25, "CHF": 0.88,
		"CNY": 6.47, "INR": 74.5, "KRW": 1120.5, "MXN": 19.95, "SGD": 1.33, "ZAR": 14.72,
		"THB": 31.45, "RUB": 75.2, "BRL": 5.24, "MYR": 4.15,
	},
	"EUR": {
		"USD": 1.09, "GBP": 0.86, "JPY": 118.44, "AUD": 1.45, "CAD": 1.36, "CHF": 0.96,
		"CNY": 7.04, "INR": 81.05, "KRW": 1218.6, "MXN": 21.7, "SGD": 1.45, "ZAR": 16.01,
		"THB": 34.2, "RUB": 81.8, "BRL": 5.7, "MYR": 4.51,
	},
	"GBP": {
		"USD": 1.26, "EUR": 1.16, "JPY": 137.65, "AUD": 1.69, "CAD": 1.58, "CHF": 1.11,
		"CNY": 8.18, "INR": 94.1, "KRW": 1415, "MXN": 25.2, "SGD": 1.68, "ZAR": 18.6,
		"THB": 39.7, "RUB": 95, "BRL": 6.62, "MYR": 5.24,
	},
}

// ExchangeRate returns how many units of to one unit of from buys. Direct
// quotes win, then inverted quotes, then a cross through USD.
func ExchangeRate(from, to string) (float64, bool) {
	if !slices.Contains(currencyCodes, from) || !slices.Contains(currencyCodes, to) {
		return 0, false
	}
	if from == to {
		return 1, true
	}
	if r, ok := referenceRates[from][to]; ok {
		return r, true
	}
	if r, ok := referenceRates[to][from]; ok {
		return 1 / r, true
	}
	usdFrom, ok1 := referenceRates["USD"][from]
	usdTo, ok2 := referenceRates["USD"][to]
	if !ok1 || !ok2 {
		return 0, false
	}
	return usdTo / usdFrom, true
}

// groupThousands formats v with two decimals and comma separators.
func groupThousands(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}

func (d *Deps) currency(ctx context.Context, client domain.Client, msg domain.InboundMessage, cc domain.CommandContext) error {
	if len(cc.Args) < 3 {
		_, err := reply(ctx, client, msg, fmt.Sprintf(
			"Please provide amount, source currency, and target currency.\n\nExamples:\n%[1]scurrency 100 USD EUR\n%[1]sconvert 50 USD JPY\n%[1]sexchange 200 EUR GBP",
			cc.Prefix))
		return err
	}

	amount, err := strconv.ParseFloat(strings.ReplaceAll(cc.Args[0], ",", ""), 64)
	if err != nil || amount <= 0 {
		_, err := reply(ctx, client, msg, "Invalid amount. Please provide a positive number.")
		return err
	}
	from, to := strings.ToUpper(cc.Args[1]), strings.ToUpper(cc.Args[2])
	for _, c := range []struct{ code, role string }{{from, "source"}, {to, "target"}} {
		if !slices.Contains(currencyCodes, c.code) {
			_, err := reply(ctx, client, msg, fmt.Sprintf("Invalid %s currency: %s. Supported: %s", c.role, c.code, strings.Join(currencyCodes, ", ")))
			return err
		}
	}

	ref, err := reply(ctx, client, msg, fmt.Sprintf("💱 Converting %s %s to %s...", groupThousands(amount), from, to))
	if err != nil {
		return err
	}

	rate, ok := ExchangeRate(from, to)
	if !ok {
		return edit(ctx, client, ref, "❌ Failed to convert currency. Please try again later.")
	}

	text := fmt.Sprintf("💱 *Currency Conversion*\n\n*Amount:* %s %s\n*Converted:* %s %s\n*Exchange Rate:* 1 %s = %.6f %s\n*Rates As Of:* %s",
		groupThousands(amount), from, groupThousands(amount*rate), to, from, rate, to, ratesAsOf)
	return edit(ctx, client, ref, text+d.footer())
}
