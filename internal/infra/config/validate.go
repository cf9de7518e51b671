package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateBot(cfg, ve)
	validateWhatsApp(cfg, ve)
	validatePlugins(cfg, ve)
	validateScheduler(cfg, ve)
	validateAPIs(cfg, ve)
	validateObservability(cfg, ve)
	if cfg.Supervisor.RestartDelay < 0 {
		ve.Add("supervisor.restart_delay must be >= 0")
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateBot(cfg *Config, ve *ValidationError) {
	if cfg.Bot.Prefix == "" {
		ve.Add("bot.prefix is required")
	} else if strings.TrimSpace(cfg.Bot.Prefix) != cfg.Bot.Prefix {
		ve.Add("bot.prefix %q must not contain leading or trailing whitespace", cfg.Bot.Prefix)
	}
	if cfg.Bot.Name == "" {
		ve.Add("bot.name is required")
	}
	if cfg.Bot.CommandCooldown < 0 {
		ve.Add("bot.command_cooldown must be >= 0")
	}
	for i, o := range cfg.Bot.Owners {
		if strings.TrimSpace(o) == "" {
			ve.Add("bot.owners[%d] is empty", i)
		}
	}
}

func validateWhatsApp(cfg *Config, ve *ValidationError) {
	if cfg.WhatsApp.SessionDB == "" {
		ve.Add("whatsapp.session_db is required")
	}
	if cfg.WhatsApp.ReconnectDelay <= 0 {
		ve.Add("whatsapp.reconnect_delay must be > 0")
	}
	switch strings.ToLower(cfg.WhatsApp.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		ve.Add("whatsapp.log_level %q is invalid (want debug, info, warn or error)", cfg.WhatsApp.LogLevel)
	}
}

func validatePlugins(cfg *Config, ve *ValidationError) {
	if cfg.Plugins.Dir == "" {
		ve.Add("plugins.dir is required")
	}
	if cfg.Plugins.WASMMaxMemoryMB <= 0 || cfg.Plugins.WASMMaxMemoryMB > 4096 {
		ve.Add("plugins.wasm_max_memory_mb must be between 1 and 4096")
	}
	if cfg.Plugins.WASMExecTimeout <= 0 {
		ve.Add("plugins.wasm_exec_timeout must be > 0")
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if cfg.Scheduler.ScratchDir == "" {
		ve.Add("scheduler.scratch_dir is required")
	}
	if cfg.Scheduler.ScratchTTL <= 0 {
		ve.Add("scheduler.scratch_ttl must be > 0")
	}
	if cfg.Scheduler.CleanupSchedule == "" {
		ve.Add("scheduler.cleanup_schedule is required")
	} else if d, err := time.ParseDuration(cfg.Scheduler.CleanupSchedule); err == nil && d <= 0 {
		ve.Add("scheduler.cleanup_schedule duration must be > 0")
	}
}

func validateAPIs(cfg *Config, ve *ValidationError) {
	if cfg.APIs.HTTPTimeout <= 0 {
		ve.Add("apis.http_timeout must be > 0")
	}
	if cfg.APIs.BreakerMaxFailures == 0 {
		ve.Add("apis.breaker_max_failures must be > 0")
	}
	if cfg.APIs.BreakerTimeout <= 0 {
		ve.Add("apis.breaker_timeout must be > 0")
	}
	if cfg.APIs.WeatherAPIKey != "" && cfg.APIs.WeatherBaseURL == "" {
		ve.Add("apis.weather_base_url is required when weather_api_key is set")
	}
	if strings.HasPrefix(cfg.APIs.WeatherAPIKey, EncryptedPrefix) {
		ve.Add("apis.weather_api_key is encrypted but LOTUS_CONFIG_KEY is not set")
	}
}

func validateObservability(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "error":
	default:
		ve.Add("logger.level %q is invalid (want debug, info, warn or error)", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want text or json)", cfg.Logger.Format)
	}
	if cfg.Logger.Output == "" {
		ve.Add("logger.output is required")
	}
	if cfg.Tracer.Enabled {
		switch cfg.Tracer.Exporter {
		case "noop", "stdout":
		default:
			ve.Add("tracer.exporter %q is invalid (want noop or stdout)", cfg.Tracer.Exporter)
		}
	}
}
