package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lotus-md/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Bot        BotConfig        `yaml:"bot"`
	WhatsApp   WhatsAppConfig   `yaml:"whatsapp"`
	Plugins    PluginsConfig    `yaml:"plugins"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	APIs       APIsConfig       `yaml:"apis"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
}

// BotConfig holds chat-facing behavior.
type BotConfig struct {
	Name            string        `yaml:"name"`
	Prefix          string        `yaml:"prefix"`
	Owners          []string      `yaml:"owners"` // phone numbers or full JIDs
	AutoRead        bool          `yaml:"auto_read"`
	AutoTyping      bool          `yaml:"auto_typing"`
	AntiSpam        bool          `yaml:"anti_spam"`
	CommandCooldown time.Duration `yaml:"command_cooldown"`
	GroupModeOnly   bool          `yaml:"group_mode_only"`
	ErrorReply      bool          `yaml:"error_reply"`
	Footer          string        `yaml:"footer"`
}

// WhatsAppConfig holds session and connection settings.
type WhatsAppConfig struct {
	SessionDB      string        `yaml:"session_db"` // sqlite file holding device credentials
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	QRTerminal     bool          `yaml:"qr_terminal"`
	LogLevel       string        `yaml:"log_level"` // whatsmeow library log level
}

// PluginsConfig holds plugin directory and WASM sandbox defaults.
type PluginsConfig struct {
	Dir             string        `yaml:"dir"`
	WASMMaxMemoryMB int           `yaml:"wasm_max_memory_mb"` // default for manifests that omit it
	WASMExecTimeout time.Duration `yaml:"wasm_exec_timeout"`

	// Capability gates applied to every WASM manifest. An empty allow list
	// permits any known capability.
	AllowCapabilities []string `yaml:"allow_capabilities"`
	DenyCapabilities  []string `yaml:"deny_capabilities"`
}

// SchedulerConfig holds timer and housekeeping settings.
type SchedulerConfig struct {
	ScratchDir      string        `yaml:"scratch_dir"`
	ScratchTTL      time.Duration `yaml:"scratch_ttl"`
	CleanupSchedule string        `yaml:"cleanup_schedule"` // cron expression or duration
}

// SupervisorConfig holds `lotus supervise` settings.
type SupervisorConfig struct {
	RestartDelay time.Duration `yaml:"restart_delay"`
}

// APIsConfig holds keys and client settings for HTTP-backed commands.
type APIsConfig struct {
	WeatherAPIKey      string        `yaml:"weather_api_key"`
	WeatherBaseURL     string        `yaml:"weather_base_url"`
	HTTPTimeout        time.Duration `yaml:"http_timeout"`
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns $HOME/.lotus, or ./data when $HOME is unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".lotus")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Bot: BotConfig{
			Name:            "Lotus MD",
			Prefix:          ".",
			AutoRead:        true,
			AutoTyping:      true,
			AntiSpam:        true,
			CommandCooldown: 3 * time.Second,
			ErrorReply:      true,
			Footer:          "Powered by Lotus MD",
		},
		WhatsApp: WhatsAppConfig{
			SessionDB:      filepath.Join(dataDir, "session.db"),
			ReconnectDelay: 3 * time.Second,
			QRTerminal:     true,
			LogLevel:       "warn",
		},
		Plugins: PluginsConfig{
			Dir:             "./plugins",
			WASMMaxMemoryMB: 64,
			WASMExecTimeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			ScratchDir:      filepath.Join(os.TempDir(), "lotus"),
			ScratchTTL:      time.Hour,
			CleanupSchedule: "30m",
		},
		Supervisor: SupervisorConfig{
			RestartDelay: 2 * time.Second,
		},
		APIs: APIsConfig{
			WeatherBaseURL:     "https://api.weatherapi.com/v1",
			HTTPTimeout:        10 * time.Second,
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, decrypts secrets
// and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: read config: %v", domain.ErrConfigLoad, err)
		}
	} else {
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config: %v", domain.ErrConfigLoad, err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("LOTUS_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps LOTUS_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOTUS_BOT_NAME"); v != "" {
		cfg.Bot.Name = v
	}
	if v := os.Getenv("LOTUS_BOT_PREFIX"); v != "" {
		cfg.Bot.Prefix = v
	}
	if v := os.Getenv("LOTUS_BOT_OWNERS"); v != "" {
		cfg.Bot.Owners = splitAndTrim(v, ",")
	}
	if v := os.Getenv("LOTUS_BOT_GROUP_MODE_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Bot.GroupModeOnly = b
		}
	}
	if v := os.Getenv("LOTUS_BOT_COMMAND_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bot.CommandCooldown = d
		}
	}
	if v := os.Getenv("LOTUS_WHATSAPP_SESSION_DB"); v != "" {
		cfg.WhatsApp.SessionDB = v
	}
	if v := os.Getenv("LOTUS_PLUGINS_DIR"); v != "" {
		cfg.Plugins.Dir = v
	}
	if v := os.Getenv("LOTUS_WEATHER_API_KEY"); v != "" {
		cfg.APIs.WeatherAPIKey = v
	}
	if v := os.Getenv("LOTUS_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LOTUS_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("LOTUS_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("LOTUS_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// splitAndTrim splits s by sep, trims each element and drops empty ones.
func splitAndTrim(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
