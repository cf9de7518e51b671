package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"lotus-md/internal/adapter/command"
	"lotus-md/internal/adapter/httpclient"
	"lotus-md/internal/adapter/whatsapp"
	"lotus-md/internal/domain"
	"lotus-md/internal/infra/config"
	"lotus-md/internal/infra/logger"
	"lotus-md/internal/infra/tracer"
	"lotus-md/internal/plugin"
	"lotus-md/internal/plugin/wasm"
	usecmd "lotus-md/internal/usecase/command"
	"lotus-md/internal/usecase/eventbus"
	"lotus-md/internal/usecase/lifecycle"
	"lotus-md/internal/usecase/membership"
	"lotus-md/internal/usecase/scheduling"
	"lotus-md/internal/usecase/supervisor"
)

// cooldownIdle is how long a sender stays in the cooldown table after their
// last command.
const cooldownIdle = 10 * time.Minute

// run wires the bot and blocks until ctx is done, the session ends or a
// command asks for an exit. It returns the process exit code.
func run(ctx context.Context, cfgPath string) (int, error) {
	started := time.Now()

	// 1. Config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return 1, fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return 1, fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return 1, fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.WithoutCancel(ctx))

	printBanner(os.Stdout)
	log.Info("starting", "name", cfg.Bot.Name, "version", version, "config", cfgPath)

	// 3. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 4. WhatsApp transport
	transport, err := whatsapp.Open(ctx, whatsapp.Options{
		SessionDB:  cfg.WhatsApp.SessionDB,
		QRTerminal: cfg.WhatsApp.QRTerminal,
		AutoRead:   cfg.Bot.AutoRead,
		LogLevel:   cfg.WhatsApp.LogLevel,
		QROutput:   os.Stdout,
	}, log)
	if err != nil {
		return 1, fmt.Errorf("whatsapp: %w", err)
	}
	defer transport.Close()
	client := transport.Client()
	if !transport.Paired() {
		log.Info("no paired device, scan the QR code to log in", "session_db", cfg.WhatsApp.SessionDB)
	}

	// 5. Dispatcher
	registry := plugin.NewRegistry()
	dispatcher := usecmd.NewDispatcher(registry, client, bus, usecmd.Options{
		Prefix:        cfg.Bot.Prefix,
		Owners:        cfg.Bot.Owners,
		GroupModeOnly: cfg.Bot.GroupModeOnly,
		AntiSpam:      cfg.Bot.AntiSpam,
		Cooldown:      cfg.Bot.CommandCooldown,
		AutoTyping:    cfg.Bot.AutoTyping,
		ErrorReply:    cfg.Bot.ErrorReply,
	}, log)

	// 6. Scheduler & timers
	sched := scheduling.NewScheduler(log)
	if err := sched.AddTask("scratch-cleanup", cfg.Scheduler.CleanupSchedule,
		scheduling.ScratchCleanupTask(cfg.Scheduler.ScratchDir, cfg.Scheduler.ScratchTTL, log)); err != nil {
		return 1, fmt.Errorf("scheduler: %w", err)
	}
	if err := sched.AddTask("cooldown-prune", "5m", func(context.Context) error {
		if n := dispatcher.PruneCooldowns(cooldownIdle); n > 0 {
			log.Debug("pruned cooldowns", "count", n)
		}
		return nil
	}); err != nil {
		return 1, fmt.Errorf("scheduler: %w", err)
	}
	timers := scheduling.NewTimers(sched, bus, log)

	// 7. Plugins
	exitCh := make(chan int, 1)
	catalog := plugin.NewCatalog()
	loader := plugin.NewLoader(catalog, bus, loaderConfig(cfg), log)
	manager := plugin.NewManager(loader, registry, cfg.Plugins.Dir, bus, log)
	defer manager.Close()

	if err := command.Register(catalog, command.Deps{
		BotName:        cfg.Bot.Name,
		Version:        version,
		Footer:         cfg.Bot.Footer,
		Owners:         cfg.Bot.Owners,
		Started:        started,
		Plugins:        registry,
		Stats:          dispatcher.Stats(),
		Reloader:       manager,
		Timers:         timers,
		Exit:           requestExit(exitCh),
		Weather:        weatherClient(cfg.APIs, log),
		WeatherAPIKey:  cfg.APIs.WeatherAPIKey,
		WeatherBaseURL: cfg.APIs.WeatherBaseURL,
		Logger:         log,
	}); err != nil {
		return 1, fmt.Errorf("handlers: %w", err)
	}

	// 8. Group greeter
	unsubscribe := membership.NewGreeter(client, log).Attach(bus)
	defer unsubscribe()

	// 9. Connection lifecycle
	conn := lifecycle.New(transport, bus, lifecycle.Hooks{
		OnConnected: connectedHook(manager, os.Stdout, cfg, log),
		OnMessage: func(ctx context.Context, msg domain.InboundMessage) {
			dispatcher.Dispatch(ctx, msg)
		},
	}, lifecycle.Options{ReconnectDelay: cfg.WhatsApp.ReconnectDelay}, log)

	if err := sched.Start(ctx); err != nil {
		return 1, fmt.Errorf("scheduler: %w", err)
	}
	defer sched.Stop()

	if err := conn.Start(ctx); err != nil {
		if errors.Is(err, domain.ErrLoggedOut) {
			return supervisor.ExitLoggedOut, loggedOutError(cfg)
		}
		return 1, fmt.Errorf("connect: %w", err)
	}

	code := supervisor.ExitOK
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down", "reason", context.Cause(ctx))
	case code = <-exitCh:
		log.Info("exit requested", "code", code)
	case <-conn.Done():
		code = supervisor.ExitLoggedOut
		runErr = loggedOutError(cfg)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	timers.CancelPrefix("")
	if err := conn.Stop(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
	log.Info("stopped", "uptime", time.Since(started).Round(time.Second))
	return code, runErr
}

// connectedHook loads the plugin directory on every transition to
// CONNECTED, so a reconnect starts from a fresh registry.
func connectedHook(manager *plugin.Manager, w io.Writer, cfg *config.Config, log *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		n, err := manager.LoadAll(ctx)
		if err != nil {
			return fmt.Errorf("load plugins: %w", err)
		}
		log.Info("Lotus MD Connected!", "plugins", n, "dir", cfg.Plugins.Dir)
		printOnline(w, cfg.Bot.Name, cfg.Bot.Prefix, n)
		return nil
	}
}

func loggedOutError(cfg *config.Config) error {
	return fmt.Errorf("%w: remove %s and pair again", domain.ErrLoggedOut, cfg.WhatsApp.SessionDB)
}

func loaderConfig(cfg *config.Config) plugin.LoaderConfig {
	return plugin.LoaderConfig{
		Limits: wasm.Limits{
			MaxMemoryMB: cfg.Plugins.WASMMaxMemoryMB,
			ExecTimeout: cfg.Plugins.WASMExecTimeout,
		},
		AllowCapabilities: cfg.Plugins.AllowCapabilities,
		DenyCapabilities:  cfg.Plugins.DenyCapabilities,
	}
}

func weatherClient(cfg config.APIsConfig, log *slog.Logger) *httpclient.Client {
	return httpclient.New("weather", httpclient.Config{
		Timeout:     cfg.HTTPTimeout,
		MaxFailures: cfg.BreakerMaxFailures,
		OpenTimeout: cfg.BreakerTimeout,
	}, log)
}

// requestExit returns a command.Deps Exit func. Only the first request wins.
func requestExit(ch chan<- int) func(code int) {
	return func(code int) {
		select {
		case ch <- code:
		default:
		}
	}
}
