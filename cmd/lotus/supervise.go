package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lotus-md/internal/infra/logger"
	"lotus-md/internal/usecase/supervisor"
)

// runSupervise re-executes this binary with "run" and keeps it alive until
// it exits cleanly. SIGHUP restarts the child at once.
func runSupervise() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	printBanner(os.Stdout)

	starter := supervisor.NewExecStarter(self, childArgs(configPath())...)
	sup := supervisor.New(starter, supervisor.Options{RestartDelay: cfg.Supervisor.RestartDelay}, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				sup.Reset()
			case <-ctx.Done():
				return
			}
		}
	}()

	err = sup.Run(ctx)
	log.Info("supervisor stopped", "restarts", sup.Restarts())
	return err
}

// childArgs builds the child's argument list, pinning the config path the
// supervisor resolved.
func childArgs(cfgPath string) []string {
	return []string{"run", "--config", cfgPath}
}
