package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"lotus-md/internal/adapter/command"
	"lotus-md/internal/domain"
	"lotus-md/internal/infra/config"
	"lotus-md/internal/infra/logger"
	"lotus-md/internal/plugin"
	"lotus-md/internal/usecase/eventbus"
)

func runPlugin(args []string) error {
	if len(args) == 0 {
		printPluginUsage()
		return nil
	}

	switch args[0] {
	case "list":
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runPluginList(os.Stdout, cfg)
	case "validate":
		if len(args) < 2 {
			return fmt.Errorf("usage: lotus plugin validate <file>")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runPluginValidate(os.Stdout, cfg, args[1])
	default:
		return fmt.Errorf("unknown plugin subcommand: %s\n\nRun 'lotus plugin' for usage", args[0])
	}
}

func printPluginUsage() {
	fmt.Println(`lotus plugin - Plugin tools

USAGE:
    lotus plugin <COMMAND>

COMMANDS:
    list               List the plugins in the configured plugin directory
    validate <file>    Validate one plugin manifest`)
}

// offlineCatalog registers the builtin handlers without a connection.
// Handlers are never invoked.
func offlineCatalog(cfg *config.Config) (*plugin.Catalog, error) {
	catalog := plugin.NewCatalog()
	if err := command.Register(catalog, command.Deps{
		BotName: cfg.Bot.Name,
		Logger:  logger.Discard(),
	}); err != nil {
		return nil, err
	}
	return catalog, nil
}

func offlineLoader(cfg *config.Config) (*plugin.Loader, *plugin.Catalog, func(), error) {
	catalog, err := offlineCatalog(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	bus := eventbus.New(logger.Discard())
	return plugin.NewLoader(catalog, bus, loaderConfig(cfg), logger.Discard()), catalog, bus.Close, nil
}

func runPluginList(w io.Writer, cfg *config.Config) error {
	loader, _, closeBus, err := offlineLoader(cfg)
	if err != nil {
		return err
	}
	defer closeBus()

	descs, err := loader.Load(context.Background(), cfg.Plugins.Dir)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	defer func() {
		for _, d := range descs {
			_ = d.Close()
		}
	}()

	if len(descs) == 0 {
		fmt.Fprintf(w, "No plugins found in %s.\n", cfg.Plugins.Dir)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tCATEGORY\tCOMMANDS\tSOURCE")
	for _, d := range descs {
		category := d.Category()
		if category == "" {
			category = "-"
		}
		cmds := "-"
		if len(d.Commands()) > 0 {
			cmds = strings.Join(d.Commands(), ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Name(), d.Kind, category, cmds, d.Source)
	}
	return tw.Flush()
}

func runPluginValidate(w io.Writer, cfg *config.Config, path string) error {
	loader, catalog, closeBus, err := offlineLoader(cfg)
	if err != nil {
		return err
	}
	defer closeBus()

	desc, err := loader.LoadFile(context.Background(), path)
	if err != nil {
		fmt.Fprintf(w, "FAIL: %v\n", err)
		if errors.Is(err, domain.ErrNoHandler) {
			fmt.Fprintf(w, "  builtin handlers: %s\n", strings.Join(catalog.Keys(), ", "))
		}
		return fmt.Errorf("validation failed")
	}
	defer desc.Close()

	if len(desc.Commands()) == 0 {
		fmt.Fprintln(w, "WARN: plugin declares no commands and will never run")
	}
	if desc.Kind == domain.PluginKindWASM {
		fmt.Fprintln(w, "PASS: WASM binary compiles successfully")
		if caps := desc.Manifest.WASM.Capabilities; len(caps) > 0 {
			fmt.Fprintf(w, "PASS: capabilities valid: %v\n", caps)
		}
	}
	fmt.Fprintf(w, "PASS: plugin %q (%s) handles %s\n", desc.Name(), desc.Kind, formatCommands(desc.Commands()))
	return nil
}

func formatCommands(cmds []string) string {
	if len(cmds) == 0 {
		return "no commands"
	}
	return strings.Join(cmds, ", ")
}
