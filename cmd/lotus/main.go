package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"lotus-md/internal/infra/config"
	"lotus-md/internal/usecase/supervisor"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	args := commandArgs(os.Args[1:])

	if len(args) == 0 {
		os.Exit(runCommand())
	}

	switch args[0] {
	case "--help", "-h", "help":
		showUsage()
	case "run":
		os.Exit(runCommand())
	case "supervise":
		if err := runSupervise(); err != nil {
			fmt.Fprintf(os.Stderr, "supervise: %v\n", err)
			os.Exit(1)
		}
	case "plugin":
		if err := runPlugin(args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "plugin: %v\n", err)
			os.Exit(1)
		}
	case "config":
		if err := runConfig(args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Println("lotus", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'lotus --help' for usage information.\n", args[0])
		os.Exit(1)
	}
}

// runCommand runs the bot in the foreground and returns the process exit code.
func runCommand() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	code, err := run(ctx, configPath())
	return exitStatus(os.Stderr, code, err)
}

// exitStatus reports err and picks the process exit code. A failure never
// exits 0, but a specific code from run is kept.
func exitStatus(w io.Writer, code int, err error) int {
	if err == nil {
		return code
	}
	fmt.Fprintf(w, "fatal: %v\n", err)
	if code == supervisor.ExitOK {
		return 1
	}
	return code
}

func showUsage() {
	fmt.Println(`lotus - Lotus MD WhatsApp bot

USAGE:
    lotus [COMMAND] [FLAGS]

COMMANDS:
    run         Run the bot in the foreground (default)
    supervise   Run the bot under a supervisor that restarts it on crash
                or on request; SIGHUP forces a restart
    plugin      Plugin tools
                Subcommands: list, validate <file>
    config      Config tools
                Subcommands: encrypt <value>
    version     Print the version

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml, or $LOTUS_CONFIG
    Environment: LOTUS_* variables override config
    Secrets:     "enc:" values are decrypted with $LOTUS_CONFIG_KEY

EXIT CODES:
    0    clean shutdown
    1    startup failure or crash ('lotus supervise' restarts it)
    75   restart requested (handled by 'lotus supervise')
    78   session logged out; pair again and start manually
         ('lotus supervise' stops instead of restarting)

EXAMPLES:
    lotus                              # Run with ./config.yaml
    lotus supervise --config bot.yaml  # Run supervised
    lotus plugin validate plugins/ping.yaml
    LOTUS_CONFIG_KEY=secret lotus config encrypt my-api-key`)
}

// commandArgs drops --config and its value so subcommands see only their own
// arguments.
func commandArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config":
			i++
		case strings.HasPrefix(args[i], "--config="):
		default:
			out = append(out, args[i])
		}
	}
	return out
}

func configPath() string {
	return configPathFrom(os.Args[1:])
}

func configPathFrom(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("LOTUS_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
