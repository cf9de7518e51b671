package main

import (
	"fmt"
	"io"
	"os"

	"lotus-md/internal/infra/config"
)

func runConfig(args []string) error {
	if len(args) == 0 {
		printConfigUsage()
		return nil
	}

	switch args[0] {
	case "encrypt":
		if len(args) < 2 {
			return fmt.Errorf("usage: lotus config encrypt <value>")
		}
		return runConfigEncrypt(os.Stdout, args[1], os.Getenv("LOTUS_CONFIG_KEY"))
	default:
		return fmt.Errorf("unknown config subcommand: %s\n\nRun 'lotus config' for usage", args[0])
	}
}

func printConfigUsage() {
	fmt.Println(`lotus config - Config tools

USAGE:
    lotus config <COMMAND>

COMMANDS:
    encrypt <value>    Encrypt a secret with $LOTUS_CONFIG_KEY and print the
                       "enc:" value to paste into config.yaml`)
}

func runConfigEncrypt(w io.Writer, value, passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("LOTUS_CONFIG_KEY is not set")
	}
	if value == "" {
		return fmt.Errorf("nothing to encrypt")
	}
	enc, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	fmt.Fprintln(w, config.EncryptedPrefix+enc)
	return nil
}
