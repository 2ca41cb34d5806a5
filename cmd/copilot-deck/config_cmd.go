package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/config"
)

func handleConfig(args []string) {
	if len(args) == 0 {
		printConfigHelp()
		os.Exit(1)
	}

	switch args[0] {
	case "path":
		fmt.Println(config.Path())
	case "show":
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (showing defaults)\n", err)
		}
		if err := writeTOML(os.Stdout, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "init":
		fs := flag.NewFlagSet("config init", flag.ExitOnError)
		force := fs.Bool("force", false, "Overwrite an existing config file")
		_ = fs.Parse(normalizeArgs(fs, args[1:]))
		path, err := initConfigFile(config.Path(), *force)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", path)
	case "help", "--help", "-h":
		printConfigHelp()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown config command %q\n\n", args[0])
		printConfigHelp()
		os.Exit(1)
	}
}

func printConfigHelp() {
	fmt.Println("Usage: copilot-deck config <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  path            Print the config file location")
	fmt.Println("  show            Print the effective configuration")
	fmt.Println("  init [--force]  Write a config file with the defaults")
}

// initConfigFile writes the defaults to path unless a file is already there.
func initConfigFile(path string, force bool) (string, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(path, config.Default()); err != nil {
		return "", err
	}
	return path, nil
}

func writeTOML(w io.Writer, cfg *config.Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
