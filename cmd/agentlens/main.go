// ABOUTME: Entry point for agentlens, the telemetry shim for agent gateways
// ABOUTME: Dispatches the serve, check, sanitize, init and version subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
                        _   _
  __ _  __ _  ___ _ __ | |_| | ___ _ __  ___
 / _' |/ _' |/ _ \ '_ \| __| |/ _ \ '_ \/ __|
| (_| | (_| |  __/ | | | |_| |  __/ | | \__ \
 \__,_|\__, |\___|_| |_|\__|_|\___|_| |_|___/
       |___/
`

// getConfigPath returns the path to the agentlens config file.
// Priority: AGENTLENS_CONFIG env var > XDG_CONFIG_HOME/agentlens/config.yaml > ~/.config/agentlens/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("AGENTLENS_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "agentlens.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "agentlens", "config.yaml")
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: agentlens <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve            Relay host hooks read from stdin to the collector")
	fmt.Fprintln(os.Stderr, "  check            Validate the config and credential")
	fmt.Fprintln(os.Stderr, "  sanitize FILE    Print the sanitized projection of a host config file")
	fmt.Fprintln(os.Stderr, "  init             Create a new config file interactively")
	fmt.Fprintln(os.Stderr, "  version          Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "check":
		err = runCheck(args)
	case "sanitize":
		err = runSanitize(args)
	case "init":
		err = runInit(args)
	case "version", "--version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet builds a subcommand flag set with the shared --config flag.
func newFlagSet(name string) (*pflag.FlagSet, *string) {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", getConfigPath(), "path to the agentlens config file")
	return flagSet, configPath
}
