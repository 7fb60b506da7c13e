// ABOUTME: Offline subcommands: check validates the setup, sanitize previews what a config sync uploads
// ABOUTME: init writes a starter config file from interactive prompts

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/agentlens/internal/config"
	"github.com/2389/agentlens/internal/sanitize"
)

func runCheck(args []string) error {
	flagSet, configPath := newFlagSet("check")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	green.Printf("  ✓ Config:     %s\n", *configPath)
	green.Printf("  ✓ Credential: %s\n", maskKey(cfg.Collector.APIKey))
	fmt.Printf("    Collector:  %s (timeout %s)\n", cfg.Collector.Endpoint, cfg.Collector.RequestTimeout)
	fmt.Printf("    Agent:      %s (%s)\n", cfg.Agent.Name, cfg.Agent.Type)
	fmt.Printf("    Sync:       every %s, %d registration attempts\n", cfg.Sync.Interval, cfg.Sync.MaxRegisterAttempts)

	if cfg.Host.ConfigPath == "" {
		yellow.Println("  ! host.config_path not set; syncs will carry gateway stats only")
		return nil
	}

	hostCfg, err := sanitize.LoadHostConfig(cfg.Host.ConfigPath)
	if err != nil {
		yellow.Printf("  ! Host config: %v\n", err)
		return nil
	}
	projected := sanitize.New(cfg.Sanitize.ExtraSecretKeys).Sanitize(hostCfg)
	sections := make([]string, 0, len(projected))
	for k := range projected {
		sections = append(sections, k)
	}
	sort.Strings(sections)
	green.Printf("  ✓ Host config: %s (%s)\n", cfg.Host.ConfigPath, strings.Join(sections, ", "))
	return nil
}

// maskKey keeps the prefix and the last four characters.
func maskKey(key string) string {
	if len(key) <= len(config.APIKeyPrefix)+4 {
		return config.APIKeyPrefix + "****"
	}
	return config.APIKeyPrefix + "****" + key[len(key)-4:]
}

func runSanitize(args []string) error {
	flagSet, configPath := newFlagSet("sanitize")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: agentlens sanitize [--config PATH] FILE")
	}

	// Extra secret keys come from our own config when it is readable.
	var extra []string
	if data, err := os.ReadFile(*configPath); err == nil {
		if cfg, err := config.Parse(data); err == nil {
			extra = cfg.Sanitize.ExtraSecretKeys
		}
	}

	hostCfg, err := sanitize.LoadHostConfig(flagSet.Arg(0))
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, sanitize.New(extra).Sanitize(hostCfg))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runInit(args []string) error {
	flagSet, configPath := newFlagSet("init")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	return writeInitConfig(bufio.NewReader(os.Stdin), os.Stdout, *configPath)
}

func writeInitConfig(reader *bufio.Reader, out io.Writer, defaultPath string) error {
	fmt.Fprintln(out, "agentlens configuration setup")
	fmt.Fprintln(out, "=============================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", defaultPath)
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Collector ---")
	endpoint := prompt(reader, out, "Collector endpoint", "https://collector.example.com/api/v1")
	apiKey := prompt(reader, out, "API key (leave empty to read ${AGENTLENS_API_KEY})", "")
	if apiKey == "" {
		apiKey = "${AGENTLENS_API_KEY}"
	} else if err := config.ValidateAPIKey(apiKey); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Agent ---")
	hostname, _ := os.Hostname()
	name := prompt(reader, out, "Agent name", hostname)
	workspace := prompt(reader, out, "Workspace", "")
	hostConfig := prompt(reader, out, "Host config path", "~/.openclaw/openclaw.json")

	fmt.Fprintln(out, "\n--- Logging ---")
	logLevel := prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, out, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# agentlens configuration\n")
	cfg.WriteString("# Generated by agentlens init\n\n")

	cfg.WriteString("collector:\n")
	cfg.WriteString(fmt.Sprintf("  endpoint: %q\n", endpoint))
	cfg.WriteString(fmt.Sprintf("  api_key: %q\n", apiKey))
	cfg.WriteString("  request_timeout: \"10s\"\n\n")

	cfg.WriteString("agent:\n")
	cfg.WriteString(fmt.Sprintf("  name: %q\n", name))
	cfg.WriteString(fmt.Sprintf("  type: %q\n", config.DefaultAgentType))
	if workspace != "" {
		cfg.WriteString(fmt.Sprintf("  workspace: %q\n", workspace))
	}
	cfg.WriteString("\n")

	cfg.WriteString("sync:\n")
	cfg.WriteString("  interval: \"24h\"\n")
	cfg.WriteString("  max_register_attempts: 3\n\n")

	cfg.WriteString("host:\n")
	cfg.WriteString(fmt.Sprintf("  config_path: %q\n\n", hostConfig))

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo verify it:")
	fmt.Fprintln(out, "  agentlens check")
	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
