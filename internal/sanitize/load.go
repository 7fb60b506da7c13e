// ABOUTME: Reads the host gateway's configuration file as a generic object
// ABOUTME: JSON (comments and trailing commas allowed), YAML and TOML are chosen by extension

package sanitize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Source yields the host's current configuration.
type Source func(ctx context.Context) (map[string]any, error)

// FileSource re-reads path on every call so each sync sees the live file.
func FileSource(path string) Source {
	return func(ctx context.Context) (map[string]any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return LoadHostConfig(path)
	}
}

// StaticSource always returns cfg.
func StaticSource(cfg map[string]any) Source {
	return func(context.Context) (map[string]any, error) {
		return cfg, nil
	}
}

// LoadHostConfig parses the file at path. A leading ~ expands to the home directory.
func LoadHostConfig(path string) (map[string]any, error) {
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading host config: %w", err)
	}

	cfg, err := ParseHostConfig(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseHostConfig decodes data according to ext (".json", ".json5", ".yaml", ".yml", ".toml").
// Unknown extensions are parsed as JSON.
func ParseHostConfig(data []byte, ext string) (map[string]any, error) {
	cfg := map[string]any{}

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
		// Round-trip through JSON so numbers and nested maps match the JSON shape.
		return normalize(cfg)
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parsing toml: %w", err)
		}
		return normalize(cfg)
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
		return cfg, nil
	}
}

func normalize(cfg map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("normalizing config: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalizing config: %w", err)
	}
	return out, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
