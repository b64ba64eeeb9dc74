package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"
)

// Format is the on-disk syntax of a config file, picked by extension.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// toJSON re-encodes YAML and TOML documents as JSON so all formats go
// through the same strict decoder.
func toJSON(f Format, data []byte) ([]byte, error) {
	var v any
	switch f {
	case FormatJSON:
		return data, nil
	case FormatYAML:
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		v = stringKeys(v)
	case FormatTOML:
		m := map[string]any{}
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("toml: %w", err)
		}
		v = m
	default:
		return nil, fmt.Errorf("unsupported config format %q", f)
	}
	if v == nil {
		// Empty document: keep every default.
		return []byte("{}"), nil
	}
	j, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s->json: %w", f, err)
	}
	return j, nil
}

// stringKeys rewrites map[any]any nodes, which JSON cannot encode.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}
