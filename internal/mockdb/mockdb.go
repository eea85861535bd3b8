// Package mockdb supplies the static patient database the store is seeded with.
package mockdb

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed seed.json
var defaultSeed []byte

var (
	// ErrUnsupportedFormat indicates a fixture file whose extension is neither JSON nor YAML.
	ErrUnsupportedFormat = errors.New("mockdb: unsupported fixture format")
	// ErrInvalidFixture indicates a fixture whose top level does not match the database shape.
	ErrInvalidFixture = errors.New("mockdb: invalid fixture")
)

// topLevel lists the slices every seed carries, with the empty value used when a fixture omits one.
var topLevel = map[string]func() any{
	"patients":    func() any { return map[string]any{} },
	"schedules":   func() any { return []any{} },
	"departments": func() any { return []any{} },
	"locations":   func() any { return []any{} },
	"providers":   func() any { return []any{} },
	"lists":       func() any { return []any{} },
	"flowsheets":  func() any { return []any{} },
}

// Default returns a fresh copy of the embedded seed.
func Default() (map[string]any, error) {
	return decodeJSON(defaultSeed)
}

// Load reads a fixture file. An empty path yields the embedded seed.
func Load(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mockdb: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return decodeJSON(data)
	case ".yaml", ".yml":
		return decodeYAML(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func decodeJSON(data []byte) (map[string]any, error) {
	var seed map[string]any
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	return withDefaults(seed)
}

func decodeYAML(data []byte) (map[string]any, error) {
	var seed map[string]any
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	return withDefaults(seed)
}

func withDefaults(seed map[string]any) (map[string]any, error) {
	if seed == nil {
		seed = map[string]any{}
	}
	for name, empty := range topLevel {
		value, ok := seed[name]
		if !ok || value == nil {
			seed[name] = empty()
			continue
		}
		if err := checkShape(name, value); err != nil {
			return nil, err
		}
	}
	return seed, nil
}

func checkShape(name string, value any) error {
	if name == "patients" {
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("%w: %s must be an object keyed by patient id", ErrInvalidFixture, name)
		}
		return nil
	}
	if _, ok := value.([]any); !ok {
		return fmt.Errorf("%w: %s must be a list", ErrInvalidFixture, name)
	}
	return nil
}
