package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Overlay holds settings that are awkward to express as single environment
// variables (lists, nested retry ladders). Nothing in this module applies
// an Overlay: the GetEnv* helpers and the LoadConfig functions read only
// the environment and their built-in defaults.
type Overlay struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
		AllowedMethods []string `yaml:"allowed_methods"`
		AllowedHeaders []string `yaml:"allowed_headers"`
	} `yaml:"cors"`

	Retry struct {
		ParseAttempts    int      `yaml:"parse_attempts"`
		ParseDelays      []string `yaml:"parse_delays"`
		InsertAttempts   int      `yaml:"insert_attempts"`
		InsertDelays     []string `yaml:"insert_delays"`
		InsertOverflow   string   `yaml:"insert_overflow_delay"`
	} `yaml:"retry"`

	Paths struct {
		ServerPath string `yaml:"server_path"`
		BasePath   string `yaml:"base_path"`
	} `yaml:"paths"`
}

// LoadOverlay reads an optional YAML overlay file. A missing file is not an
// error: it yields an empty Overlay.
func LoadOverlay(path string) (*Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Overlay{}, nil
		}

		return nil, err
	}

	var overlay Overlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, err
	}

	return &overlay, nil
}
