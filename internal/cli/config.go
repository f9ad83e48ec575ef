package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultConfigPath is consulted when no --config flag is given; it is not
// an error for it to be absent.
const defaultConfigPath = ".stride.yaml"

// Config holds per-project defaults, merged under explicit flags.
type Config struct {
	// Verbose is a verbosity flag-character spec applied before any -v
	// flag.
	Verbose string `yaml:"verbose"`

	// Method is the default trace backend.
	Method string `yaml:"method"`

	// Jobs is the worker pool size used by the self-test's concurrency
	// scenario (default 3).
	Jobs int `yaml:"jobs"`

	// MaxLoadAverage gates task submission in the self-test's concurrency
	// scenario; zero disables the gate.
	MaxLoadAverage float64 `yaml:"max_load_average"`

	// KeepGoing keeps scheduling after a failure.
	KeepGoing bool `yaml:"keep_going"`
}

// LoadConfig reads a Config from path. When explicit is false, a missing
// file yields the zero Config; when the user named the file themselves its
// absence is an error.
func LoadConfig(path string, explicit bool) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
