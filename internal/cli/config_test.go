package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingDefaultFileIsFine(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), ".stride.yaml"), false)
	require.NoError(t, err)
	require.Equal(t, Config{}, cfg)
}

func TestLoadConfig_MissingExplicitFileIsAnError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), true)
	require.Error(t, err)
}

func TestLoadConfig_ParsesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	content := "" +
		"verbose: cdr\n" +
		"method: preload\n" +
		"jobs: 5\n" +
		"max_load_average: 2.5\n" +
		"keep_going: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	require.Equal(t, Config{
		Verbose:        "cdr",
		Method:         "preload",
		Jobs:           5,
		MaxLoadAverage: 2.5,
		KeepGoing:      true,
	}, cfg)
}

func TestLoadConfig_RejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jobs: [not a number\n"), 0o644))

	_, err := LoadConfig(path, true)
	require.Error(t, err)
}
