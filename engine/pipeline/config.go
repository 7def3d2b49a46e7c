// Package pipeline drives data compilation: it scans a source tree for
// asset descriptors, compiles each one through its registered type handler,
// tracks dependencies in a build database for incremental rebuilds, and can
// watch the tree and recompile on change.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"
)

// ToolchainConfig mirrors the [toolchain] table of datac.toml.
type ToolchainConfig struct {
	Dirs    []string `toml:"dirs"`
	Variant string   `toml:"variant"`
}

// Config mirrors datac.toml. Zero values mean "use the default".
type Config struct {
	SourceDir string          `toml:"source-dir"`
	DataDir   string          `toml:"data-dir"`
	Platform  string          `toml:"platform"`
	Jobs      int             `toml:"jobs"`
	Toolchain ToolchainConfig `toml:"toolchain"`
}

// DefaultConfig returns the configuration used when no datac.toml exists.
func DefaultConfig() *Config {
	return &Config{
		SourceDir: ".",
		DataDir:   "data",
		Platform:  runtime.GOOS,
	}
}

// LoadConfig reads a datac.toml file and applies defaults. Relative
// source/data/toolchain directories are resolved against the directory the
// config file lives in, so invoking the tool from elsewhere still finds the
// same trees.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: cannot read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("pipeline: cannot parse config %s: %w", path, err)
	}
	base := filepath.Dir(path)
	cfg.SourceDir = resolveDir(base, cfg.SourceDir)
	cfg.DataDir = resolveDir(base, cfg.DataDir)
	for i, d := range cfg.Toolchain.Dirs {
		cfg.Toolchain.Dirs[i] = resolveDir(base, d)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values no run can work with.
// Platform strings are open, any name is accepted.
func (c *Config) Validate() error {
	if c.SourceDir == "" {
		return fmt.Errorf("pipeline: source-dir is empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("pipeline: data-dir is empty")
	}
	if c.Platform == "" {
		return fmt.Errorf("pipeline: platform is empty")
	}
	if c.Jobs < 0 {
		return fmt.Errorf("pipeline: jobs is %d, want >= 0", c.Jobs)
	}
	switch c.Toolchain.Variant {
	case "", "debug", "development", "release":
	default:
		return fmt.Errorf("pipeline: unknown toolchain variant %q", c.Toolchain.Variant)
	}
	return nil
}

// Workers returns the worker count a run should use: the configured jobs
// value, or GOMAXPROCS when it is zero.
func (c *Config) Workers() int {
	if c.Jobs > 0 {
		return c.Jobs
	}
	return runtime.GOMAXPROCS(0)
}

func resolveDir(base, dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(base, dir)
}
