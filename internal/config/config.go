// Package config loads the process-start tunables of the fls tool.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/fiberlocal/pkg/fls"
)

var (
	// ErrConfigInvalid indicates a config file could not be parsed or holds
	// out-of-range values.
	ErrConfigInvalid = errors.New("invalid config")

	// ErrConfigFileNotFound indicates an explicitly requested config file
	// does not exist.
	ErrConfigFileNotFound = errors.New("config file not found")
)

// Config holds all configuration options.
type Config struct {
	// LocalCapacity is the per-worker free list bound of table pools.
	LocalCapacity int `json:"local_capacity"` //nolint:tagliatelle // snake_case for config file

	// BorrowBatch is how many tables move between a worker's list and the
	// global list at once.
	BorrowBatch int `json:"borrow_batch"` //nolint:tagliatelle // snake_case for config file

	// Workers is the number of scheduler worker threads.
	Workers int `json:"workers"`
}

// fileConfig mirrors Config with pointers so explicit zeros are caught.
type fileConfig struct {
	LocalCapacity *int `json:"local_capacity"` //nolint:tagliatelle // snake_case for config file
	BorrowBatch   *int `json:"borrow_batch"`   //nolint:tagliatelle // snake_case for config file
	Workers       *int `json:"workers"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // path to global config if loaded, empty otherwise
	Project string // path to project or explicit config if loaded, empty otherwise
}

// FileName is the default project config file name.
const FileName = ".fls.json"

// Built-in pool defaults, matching fls before any SetDefaultPoolOptions.
const (
	DefaultLocalCapacity = 4000
	DefaultBorrowBatch   = 100
)

// Default returns the default configuration.
func Default() Config {
	return Config{
		LocalCapacity: DefaultLocalCapacity,
		BorrowBatch:   DefaultBorrowBatch,
		Workers:       runtime.GOMAXPROCS(0),
	}
}

// PoolOptions converts the pool tunables of cfg.
func (c Config) PoolOptions() fls.PoolOptions {
	return fls.PoolOptions{LocalCapacity: c.LocalCapacity, BorrowBatch: c.BorrowBatch}
}

// Overrides are values set on the command line. Zero fields are unset.
type Overrides struct {
	LocalCapacity int
	BorrowBatch   int
	Workers       int
}

// globalPath returns $XDG_CONFIG_HOME/fls/config.json, falling back to
// ~/.config/fls/config.json. Returns "" if neither can be determined.
func globalPath(env map[string]string) string {
	xdg := os.Getenv("XDG_CONFIG_HOME")
	if env != nil {
		xdg = env["XDG_CONFIG_HOME"]
	}

	if xdg != "" {
		return filepath.Join(xdg, "fls", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "fls", "config.json")
	}

	return ""
}

// Load resolves the configuration with the following precedence (highest
// wins):
//  1. Defaults
//  2. Global user config ($XDG_CONFIG_HOME/fls/config.json)
//  3. Project config file .fls.json in workDir, if present
//  4. Explicit config file via configPath, if non-empty (replaces 3)
//  5. Command line overrides
//
// env, when non-nil, replaces the process environment for XDG_CONFIG_HOME.
func Load(workDir, configPath string, overrides Overrides, env map[string]string) (Config, Sources, error) {
	cfg := Default()

	var sources Sources

	if path := globalPath(env); path != "" {
		fc, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, Sources{}, err
		}

		if loaded {
			sources.Global = path
			cfg = merge(cfg, fc)
		}
	}

	path := filepath.Join(workDir, FileName)
	mustExist := false

	if configPath != "" {
		path = configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		mustExist = true

		_, statErr := os.Stat(path)
		if statErr != nil {
			return Config{}, Sources{}, fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	}

	fc, loaded, err := loadFile(path, mustExist)
	if err != nil {
		return Config{}, Sources{}, err
	}

	if loaded {
		sources.Project = path
		cfg = merge(cfg, fc)
	}

	if overrides.LocalCapacity != 0 {
		cfg.LocalCapacity = overrides.LocalCapacity
	}

	if overrides.BorrowBatch != 0 {
		cfg.BorrowBatch = overrides.BorrowBatch
	}

	if overrides.Workers != 0 {
		cfg.Workers = overrides.Workers
	}

	err = validate(cfg)
	if err != nil {
		return Config{}, Sources{}, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	return cfg, sources, nil
}

func loadFile(path string, mustExist bool) (fileConfig, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return fileConfig{}, false, nil
		}

		return fileConfig{}, false, fmt.Errorf("read config %s: %w", path, err)
	}

	fc, err := parse(data)
	if err != nil {
		return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return fc, true, nil
}

func parse(data []byte) (fileConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc fileConfig

	err = json.Unmarshal(standardized, &fc)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	err = validateFile(fc)
	if err != nil {
		return fileConfig{}, err
	}

	return fc, nil
}

func validateFile(fc fileConfig) error {
	for _, f := range []struct {
		name string
		v    *int
	}{
		{"local_capacity", fc.LocalCapacity},
		{"borrow_batch", fc.BorrowBatch},
		{"workers", fc.Workers},
	} {
		if f.v != nil && *f.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", f.name, *f.v)
		}
	}

	return nil
}

func merge(base Config, overlay fileConfig) Config {
	if overlay.LocalCapacity != nil {
		base.LocalCapacity = *overlay.LocalCapacity
	}

	if overlay.BorrowBatch != nil {
		base.BorrowBatch = *overlay.BorrowBatch
	}

	if overlay.Workers != nil {
		base.Workers = *overlay.Workers
	}

	return base
}

func validate(cfg Config) error {
	switch {
	case cfg.LocalCapacity <= 0:
		return fmt.Errorf("local_capacity must be positive, got %d", cfg.LocalCapacity)
	case cfg.BorrowBatch <= 0:
		return fmt.Errorf("borrow_batch must be positive, got %d", cfg.BorrowBatch)
	case cfg.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}

	return nil
}

// Format returns the config as indented JSON.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format config: %w", err)
	}

	return string(data), nil
}
