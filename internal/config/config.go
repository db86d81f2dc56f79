// Package config loads the runtime configuration: worker pool sizing, task
// splitting bounds, and output locations. Values come from an optional TOML
// file merged over defaults.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/stratasim/stratasim/internal/exe"
	"github.com/stratasim/stratasim/internal/graph"
)

// Config is the runtime configuration.
type Config struct {
	Slots           int      `toml:"slots"`
	MaxSplits       int      `toml:"max_splits"`
	MinVectorSize   int      `toml:"min_vector_size"`
	SplittableKinds []string `toml:"splittable_kinds"`
	Iterations      int      `toml:"iterations"`
	OutputPrefix    string   `toml:"output_prefix"`
	DBPath          string   `toml:"db_path"`
	GraphDump       string   `toml:"graph_dump"` // dot file path; empty disables the dump
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Slots:           1,
		MaxSplits:       1,
		MinVectorSize:   exe.DefaultMinVectorSize,
		SplittableKinds: []string{graph.KindAgentFunction.String()},
		Iterations:      1,
		OutputPrefix:    "pop_",
	}
}

// Load reads a TOML file over the defaults. An empty path returns the
// defaults; a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration constraints.
func (c *Config) Validate() error {
	if c.Slots < 1 {
		return fmt.Errorf("%w: slots must be > 0", exe.ErrInvalidArgument)
	}
	if c.MaxSplits < 1 {
		return fmt.Errorf("%w: max_splits must be > 0", exe.ErrInvalidArgument)
	}
	if c.MinVectorSize < 1 {
		return fmt.Errorf("%w: min_vector_size must be > 0", exe.ErrInvalidArgument)
	}
	if c.Iterations < 1 {
		return fmt.Errorf("%w: iterations must be > 0", exe.ErrInvalidArgument)
	}
	if _, err := c.splittable(); err != nil {
		return err
	}
	return nil
}

func (c *Config) splittable() (map[graph.Kind]bool, error) {
	kinds := make(map[graph.Kind]bool, len(c.SplittableKinds))
	for _, name := range c.SplittableKinds {
		k, ok := graph.KindFromString(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown splittable kind %q", exe.ErrInvalidArgument, name)
		}
		kinds[k] = true
	}
	return kinds, nil
}

// QueueOptions converts the configuration into queue options. Validate must
// have passed.
func (c *Config) QueueOptions() exe.Options {
	kinds, _ := c.splittable()
	return exe.Options{
		Slots:         c.Slots,
		MaxSplits:     c.MaxSplits,
		MinVectorSize: c.MinVectorSize,
		Splittable:    kinds,
	}
}
