// Package config loads the driver configuration from TOML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// FileName is the configuration file the driver looks for by default.
const FileName = "tysila.toml"

// Config is the driver configuration.
type Config struct {
	Target string `toml:"target"`
	// Convention is the calling convention of compiled methods that do not
	// name one. Empty means the target default.
	Convention string `toml:"convention"`
	// Registers limits the number of allocatable registers; 0 means all.
	Registers int `toml:"registers"`
	// Workers is the number of methods compiled concurrently.
	Workers int    `toml:"workers"`
	Passes  Passes `toml:"passes"`
	Log     Log    `toml:"log"`
}

// Passes switches optional pipeline stages.
type Passes struct {
	// PromoteLocals renames locals and written arguments into SSA values.
	PromoteLocals       bool `toml:"promote_locals"`
	ConstantPropagation bool `toml:"constant_propagation"`
	DeadCodeElimination bool `toml:"dead_code_elimination"`
	// Validate runs the SSA and allocation checks.
	Validate bool `toml:"validate"`
	// Encode assembles the finished code into bytes.
	Encode bool `toml:"encode"`
}

// Log configures the logger.
type Log struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Target:  "x86",
		Workers: 4,
		Passes: Passes{
			PromoteLocals:       true,
			ConstantPropagation: true,
			DeadCodeElimination: true,
			Encode:              true,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse parses data on top of the defaults and validates the result.
// Unknown keys are an error.
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("failed to parse config file: %s", strict.String())
		}
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the values that do not depend on the target.
func (c *Config) Validate() error {
	switch {
	case c.Target == "":
		return errors.New("target must be set")
	case c.Registers < 0:
		return fmt.Errorf("registers must not be negative, got %d", c.Registers)
	case c.Workers < 1:
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if _, err := tysilaapi.NewLogger(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Debug returns the debug switches selected by c.
func (c *Config) Debug() tysilaapi.Debug {
	return tysilaapi.Debug{ValidateSSA: c.Passes.Validate, ValidateRegAlloc: c.Passes.Validate}
}

// Marshal returns c as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
