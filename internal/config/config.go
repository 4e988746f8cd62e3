// Package config loads methodtrace settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"methodtrace/internal/logging"
	"methodtrace/internal/metadata"
)

// Config is the whole configuration file.
type Config struct {
	Metadata Metadata `toml:"metadata"`
	Generate Generate `toml:"generate"`
	Log      Log      `toml:"log"`
	Trace    Trace    `toml:"trace"`
}

// Metadata says where compiled metadata comes from.
type Metadata struct {
	// Path of a local .winmd file. When empty, fetch downloads one.
	Path    string `toml:"path"`
	Package string `toml:"package"`
	Index   string `toml:"index"`
}

// Generate configures trampoline source generation.
type Generate struct {
	PackageName string `toml:"package_name"`
	Output      string `toml:"output"` // directory of the generated package
	Force       bool   `toml:"force"`
}

// Log configures logging.
type Log struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// Trace selects the hook sinks of instrumented calls.
type Trace struct {
	Spans     bool `toml:"spans"`
	SlowCalls bool `toml:"slow_calls"`
	Report    bool `toml:"report"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Metadata: Metadata{
			Package: metadata.DefaultMetadataPackage,
			Index:   metadata.DefaultNugetIndex,
		},
		Generate: Generate{
			PackageName: "trampolines",
			Output:      "trampolines",
		},
		Log: Log{
			Level:  "info",
			Pretty: true,
		},
		Trace: Trace{
			SlowCalls: true,
			Report:    true,
		},
	}
}

// Parse decodes input on top of the defaults. Unknown keys are an error.
func Parse(input string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(input, &cfg)
	if err != nil {
		return Config{}, err
	}
	if unknown := md.Undecoded(); len(unknown) != 0 {
		return Config{}, fmt.Errorf("unknown keys %v", unknown)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	input, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(string(input))
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values the decoder cannot.
func (c Config) Validate() error {
	var errs []error
	if c.Generate.PackageName == "" {
		errs = append(errs, errors.New("generate.package_name is empty"))
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not a level", c.Log.Level))
	}
	if c.Metadata.Path == "" && c.Metadata.Package == "" {
		errs = append(errs, errors.New("one of metadata.path and metadata.package is required"))
	}
	return errors.Join(errs...)
}

// Logging converts the log section for the logging package.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Pretty = c.Log.Pretty
	return cfg
}
