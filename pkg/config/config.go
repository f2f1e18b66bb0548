// Package config provides YAML-based configuration loading with environment
// variable expansion and overrides.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Option customizes Load.
type Option func(*loadOptions)

type loadOptions struct {
	envPrefix string
	skipEnv   bool
}

// WithEnvPrefix prefixes every `env` tag, e.g. "PLOTWEAVE_".
func WithEnvPrefix(prefix string) Option {
	return func(o *loadOptions) { o.envPrefix = prefix }
}

// WithoutEnv disables environment overrides.
func WithoutEnv() Option {
	return func(o *loadOptions) { o.skipEnv = true }
}

// Load loads configuration from a YAML file with environment variable
// expansion, applies `env` tag overrides and validates the result.
func Load[T any](filename string, target *T, opts ...Option) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	expandedData := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expandedData), target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	return finish(target, opts)
}

// LoadEnv applies environment overrides and validation without a file.
func LoadEnv[T any](target *T, opts ...Option) error {
	return finish(target, opts)
}

func finish[T any](target *T, opts []Option) error {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !o.skipEnv {
		if err := ParseEnv(target, o.envPrefix); err != nil {
			return err
		}
	}

	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	return nil
}

// ParseEnv overrides fields of target from environment variables named by
// their `env` tags. Unset variables leave the field untouched.
func ParseEnv(target any, prefix string) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadWithDefaults loads configuration with fallback to a default file.
// Without either file, target keeps its defaults and only environment
// overrides apply.
func LoadWithDefaults[T any](filename, defaultFile string, target *T, opts ...Option) error {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		if defaultFile != "" {
			if _, err := os.Stat(defaultFile); err == nil {
				return Load(defaultFile, target, opts...)
			}
		}
		return LoadEnv(target, opts...)
	}
	return Load(filename, target, opts...)
}

// MustLoad loads configuration and panics on failure.
func MustLoad[T any](filename string, target *T, opts ...Option) {
	if err := Load(filename, target, opts...); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
}
