// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/taskflow/scheduler/resilience"
)

// Config holds coordinator configuration.
//
// Description:
//
//	Loaded once at construction and immutable afterwards. Per-task settings
//	(timeout, retry budget, scope) override the batch-level defaults here.
type Config struct {
	// MaxWorkers bounds concurrent tasks within a wave.
	MaxWorkers int `json:"max_workers" yaml:"max_workers" validate:"gte=0"`

	// MaxWaves is a safety cap on the wave loop. A plan that would need
	// more waves fails the batch with ErrMaxWavesExceeded.
	MaxWaves int `json:"max_waves" yaml:"max_waves" validate:"gte=0"`

	// CriticalPriority is the priority at or above which a terminal task
	// failure is reported as a critical failure.
	CriticalPriority int `json:"critical_priority" yaml:"critical_priority"`

	// DefaultTimeout bounds a single task attempt when the TaskSpec does
	// not set its own.
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout" validate:"gte=0"`

	// Retry is the default retry policy for tasks that do not override it.
	Retry resilience.Policy `json:"retry" yaml:"retry"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:       8,
		MaxWaves:         1000,
		CriticalPriority: 100,
		DefaultTimeout:   60 * time.Second,
		Retry:            resilience.DefaultPolicy(),
	}
}

// Normalize fills unset values with defaults and returns the result. The
// retry policy keeps explicit zero values for its budget and jitter; see
// resilience.Policy.Normalize.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = def.MaxWorkers
	}
	if c.MaxWaves <= 0 {
		c.MaxWaves = def.MaxWaves
	}
	if c.CriticalPriority <= 0 {
		c.CriticalPriority = def.CriticalPriority
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = def.DefaultTimeout
	}
	c.Retry = c.Retry.Normalize()
	return c
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LoadConfig reads and validates a YAML configuration file.
//
// Description:
//
//	The file is decoded over DefaultConfig, so keys absent from the file
//	keep their defaults while explicit values (including an explicit
//	max_retries: 0 or jitter_fraction: 0) are honored as written.
//
// Inputs:
//
//	path - Path to the YAML file.
//
// Outputs:
//
//	Config - The normalized configuration.
//	error - Wrapped ErrInvalidConfig on read, parse, or validation failure.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfig, path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}

	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
