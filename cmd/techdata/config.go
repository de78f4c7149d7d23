// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration, loaded from a YAML file.
type Config struct {
	// CachePath is the directory of the durable local cache.
	// Default: ~/.techdata/cache
	CachePath string `yaml:"cache_path"`

	// RemoteURL is the base URL of the remote persistence service.
	RemoteURL string `yaml:"remote_url"`

	// AuthToken is the bearer token for the remote service, if any.
	AuthToken string `yaml:"auth_token"`

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level"`
}

// loadConfig reads the YAML config file, falling back to defaults when
// the file does not exist.
func loadConfig(path string) (Config, error) {
	cfg := Config{LogLevel: "info"}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.CachePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.CachePath = filepath.Join(home, ".techdata", "cache")
	}
	return cfg, nil
}
