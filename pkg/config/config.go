// Package config loads and saves the memsift configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".memsift"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through
// the config file.
type Config struct {
	// Command aliases for the terminal.
	Aliases map[string][]string `yaml:"aliases"`

	// DefaultType is the value type selected at session start:
	// "int32", "int64" or "str".
	DefaultType string `yaml:"default-type"`

	// StringWindow is the number of bytes read around every string
	// match.
	StringWindow int `yaml:"string-window"`

	// Policy selects which regions scans visit: "writable" (default)
	// or "readable".
	Policy string `yaml:"region-policy"`

	// ChunkSize bounds the size of a single region read during first
	// scans. Zero uses the engine default.
	ChunkSize int `yaml:"chunk-size"`

	// ScanWorkers bounds how many regions are scanned concurrently.
	ScanWorkers int `yaml:"scan-workers"`
}

// LoadConfig attempts to populate a Config object from the config.yml
// file. Any failure degrades to the defaults rather than aborting;
// configuration is never load-bearing.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create config directory: %v.\n", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return &Config{}
	}

	data, err := os.ReadFile(fullConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			if err := writeDefaultConfig(fullConfigFile); err != nil {
				fmt.Fprintf(os.Stderr, "Error creating default config file: %v\n", err)
			}
		}
		return &Config{}
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to decode config file: %v.\n", err)
		return &Config{}
	}
	return &c
}

// SaveConfig will marshal and save the config struct to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}
	return os.WriteFile(fullConfigFile, out, 0644)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configDir, file), nil
}

func createConfigPath() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(home, configDir), 0700)
}

func writeDefaultConfig(path string) error {
	return os.WriteFile(path, []byte(`# Configuration file for memsift.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provides custom aliases for terminal commands.
# aliases:
#   next: ["n"]

# Value type selected when a session starts: int32, int64 or str.
# default-type: int32

# Bytes read around every string match.
# string-window: 16

# Regions visited by scans: writable or readable.
# region-policy: writable

# Upper bound on the size of a single region read, in bytes.
# chunk-size: 65536

# How many regions a first scan reads concurrently.
# scan-workers: 1
`), 0644)
}
