package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DEFAULT []byte

func decode(config *Config, name string, data []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	err := decoder.Decode(config)
	// an empty file leaves the config as it was
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("could not decode %s: %w", name, err)
	}
	return nil
}

func readFile(config *Config, path string) error {
	// Check if this is a valid file
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("does not exist")
	}

	switch filepath.Ext(path) {
	// JSON is a subset of YAML, one decoder handles both
	case ".json", ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return decode(config, path, data)
	}

	return fmt.Errorf(
		"not in a valid format",
	)
}

// Process starts from the default configuration and overlays the provided
// configuration files in order, so later files win. Only the keys present in
// a file are changed.
func Process(configPaths []string) (*Config, error) {
	config := Config{}

	if err := decode(&config, "<default>", DEFAULT); err != nil {
		return nil, fmt.Errorf(
			"invalid default config file: %v",
			err,
		)
	}

	for _, path := range configPaths {
		err := readFile(&config, path)
		if err != nil {
			return nil, fmt.Errorf(
				"could not process config file %s: %v",
				path,
				err,
			)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	game := c.Server.Game

	if game.MinPlayers < 1 {
		return fmt.Errorf("game.minPlayers must be at least 1")
	}
	if game.TickInterval <= 0 {
		return fmt.Errorf("game.tickInterval must be positive")
	}
	if game.TimeStep <= 0 {
		return fmt.Errorf("game.timeStep must be positive")
	}
	if game.GameOverDelay <= 0 {
		return fmt.Errorf("game.gameOverDelay must be positive")
	}
	if game.Warmup.Enabled && game.Warmup.Interval <= 0 {
		return fmt.Errorf("game.warmup.interval must be positive")
	}
	if game.Warmup.MaxRetries < 0 {
		return fmt.Errorf("game.warmup.maxRetries must not be negative")
	}

	ingress := c.Server.Ingress
	if ingress.Web.Port <= 0 || ingress.Web.Port > 65535 {
		return fmt.Errorf("invalid web port %d", ingress.Web.Port)
	}
	if ingress.SendBuffer <= 0 {
		return fmt.Errorf("ingress.sendBuffer must be positive")
	}

	switch c.Server.Store.Type {
	case StoreTypeNone, StoreTypeRedis:
	case StoreTypeSQLite:
		if c.Server.Store.DBPath == "" {
			return fmt.Errorf("store.dbPath is required for sqlite")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Server.Store.Type)
	}

	return nil
}
