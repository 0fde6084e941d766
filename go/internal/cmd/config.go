package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/pointing/go/internal/docstore/backend"
	"github.com/mcdev12/pointing/go/internal/session"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Store backend.Config `yaml:"store"`

	Session struct {
		Collection    string        `yaml:"collection"`
		TTL           time.Duration `yaml:"ttl"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"session"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
}

func defaultConfig() *Config {
	config := &Config{}
	config.Store.Backend = backend.Memory
	config.Session.Collection = session.DefaultCollection
	config.Session.TTL = session.DefaultTTL
	config.Server.Port = "8080"
	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring malformed duration")
	}
	return defaultValue
}

// loadConfig reads the yaml file at path over the defaults, then applies env
// overrides. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Str("path", path).Msg("config file not found, using defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Store.ApplyEnv()
	config.Session.Collection = getEnv("SESSION_COLLECTION", config.Session.Collection)
	config.Session.TTL = getEnvAsDuration("SESSION_TTL", config.Session.TTL)
	config.Session.SweepInterval = getEnvAsDuration("SWEEP_INTERVAL", config.Session.SweepInterval)
	if port := getEnvAsInt("PORT", 0); port > 0 {
		config.Server.Port = strconv.Itoa(port)
	}

	if config.Session.TTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", config.Session.TTL)
	}
	return config, nil
}
