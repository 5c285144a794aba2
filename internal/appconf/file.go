package appconf

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

// JSONConfig mirrors the command-line flags in a config file, so deployments
// can ship a single JSON document instead of a flag soup.
type JSONConfig struct {
	Port      int      `json:"port" validate:"gte=0,lte=65535"`
	Env       string   `json:"env" validate:"omitempty,oneof=development test production"`
	ApiKeys   []string `json:"api-keys"`
	Verbose   bool     `json:"verbose"`
	RateLimit int      `json:"rate-limit" validate:"gte=0"`

	UpstreamURL     string `json:"upstream-url" validate:"omitempty,url"`
	UpstreamKey     string `json:"upstream-key"`
	FreshTTLSeconds int    `json:"fresh-ttl-seconds" validate:"gte=0"`
	StaleTTLSeconds int    `json:"stale-ttl-seconds" validate:"gte=0"`

	StationsGtfsURL string `json:"stations-gtfs-url"`
	StationsDBPath  string `json:"stations-db-path"`
}

// LoadFromFile reads and validates a JSON config file.
func LoadFromFile(path string) (*JSONConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg JSONConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ToAppConfig converts the file representation into a server Config.
func (j *JSONConfig) ToAppConfig() Config {
	return Config{
		Port:      j.Port,
		Env:       EnvFlagToEnvironment(j.Env),
		ApiKeys:   j.ApiKeys,
		Verbose:   j.Verbose,
		RateLimit: j.RateLimit,
	}
}

// FreshTTL returns the configured fresh window, or zero when unset.
func (j *JSONConfig) FreshTTL() time.Duration {
	return time.Duration(j.FreshTTLSeconds) * time.Second
}

// StaleTTL returns the configured stale-but-usable window, or zero when unset.
func (j *JSONConfig) StaleTTL() time.Duration {
	return time.Duration(j.StaleTTLSeconds) * time.Second
}
