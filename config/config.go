// Package config loads the application configuration from a yaml file with
// DABUBBLE_ environment overrides.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/dabubble/common/errors"
	"github.com/spf13/viper"
)

//go:embed default.yaml
var defaultConfig []byte

const (
	DriverMemory    = "memory"
	DriverMongo     = "mongo"
	DriverFirestore = "firestore"

	envPrefix = "DABUBBLE"
)

type Config struct {
	Log struct {
		Level string `mapstructure:"level"`
		JSON  bool   `mapstructure:"json"`
	} `mapstructure:"log"`

	Store struct {
		Driver string `mapstructure:"driver"`
		Mongo  struct {
			URI      string        `mapstructure:"uri"`
			Database string        `mapstructure:"database"`
			Direct   bool          `mapstructure:"direct"`
			Timeout  time.Duration `mapstructure:"timeout"`
		} `mapstructure:"mongo"`
		Firestore struct {
			ProjectID       string `mapstructure:"projectId"`
			CredentialsFile string `mapstructure:"credentialsFile"`
		} `mapstructure:"firestore"`
	} `mapstructure:"store"`

	Redis struct {
		Addresses  []string `mapstructure:"addresses"`
		Username   string   `mapstructure:"username"`
		Password   string   `mapstructure:"password"`
		MasterName string   `mapstructure:"masterName"`
		Database   int      `mapstructure:"database"`
		Sentinel   bool     `mapstructure:"sentinel"`
	} `mapstructure:"redis"`

	RMQ struct {
		URI         string  `mapstructure:"uri"`
		Queue       string  `mapstructure:"queue"`
		Prefetch    int     `mapstructure:"prefetch"`
		MaxAttempts int     `mapstructure:"maxAttempts"`
		RetryRate   float64 `mapstructure:"retryRate"`
	} `mapstructure:"rmq"`

	Presence struct {
		Enabled   bool          `mapstructure:"enabled"`
		TTL       time.Duration `mapstructure:"ttl"`
		KeepAlive time.Duration `mapstructure:"keepAlive"`
		Resync    time.Duration `mapstructure:"resync"`
		Prefixes  []string      `mapstructure:"prefixes"`
	} `mapstructure:"presence"`

	Session struct {
		Path   string        `mapstructure:"path"`
		Secret string        `mapstructure:"secret"`
		TTL    time.Duration `mapstructure:"ttl"`
	} `mapstructure:"session"`

	Channels struct {
		DefaultID          string `mapstructure:"defaultId"`
		DefaultName        string `mapstructure:"defaultName"`
		DefaultDescription string `mapstructure:"defaultDescription"`
	} `mapstructure:"channels"`

	Fanout struct {
		BatchSize int `mapstructure:"batchSize"`
	} `mapstructure:"fanout"`
}

// DefaultPath is the config file location under the XDG config home.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "dabubble", "dabubble.yaml")
}

// Load reads the embedded defaults, then file if it exists, then the environment.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader(defaultConfig)); err != nil {
		return nil, fmt.Errorf("default config: %w", err)
	}

	if file != "" {
		if _, err := os.Stat(file); err == nil {
			v.SetConfigFile(file)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("config file %s: %w", file, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverMongo, DriverFirestore:
	default:
		return fmt.Errorf("%w: %q", errors.ErrUnknownDriver, c.Store.Driver)
	}
	if c.Fanout.BatchSize <= 0 {
		return fmt.Errorf("fanout.batchSize must be positive")
	}
	return nil
}

// WriteDefault writes the embedded defaults to file unless it already exists.
func WriteDefault(file string) error {
	if _, err := os.Stat(file); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
		return err
	}
	return os.WriteFile(file, defaultConfig, 0o600)
}
