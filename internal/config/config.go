package config

import (
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const configFileName = "uploader"

// Config holds the configuration options for the upload engine.
type Config struct {
	MaxConcurrentUploads int           `yaml:"maxConcurrentUploads,omitempty"`
	MetadataDir          string        `yaml:"metadataDir,omitempty"`
	MaxRetries           int           `yaml:"maxRetries,omitempty"`
	RetryDelay           time.Duration `yaml:"retryDelay,omitempty"`

	// ParallelRemoteIO allows tasks to issue remote operations concurrently.
	// Leave it off unless the remote backend provides an independent channel
	// per task; a single multiplexed session must stay serialized.
	ParallelRemoteIO bool `yaml:"parallelRemoteIO,omitempty"`
}

// MetadataDBPath returns the resume record database location.
func (c *Config) MetadataDBPath() string {
	return filepath.Join(c.MetadataDir, "uploader.db")
}

// GetConfig reads the configuration file and returns a Config struct.
// If the configuration file does not exist, it returns the default configuration.
func GetConfig() (*Config, error) {
	configFilePath := filepath.Join(xdg.ConfigHome, configFileName)
	defaults := DefaultConfig()

	b, err := os.ReadFile(configFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &defaults, nil
		}

		return nil, err
	}

	if len(b) == 0 {
		return &defaults, nil
	}

	var cfg Config

	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return nil, err
	}

	return &Config{
		MaxConcurrentUploads: zeroOr(cfg.MaxConcurrentUploads, defaults.MaxConcurrentUploads),
		MetadataDir:          zeroOr(cfg.MetadataDir, defaults.MetadataDir),
		MaxRetries:           zeroOr(cfg.MaxRetries, defaults.MaxRetries),
		RetryDelay:           zeroOr(cfg.RetryDelay, defaults.RetryDelay),
		ParallelRemoteIO:     cfg.ParallelRemoteIO,
	}, nil
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}
