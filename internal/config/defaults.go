package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	maxConcurrentUploads = 3
	maxRetries           = 3
	retryDelay           = 2 * time.Second
)

var metadataDir = filepath.Join(xdg.DataHome, configFileName)

func DefaultConfig() Config {
	return Config{
		MaxConcurrentUploads: maxConcurrentUploads,
		MetadataDir:          metadataDir,
		MaxRetries:           maxRetries,
		RetryDelay:           retryDelay,
		ParallelRemoteIO:     false,
	}
}
