// Package config loads client configuration from the environment.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the client's runtime configuration. Flags may override fields
// after Load.
type Config struct {
	// BaseURL is the API root, including the version prefix.
	BaseURL string `env:"APPHUB_BASE_URL,default=http://localhost:8000/api/v1"`
	// Timeout bounds every HTTP round trip.
	Timeout time.Duration `env:"APPHUB_TIMEOUT,default=30s"`
	// ConfigDir holds the refresh-token vault. Defaults to the XDG config dir.
	ConfigDir string `env:"APPHUB_CONFIG_DIR"`
	// Debug enables development logging.
	Debug bool `env:"APPHUB_DEBUG,default=false"`
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = defaultConfigDir()
	}
	return cfg, nil
}

func defaultConfigDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "apphub")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "apphub")
}
