package config

import (
	"os"
	"path/filepath"
)

// ConfigEnv names the environment variable overriding the config path.
const ConfigEnv = "TOOLBT_CONFIG"

// GetConfigPath returns $TOOLBT_CONFIG, or ~/.toolbt/config.
func GetConfigPath() (string, error) {
	if p := os.Getenv(ConfigEnv); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".toolbt", "config"), nil
}
