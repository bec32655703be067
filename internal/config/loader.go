package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with precedence: defaults < config file < env vars.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	l.setupViper()

	if err := l.loadConfigFile(); err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) setupViper() {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "treechat"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "treechat"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("TREECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"logging.level",
		"logging.format",
		"store.backend",
		"store.redis_addr",
		"store.redis_db",
		"store.gateway_url",
		"identity.id",
		"identity.name",
		"identity.email",
		"identity.avatar",
		"identity.guest",
	} {
		// BindEnv only fails on empty input
		_ = v.BindEnv(key)
	}
}

func (l *Loader) loadConfigFile() error {
	// An explicitly specified file must exist; a missing file on the search
	// path just means defaults and env apply.
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		return l.v.ReadInConfig()
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}
