package vmconn

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = 22
	defaultConnectTimeout = 10 * time.Second
)

// Config holds the connection parameters for one remote host.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	User string `mapstructure:"user"`

	// KeyPath points at a PEM-encoded private key on disk. A leading ~/
	// is expanded against the current user's home directory.
	KeyPath string `mapstructure:"key_path"`

	// KeyData is in-memory key material and takes precedence over
	// KeyPath when both are set.
	KeyData []byte `mapstructure:"-"`

	// ConnectTimeout bounds the TCP dial and the SSH handshake.
	// Defaults to 10s.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoadFile reads a Config from a YAML file and validates it.
func LoadFile(path string) (*Config, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
}

// Validate checks that the configuration is complete enough to open a
// session. Key material is required; password authentication is not
// supported.
func (c *Config) Validate() error {
	if c.Host == "" {
		return &ConfigError{Reason: "host cannot be empty"}
	}
	if c.User == "" {
		return &ConfigError{Reason: "user cannot be empty"}
	}
	if c.KeyPath == "" && len(c.KeyData) == 0 {
		return &ConfigError{Reason: "private key is required for key-based authentication"}
	}
	return nil
}

// expandHome resolves a leading ~/ in path.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
