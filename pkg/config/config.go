// Package config resolves the runtime configuration from defaults, an
// optional config.yaml in the .agentprobe/ directory, and AGENTPROBE_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentprobe/agentprobe/pkg/dotdir"
)

const (
	dbFileName     = "agentprobe.db"
	logFileName    = "agentprobe.log"
	caCertFileName = "agentprobe-ca-cert.pem"
	caKeyFileName  = "agentprobe-ca-key.pem"
)

// Config is the resolved runtime configuration.
type Config struct {
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Web     WebConfig     `mapstructure:"web"`
	Storage StorageConfig `mapstructure:"storage"`
	Capture CaptureConfig `mapstructure:"capture"`
}

// ProxyConfig holds the intercepting proxy settings.
type ProxyConfig struct {
	// Listen is the proxy's bind address. Loopback by default; the proxy
	// re-signs TLS, so exposing it beyond localhost is a deliberate act.
	Listen string `mapstructure:"listen"`
}

// WebConfig holds the API and WebSocket server settings.
type WebConfig struct {
	Listen string `mapstructure:"listen"`
}

// StorageConfig locates the data directory and database.
type StorageConfig struct {
	// DataDir is the .agentprobe/ directory. Empty means resolve via
	// dotdir precedence (local dir, then home).
	DataDir string `mapstructure:"data_dir"`
}

// CaptureConfig tunes the capture pipeline.
type CaptureConfig struct {
	// MaxBodySize caps persisted request/response bodies in bytes.
	// Zero or less disables the cap.
	MaxBodySize int `mapstructure:"max_body_size"`
}

// DBPath returns the SQLite database path inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, dbFileName)
}

// LogPath returns the JSON log file path inside the data directory.
func (c *Config) LogPath() string {
	return filepath.Join(c.Storage.DataDir, logFileName)
}

// CACertPath returns the CA certificate path inside the data directory.
func (c *Config) CACertPath() string {
	return filepath.Join(c.Storage.DataDir, caCertFileName)
}

// CAKeyPath returns the CA private key path inside the data directory.
func (c *Config) CAKeyPath() string {
	return filepath.Join(c.Storage.DataDir, caKeyFileName)
}

// Load resolves the full configuration. dataDirOverride, when non-empty,
// pins the data directory; AGENTPROBE_DATA_DIR does the same from the
// environment, and dotdir resolution covers the rest.
func Load(dataDirOverride string) (*Config, error) {
	pinned := dataDirOverride
	if pinned == "" {
		pinned = os.Getenv("AGENTPROBE_DATA_DIR")
	}
	dir, err := dotdir.NewManager().Target(pinned)
	if err != nil {
		return nil, fmt.Errorf("resolving data dir: %w", err)
	}

	v, err := InitViper(dir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// A pinned directory (flag or env) wins over whatever the file says.
	if pinned != "" || cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = dir
	}
	cfg.Proxy.Listen = normalizeListen(cfg.Proxy.Listen, "127.0.0.1")
	cfg.Web.Listen = normalizeListen(cfg.Web.Listen, "0.0.0.0")
	return &cfg, nil
}

// normalizeListen anchors a bare port, as the *_PORT overrides carry, to
// the component's default host. Full host:port values pass through.
func normalizeListen(listen, defaultHost string) string {
	if listen == "" || strings.Contains(listen, ":") {
		return listen
	}
	return defaultHost + ":" + listen
}
