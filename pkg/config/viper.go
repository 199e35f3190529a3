package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Defaults for the capture pipeline. The proxy binds loopback only; the web
// UI binds all interfaces so a browser on another machine can watch.
const (
	DefaultProxyListen = "127.0.0.1:9090"
	DefaultWebListen   = "0.0.0.0:9091"

	// DefaultMaxBodySize is 10 MiB, enough for any chat payload while
	// keeping runaway uploads out of the database.
	DefaultMaxBodySize = 10 * 1024 * 1024
)

// InitViper creates and returns a configured *viper.Viper.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound by the command layer)
//  2. Environment variables (AGENTPROBE_PROXY_LISTEN, AGENTPROBE_WEB_LISTEN, ...)
//  3. config.yaml values in the data directory
//  4. Defaults
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("AGENTPROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Documented override names beside the dotted-key forms; the first set
	// variable in each list wins. The *_PORT variants carry a bare port,
	// anchored to a host by Load.
	bindings := [][]string{
		{"proxy.listen", "AGENTPROBE_PROXY_LISTEN", "AGENTPROBE_PROXY_PORT"},
		{"web.listen", "AGENTPROBE_WEB_LISTEN", "AGENTPROBE_WEB_PORT"},
		{"storage.data_dir", "AGENTPROBE_STORAGE_DATA_DIR", "AGENTPROBE_DATA_DIR"},
	}
	for _, binding := range bindings {
		if err := v.BindEnv(binding...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", binding[0], err)
		}
	}

	return v, nil
}

// setViperDefaults registers every default under its dotted key so all four
// layers resolve through the same names.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("proxy.listen", DefaultProxyListen)
	v.SetDefault("web.listen", DefaultWebListen)
	v.SetDefault("storage.data_dir", "")
	v.SetDefault("capture.max_body_size", DefaultMaxBodySize)
}
