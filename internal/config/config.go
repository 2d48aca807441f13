// Package config loads gateway configuration from the environment using
// viper, with the enumerated options from the gateway's external interface
// contract. Unknown options are ignored silently.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the gateway's runtime configuration.
type Config struct {
	// RequestTimeout bounds every JSON-RPC call made to an adapter.
	RequestTimeout time.Duration
	// RequirePreinstall refuses auto-install of an agent binary on first use.
	RequirePreinstall bool
	// CORSAllowOrigins / CORSAllowMethods are surface-only policy knobs.
	CORSAllowOrigins []string
	CORSAllowMethods []string
	// LogDir routes server logs: when set, the daemon entrypoint writes its
	// log file (acp-gateway.log) into this directory instead of stdout.
	LogDir string
	// AuthToken, if non-empty, is required as a Bearer token on every /rpc
	// call; /health remains public regardless.
	AuthToken string
	// ListenAddr is the HTTP listen address for the gateway's daemon entrypoint.
	ListenAddr string
}

const (
	defaultRequestTimeoutMS = 120000
	defaultListenAddr       = ":8642"
)

// Load reads configuration from the process environment.
func Load() *Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("request_timeout_ms", defaultRequestTimeoutMS)
	v.SetDefault("require_preinstall", false)
	v.SetDefault("cors_allow_origins", "*")
	v.SetDefault("cors_allow_methods", "GET,POST,DELETE,OPTIONS")
	v.SetDefault("log_dir", "")
	v.SetDefault("auth_token", "")
	v.SetDefault("listen_addr", defaultListenAddr)

	return &Config{
		RequestTimeout:    time.Duration(v.GetInt("request_timeout_ms")) * time.Millisecond,
		RequirePreinstall: v.GetBool("require_preinstall"),
		CORSAllowOrigins:  splitNonEmpty(v.GetString("cors_allow_origins")),
		CORSAllowMethods:  splitNonEmpty(v.GetString("cors_allow_methods")),
		LogDir:            v.GetString("log_dir"),
		AuthToken:         v.GetString("auth_token"),
		ListenAddr:        v.GetString("listen_addr"),
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
