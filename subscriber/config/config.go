// --- File: subscriber/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type AgentConfig struct {
	ScriptURL string
	Scope     string
}

type BackendConfig struct {
	BaseURL        string
	AccessToken    string
	Timeout        time.Duration
	BreakerTimeout time.Duration
}

// Config defines the *single*, authoritative configuration for the subscriber.
type Config struct {
	// VapidPublicKey is the deploy-time application server key (base64url).
	VapidPublicKey string
	PushServiceURL string
	StateDir       string

	Agent   AgentConfig
	Backend BackendConfig

	// MetricsEnabled exports subscribe metrics to the OTLP collector at OTLPEndpoint.
	MetricsEnabled bool
	OTLPEndpoint   string
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
// A missing VAPID key is not a validation error: the coordinator reports it as a
// configuration fault at subscribe time.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.VapidPublicKey = val
	}
	if val := os.Getenv("PUSH_SERVICE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "PUSH_SERVICE_URL", "source", "env")
		cfg.PushServiceURL = val
	}
	if val := os.Getenv("STATE_DIR"); val != "" {
		logger.Debug("Overriding config value", "key", "STATE_DIR", "source", "env")
		cfg.StateDir = val
	}
	if val := os.Getenv("AGENT_SCRIPT_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "AGENT_SCRIPT_URL", "source", "env")
		cfg.Agent.ScriptURL = val
	}
	if val := os.Getenv("BACKEND_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "BACKEND_URL", "source", "env")
		cfg.Backend.BaseURL = val
	}
	if val := os.Getenv("ACCESS_TOKEN"); val != "" {
		logger.Debug("Overriding config value", "key", "ACCESS_TOKEN", "source", "env")
		cfg.Backend.AccessToken = val
	}
	if val := os.Getenv("BACKEND_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			logger.Debug("Overriding config value", "key", "BACKEND_TIMEOUT", "source", "env")
			cfg.Backend.Timeout = d
		}
	}

	if val := os.Getenv("METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			logger.Debug("Overriding config value", "key", "METRICS_ENABLED", "source", "env")
			cfg.MetricsEnabled = b
		}
	}
	if val := os.Getenv("OTLP_ENDPOINT"); val != "" {
		logger.Debug("Overriding config value", "key", "OTLP_ENDPOINT", "source", "env")
		cfg.OTLPEndpoint = val
	}

	// Final Validation
	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("backend base_url is required (set via YAML or BACKEND_URL env var)")
	}
	if cfg.PushServiceURL == "" {
		return nil, fmt.Errorf("push_service_url is required (set via YAML or PUSH_SERVICE_URL env var)")
	}
	if cfg.StateDir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.StateDir = dir + string(os.PathSeparator) + "push-subscriber"
		}
	}
	if cfg.Agent.ScriptURL == "" {
		cfg.Agent.ScriptURL = "/sw.js"
	}
	if cfg.Agent.Scope == "" {
		cfg.Agent.Scope = "/"
	}
	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = 10 * time.Second
	}
	if cfg.MetricsEnabled && cfg.OTLPEndpoint == "" {
		logger.Warn("Metrics enabled without an OTLP endpoint. Metrics are disabled.")
		cfg.MetricsEnabled = false
	}
	if cfg.VapidPublicKey == "" {
		logger.Warn("VAPID public key missing in configuration. Subscribing will fail.")
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
