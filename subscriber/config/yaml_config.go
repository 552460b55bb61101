// --- File: subscriber/config/yaml_config.go ---
package config

import (
	"log/slog"
	"time"
)

type YamlAgentConfig struct {
	ScriptURL string `yaml:"script_url"`
	Scope     string `yaml:"scope"`
}

type YamlBackendConfig struct {
	BaseURL        string `yaml:"base_url"`
	Timeout        string `yaml:"timeout"`
	BreakerTimeout string `yaml:"breaker_timeout"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	VapidPublicKey string            `yaml:"vapid_public_key"`
	PushServiceURL string            `yaml:"push_service_url"`
	StateDir       string            `yaml:"state_dir"`
	Agent          YamlAgentConfig   `yaml:"agent"`
	Backend        YamlBackendConfig `yaml:"backend"`
	MetricsEnabled bool              `yaml:"metrics_enabled"`
	OTLPEndpoint   string            `yaml:"otlp_endpoint"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
// Unparseable durations are logged and left at zero so defaults apply.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		VapidPublicKey: baseCfg.VapidPublicKey,
		PushServiceURL: baseCfg.PushServiceURL,
		StateDir:       baseCfg.StateDir,
		Agent: AgentConfig{
			ScriptURL: baseCfg.Agent.ScriptURL,
			Scope:     baseCfg.Agent.Scope,
		},
		Backend: BackendConfig{
			BaseURL:        baseCfg.Backend.BaseURL,
			Timeout:        parseDuration(baseCfg.Backend.Timeout, "backend.timeout", logger),
			BreakerTimeout: parseDuration(baseCfg.Backend.BreakerTimeout, "backend.breaker_timeout", logger),
		},
		MetricsEnabled: baseCfg.MetricsEnabled,
		OTLPEndpoint:   baseCfg.OTLPEndpoint,
	}

	logger.Debug("YAML config mapping complete",
		"push_service_url", cfg.PushServiceURL,
		"backend_url", cfg.Backend.BaseURL,
		"state_dir", cfg.StateDir,
	)

	return cfg, nil
}

func parseDuration(raw, key string, logger *slog.Logger) time.Duration {
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn("Ignoring invalid duration", "key", key, "value", raw, "err", err)
		return 0
	}
	return d
}
