package prometheus

import "github.com/kelseyhightower/envconfig"

// Config holds Prometheus exposition configuration.
type Config struct {
	Enabled   bool   `envconfig:"ENABLED" default:"true"`
	Namespace string `envconfig:"NAMESPACE" default:"abassign"`
}

// LoadConfig loads Prometheus configuration from ABASSIGN_PROMETHEUS_* environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("ABASSIGN_PROMETHEUS", &cfg)
	return cfg, err
}
