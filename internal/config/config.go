// Package config provides Viper-backed configuration loading and logger
// construction for all hostwatch binaries.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from an optional file and environment variables.
// When configPath is empty, a hostwatch.yaml is searched for in the working
// directory, ./configs, and /etc/hostwatch. A missing file is not an error;
// defaults apply.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/hostwatch.db")

	// Event queue defaults
	v.SetDefault("queue.url", "nats://localhost:4222")
	v.SetDefault("queue.ack_wait", "30s")

	// Detection worker defaults
	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.prefetch", 10)
	v.SetDefault("worker.admin_port", 9090)
	v.SetDefault("worker.retention_period", "720h")
	v.SetDefault("worker.maintenance_interval", "1h")

	// Anomaly detection defaults
	v.SetDefault("anomaly.window", "24h")
	v.SetDefault("anomaly.retrain_interval", "1h")
	v.SetDefault("anomaly.min_samples", 50)
	v.SetDefault("anomaly.trees", 100)
	v.SetDefault("anomaly.subsample", 256)
	v.SetDefault("anomaly.contamination", 0.05)
	v.SetDefault("anomaly.cache_size", 1024)

	// Notification defaults
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", "10s")

	// Stream defaults
	v.SetDefault("stream.tick", "1s")
	v.SetDefault("stream.buffer", 256)

	// Agent defaults
	v.SetDefault("agent.api_url", "http://localhost:8080")
	v.SetDefault("agent.interval", "10s")
	v.SetDefault("agent.hostname", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("hostwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hostwatch")
	}

	// Environment variable support: HW_SERVER_PORT=9090
	v.SetEnvPrefix("HW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
