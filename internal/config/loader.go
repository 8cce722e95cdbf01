package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Loader loads Config from YAML via viper, with a complete default for
// every field so a missing file still yields a runnable configuration.
type Loader struct {
	viper  *viper.Viper
	logger *logrus.Logger
}

// NewLoader creates a configuration loader with the IBS_ environment prefix.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("IBS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{viper: v, logger: logrus.New()}
}

// Load reads configPath (if present; missing file falls back to defaults),
// unmarshals it into a Config, and validates it.
func (l *Loader) Load(configPath string) (*Config, error) {
	l.viper.SetConfigFile(configPath)
	l.setDefaults()

	if err := l.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			l.logger.Warn("configuration file not found, using defaults")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.viper.SetDefault("server.host", "0.0.0.0")
	l.viper.SetDefault("server.port", 8080)
	l.viper.SetDefault("server.read_timeout", "10s")
	l.viper.SetDefault("server.write_timeout", "10s")
	l.viper.SetDefault("server.shutdown_timeout", "10s")
	l.viper.SetDefault("server.event_stream_path", "/ws/events")

	l.viper.SetDefault("mqtt.broker_host", "127.0.0.1")
	l.viper.SetDefault("mqtt.broker_port", 1883)
	l.viper.SetDefault("mqtt.client_id", "ibs-controller")
	l.viper.SetDefault("mqtt.keep_alive", "30s")
	l.viper.SetDefault("mqtt.connect_timeout", "5s")
	l.viper.SetDefault("mqtt.status_topic_filter", "iot/+/status")
	l.viper.SetDefault("mqtt.qos", 1)
	l.viper.SetDefault("mqtt.reconnect_min_delay", "1s")
	l.viper.SetDefault("mqtt.reconnect_max_delay", "30s")

	l.viper.SetDefault("network.primary_interface", "wlan0")
	l.viper.SetDefault("network.link_rate", "100mbit")
	l.viper.SetDefault("network.device_default_rate", "10mbit")
	l.viper.SetDefault("network.tc_binary", "tc")
	l.viper.SetDefault("network.command_timeout", "5s")
	l.viper.SetDefault("network.container_bridge_fallback", "docker0")
	l.viper.SetDefault("network.container_discovery_enabled", true)
	l.viper.SetDefault("network.docker_socket_path", "/var/run/docker.sock")

	l.viper.SetDefault("metrics.enabled", true)
	l.viper.SetDefault("metrics.listen_host", "0.0.0.0")
	l.viper.SetDefault("metrics.listen_port", 9090)
	l.viper.SetDefault("metrics.path", "/metrics")
	l.viper.SetDefault("metrics.poll_interval", "5s")

	l.viper.SetDefault("http_health.enabled", true)
	l.viper.SetDefault("http_health.host", "0.0.0.0")
	l.viper.SetDefault("http_health.port", 8081)
	l.viper.SetDefault("http_health.live_endpoint", "/healthz")
	l.viper.SetDefault("http_health.ready_endpoint", "/readyz")
	l.viper.SetDefault("http_health.detailed_endpoint", "/health/detailed")

	l.viper.SetDefault("security.jwt_secret_key", "change-me-in-production")
	l.viper.SetDefault("security.jwt_expiry", "24h")
	l.viper.SetDefault("security.rate_limit_requests", 100)
	l.viper.SetDefault("security.rate_limit_window", "1m")

	l.viper.SetDefault("logging.level", "info")
	l.viper.SetDefault("logging.format", "text")
	l.viper.SetDefault("logging.file_enabled", false)
	l.viper.SetDefault("logging.file_path", "/var/log/ibs-controller/controller.log")
	l.viper.SetDefault("logging.max_file_size_mb", 10)
	l.viper.SetDefault("logging.backup_count", 5)
	l.viper.SetDefault("logging.console_enabled", true)

	l.viper.SetDefault("registry.devices", defaultRegistrySeed())
}

// defaultRegistrySeed is the static device table used when no config file
// provides one: physical ESP32 sensors on the primary interface.
func defaultRegistrySeed() []map[string]interface{} {
	seed := []struct {
		id  string
		ip  string
		cid int
	}{
		{"esp32-cam-1", "192.168.1.101", 10},
		{"esp32-cam-2", "192.168.1.102", 11},
		{"esp32-audio-1", "192.168.1.111", 20},
		{"esp32-mhz19-1", "192.168.1.111", 20},
		{"esp32-env-1", "192.168.1.122", 21},
	}
	out := make([]map[string]interface{}, 0, len(seed))
	for _, s := range seed {
		out = append(out, map[string]interface{}{
			"device_id": s.id,
			"ip":        s.ip,
			"classid":   s.cid,
			"iface":     "wlan0",
		})
	}
	return out
}

// Viper exposes the underlying viper instance for advanced callers (hot reload).
func (l *Loader) Viper() *viper.Viper {
	return l.viper
}
