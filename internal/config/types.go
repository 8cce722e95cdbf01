// Package config loads and hot-reloads the controller's configuration
// using viper, with mapstructure-tagged structs mirroring the YAML layout.
package config

import "time"

// ServerConfig configures the thin HTTP/JSON API collaborator (submit/list/get).
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	EventStreamPath string        `mapstructure:"event_stream_path"`
}

// MQTTConfig configures the device-plane broker connection.
type MQTTConfig struct {
	BrokerHost        string        `mapstructure:"broker_host"`
	BrokerPort        int           `mapstructure:"broker_port"`
	ClientID          string        `mapstructure:"client_id"`
	KeepAlive         time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	StatusTopicFilter string        `mapstructure:"status_topic_filter"`
	QoS               byte          `mapstructure:"qos"`
	ReconnectMinDelay time.Duration `mapstructure:"reconnect_min_delay"`
	ReconnectMaxDelay time.Duration `mapstructure:"reconnect_max_delay"`
}

// NetworkConfig configures the network-plane enforcer.
type NetworkConfig struct {
	// PrimaryInterface is the physical egress device (e.g. wlan0) always managed.
	PrimaryInterface  string        `mapstructure:"primary_interface"`
	LinkRate          string        `mapstructure:"link_rate"`           // e.g. "100mbit", htb 1:1 ceiling
	DeviceDefaultRate string        `mapstructure:"device_default_rate"` // class 1:99 rate (ceil is LinkRate) and per-device default rate
	TCBinary          string        `mapstructure:"tc_binary"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
	// ContainerBridgeFallback is the bridge name DiscoverSimulatorNodes falls
	// back to when discovery fails; no nodes are seeded in that case, so no
	// registry entry carries it.
	ContainerBridgeFallback   string `mapstructure:"container_bridge_fallback"`
	ContainerDiscoveryEnabled bool   `mapstructure:"container_discovery_enabled"`
	DockerSocketPath          string `mapstructure:"docker_socket_path"`
}

// RegistryDeviceSeed is one statically configured device entry.
type RegistryDeviceSeed struct {
	DeviceID string `mapstructure:"device_id"`
	IP       string `mapstructure:"ip"`
	ClassID  int    `mapstructure:"classid"`
	Iface    string `mapstructure:"iface"`
}

// RegistryConfig seeds the device registry.
type RegistryConfig struct {
	Devices []RegistryDeviceSeed `mapstructure:"devices"`
}

// MetricsConfig configures the Prometheus exporter and poller.
type MetricsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ListenHost   string        `mapstructure:"listen_host"`
	ListenPort   int           `mapstructure:"listen_port"`
	Path         string        `mapstructure:"path"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// HTTPHealthConfig configures the liveness/readiness endpoints.
type HTTPHealthConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	LiveEndpoint     string `mapstructure:"live_endpoint"`
	ReadyEndpoint    string `mapstructure:"ready_endpoint"`
	DetailedEndpoint string `mapstructure:"detailed_endpoint"`
}

// SecurityConfig configures the thin auth + rate-limit collaborators.
type SecurityConfig struct {
	JWTSecretKey      string        `mapstructure:"jwt_secret_key"`
	JWTExpiry         time.Duration `mapstructure:"jwt_expiry"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

// LoggingConfig mirrors logging.Config with mapstructure tags; kept separate to
// avoid an import cycle between config and logging (logging has no config dependency).
type LoggingConfig struct {
	Level          string `mapstructure:"level"`
	Format         string `mapstructure:"format"`
	FileEnabled    bool   `mapstructure:"file_enabled"`
	FilePath       string `mapstructure:"file_path"`
	MaxFileSizeMB  int    `mapstructure:"max_file_size_mb"`
	BackupCount    int    `mapstructure:"backup_count"`
	ConsoleEnabled bool   `mapstructure:"console_enabled"`
}

// Config is the root configuration document.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Network    NetworkConfig    `mapstructure:"network"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	HTTPHealth HTTPHealthConfig `mapstructure:"http_health"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}
