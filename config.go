package realtime

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConnectTimeout bounds dialing plus the protocol handshake.
const DefaultConnectTimeout = 10 * time.Second

// ConnectionConfig describes one connection. It is passed by value and is
// not modified after Connect.
type ConnectionConfig struct {
	// Address is the ws:// or wss:// endpoint. Required.
	Address string `yaml:"address"`

	// Credential is an opaque bearer token. It is sent in the upgrade
	// request by the socket client and in the CONNECT frame by the broker
	// client.
	Credential string `yaml:"credential"`

	// VirtualHost is the STOMP host header. Defaults to the address host.
	VirtualHost string `yaml:"host"`

	AutoReconnect bool `yaml:"auto_reconnect"`

	// ReconnectDelay is the fixed wait before each retry. Zero selects the
	// client default.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// ConnectTimeout bounds dialing and waiting for protocol readiness.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// HeartbeatOutgoing is how often the client sends keep-alives.
	// HeartbeatIncoming is how often it expects traffic from the peer.
	// Zero disables the direction.
	HeartbeatOutgoing time.Duration `yaml:"heartbeat_outgoing"`
	HeartbeatIncoming time.Duration `yaml:"heartbeat_incoming"`
}

// NewConnectionConfig returns a config for address with auto-reconnect on.
func NewConnectionConfig(address string) ConnectionConfig {
	return ConnectionConfig{Address: address, AutoReconnect: true}
}

// Validate reports the first invalid field as a *ConfigError.
func (c ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return &ConfigError{Field: "address", Reason: "required"}
	}

	u, err := url.Parse(c.Address)
	if err != nil {
		return &ConfigError{Field: "address", Reason: err.Error()}
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return &ConfigError{Field: "address", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return &ConfigError{Field: "address", Reason: "missing host"}
	}

	if strings.ContainsAny(c.Credential, "\r\n\x00") {
		return &ConfigError{Field: "credential", Reason: "contains control characters"}
	}

	durations := []struct {
		field string
		value time.Duration
	}{
		{"reconnect_delay", c.ReconnectDelay},
		{"connect_timeout", c.ConnectTimeout},
		{"heartbeat_outgoing", c.HeartbeatOutgoing},
		{"heartbeat_incoming", c.HeartbeatIncoming},
	}
	for _, d := range durations {
		if d.value < 0 {
			return &ConfigError{Field: d.field, Reason: "must not be negative"}
		}
	}

	return nil
}

// withDefaults fills zero-valued timings.
func (c ConnectionConfig) withDefaults(reconnectDelay time.Duration) ConnectionConfig {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = reconnectDelay
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return c
}

// Protocol names accepted in Config.
const (
	ProtocolSocket = "socket"
	ProtocolSTOMP  = "stomp"
)

// Config is the file form of a client setup, as used by the rtwatch tool.
type Config struct {
	Protocol   string           `yaml:"protocol"`
	LogLevel   string           `yaml:"log_level"`
	Connection ConnectionConfig `yaml:"connection"`
	Topics     []string         `yaml:"topics"`

	// MetricsAddr is the listen address of the Prometheus endpoint.
	// Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
}

func defaultConfig() *Config {
	return &Config{
		Protocol: ProtocolSocket,
		LogLevel: "info",
		Connection: ConnectionConfig{
			AutoReconnect:  true,
			ConnectTimeout: DefaultConnectTimeout,
		},
	}
}

// LoadConfig reads a YAML file, applies REALTIME_* environment overrides
// and validates the result. An empty path loads defaults plus environment.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("REALTIME_PROTOCOL"); v != "" {
		cfg.Protocol = v
	}
	if v := os.Getenv("REALTIME_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REALTIME_ADDRESS"); v != "" {
		cfg.Connection.Address = v
	}
	if v := os.Getenv("REALTIME_CREDENTIAL"); v != "" {
		cfg.Connection.Credential = v
	}
	if v := os.Getenv("REALTIME_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("REALTIME_TOPICS"); v != "" {
		cfg.Topics = splitList(v)
	}

	if v := os.Getenv("REALTIME_AUTO_RECONNECT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigError{Field: "auto_reconnect", Reason: err.Error()}
		}
		cfg.Connection.AutoReconnect = b
	}

	if v := os.Getenv("REALTIME_RECONNECT_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &ConfigError{Field: "reconnect_delay", Reason: err.Error()}
		}
		cfg.Connection.ReconnectDelay = d
	}

	return nil
}

// Validate checks the connection and the protocol name.
func (c *Config) Validate() error {
	switch c.Protocol {
	case ProtocolSocket, ProtocolSTOMP:
	default:
		return &ConfigError{Field: "protocol", Reason: fmt.Sprintf("unknown protocol %q", c.Protocol)}
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return &ConfigError{Field: "log_level", Reason: err.Error()}
	}

	for _, topic := range c.Topics {
		if err := ValidateTopic(topic); err != nil {
			return &ConfigError{Field: "topics", Reason: err.Error()}
		}
	}

	return c.Connection.Validate()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
