package realtime

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionConfigValidate(t *testing.T) {
	valid := func() ConnectionConfig {
		return NewConnectionConfig("wss://example.com/ws")
	}

	tests := []struct {
		name   string
		modify func(*ConnectionConfig)
		field  string
	}{
		{"valid", func(*ConnectionConfig) {}, ""},
		{"plain ws", func(c *ConnectionConfig) { c.Address = "ws://localhost:8080" }, ""},
		{"missing address", func(c *ConnectionConfig) { c.Address = "" }, "address"},
		{"blank address", func(c *ConnectionConfig) { c.Address = "   " }, "address"},
		{"http scheme", func(c *ConnectionConfig) { c.Address = "http://example.com" }, "address"},
		{"no host", func(c *ConnectionConfig) { c.Address = "ws:///path" }, "address"},
		{"unparsable", func(c *ConnectionConfig) { c.Address = "ws://[::1" }, "address"},
		{"credential with newline", func(c *ConnectionConfig) { c.Credential = "a\nb" }, "credential"},
		{"negative delay", func(c *ConnectionConfig) { c.ReconnectDelay = -time.Second }, "reconnect_delay"},
		{"negative timeout", func(c *ConnectionConfig) { c.ConnectTimeout = -1 }, "connect_timeout"},
		{"negative heartbeat", func(c *ConnectionConfig) { c.HeartbeatIncoming = -1 }, "heartbeat_incoming"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestConnectionConfigDefaults(t *testing.T) {
	cfg := NewConnectionConfig("ws://host")
	assert.True(t, cfg.AutoReconnect)

	filled := cfg.withDefaults(5 * time.Second)
	assert.Equal(t, 5*time.Second, filled.ReconnectDelay)
	assert.Equal(t, DefaultConnectTimeout, filled.ConnectTimeout)

	cfg.ReconnectDelay = time.Second
	cfg.ConnectTimeout = 2 * time.Second
	filled = cfg.withDefaults(5 * time.Second)
	assert.Equal(t, time.Second, filled.ReconnectDelay)
	assert.Equal(t, 2*time.Second, filled.ConnectTimeout)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "realtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"REALTIME_PROTOCOL", "REALTIME_LOG_LEVEL", "REALTIME_ADDRESS", "REALTIME_CREDENTIAL",
		"REALTIME_METRICS_ADDR", "REALTIME_TOPICS", "REALTIME_AUTO_RECONNECT", "REALTIME_RECONNECT_DELAY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("yaml file", func(t *testing.T) {
		clearConfigEnv(t)

		path := writeConfig(t, `
protocol: stomp
log_level: debug
metrics_addr: ":9090"
topics:
  - room.1.chat
  - /topic/scores
connection:
  address: wss://broker.example.com/ws
  credential: secret
  host: /
  auto_reconnect: false
  reconnect_delay: 2s
  connect_timeout: 15s
  heartbeat_outgoing: 10s
  heartbeat_incoming: 20s
`)

		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, ProtocolSTOMP, cfg.Protocol)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, ":9090", cfg.MetricsAddr)
		assert.Equal(t, []string{"room.1.chat", "/topic/scores"}, cfg.Topics)

		conn := cfg.Connection
		assert.Equal(t, "wss://broker.example.com/ws", conn.Address)
		assert.Equal(t, "secret", conn.Credential)
		assert.Equal(t, "/", conn.VirtualHost)
		assert.False(t, conn.AutoReconnect)
		assert.Equal(t, 2*time.Second, conn.ReconnectDelay)
		assert.Equal(t, 15*time.Second, conn.ConnectTimeout)
		assert.Equal(t, 10*time.Second, conn.HeartbeatOutgoing)
		assert.Equal(t, 20*time.Second, conn.HeartbeatIncoming)
	})

	t.Run("defaults", func(t *testing.T) {
		clearConfigEnv(t)

		cfg, err := LoadConfig(writeConfig(t, "connection:\n  address: ws://localhost:8080\n"))
		require.NoError(t, err)

		assert.Equal(t, ProtocolSocket, cfg.Protocol)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.True(t, cfg.Connection.AutoReconnect)
		assert.Equal(t, DefaultConnectTimeout, cfg.Connection.ConnectTimeout)
		assert.Empty(t, cfg.MetricsAddr)
	})

	t.Run("environment overrides", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("REALTIME_PROTOCOL", "stomp")
		t.Setenv("REALTIME_LOG_LEVEL", "warn")
		t.Setenv("REALTIME_ADDRESS", "ws://env:1234/ws")
		t.Setenv("REALTIME_CREDENTIAL", "from-env")
		t.Setenv("REALTIME_METRICS_ADDR", ":2112")
		t.Setenv("REALTIME_TOPICS", "a, b,,c")
		t.Setenv("REALTIME_AUTO_RECONNECT", "false")
		t.Setenv("REALTIME_RECONNECT_DELAY", "750ms")

		cfg, err := LoadConfig(writeConfig(t, "protocol: socket\nconnection:\n  address: ws://file/ws\n"))
		require.NoError(t, err)

		assert.Equal(t, ProtocolSTOMP, cfg.Protocol)
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Equal(t, "ws://env:1234/ws", cfg.Connection.Address)
		assert.Equal(t, "from-env", cfg.Connection.Credential)
		assert.Equal(t, ":2112", cfg.MetricsAddr)
		assert.Equal(t, []string{"a", "b", "c"}, cfg.Topics)
		assert.False(t, cfg.Connection.AutoReconnect)
		assert.Equal(t, 750*time.Millisecond, cfg.Connection.ReconnectDelay)
	})

	t.Run("environment only", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("REALTIME_ADDRESS", "ws://env/ws")

		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, "ws://env/ws", cfg.Connection.Address)
	})

	t.Run("bad environment values", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("REALTIME_ADDRESS", "ws://env/ws")
		t.Setenv("REALTIME_RECONNECT_DELAY", "soon")

		_, err := LoadConfig("")
		assert.ErrorIs(t, err, ErrConfig)

		t.Setenv("REALTIME_RECONNECT_DELAY", "")
		t.Setenv("REALTIME_AUTO_RECONNECT", "maybe")

		_, err = LoadConfig("")
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("missing file", func(t *testing.T) {
		clearConfigEnv(t)
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		clearConfigEnv(t)
		_, err := LoadConfig(writeConfig(t, "protocol: [unterminated"))
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		tests := []struct {
			name    string
			content string
			field   string
		}{
			{"no address", "protocol: socket\n", "address"},
			{"unknown protocol", "protocol: mqtt\nconnection:\n  address: ws://h\n", "protocol"},
			{"unknown log level", "log_level: loud\nconnection:\n  address: ws://h\n", "log_level"},
			{"bad topic", "topics: [\"\"]\nconnection:\n  address: ws://h\n", "topics"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				clearConfigEnv(t)

				_, err := LoadConfig(writeConfig(t, tt.content))

				var cfgErr *ConfigError
				require.ErrorAs(t, err, &cfgErr)
				assert.Equal(t, tt.field, cfgErr.Field)
			})
		}
	})
}
