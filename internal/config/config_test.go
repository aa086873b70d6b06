package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks the variables these tests assert on, so the host
// environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		FileEnv, "PORT", "SERVER_WRITE_TIMEOUT", "SUBSCRIBER_BUFFER", "HEARTBEAT_INTERVAL",
		"VIBER_BOT_TOKEN", "VIBER_STOP_KEYWORD", "VIBER_VERIFY_SIGNATURE", "AUTH_MODE",
		"NATS_URL", "NATS_MIRROR_ENABLED", "NATS_INBOUND_ENABLED", "CORS_ORIGINS",
		"ACTIVITY_LOG_SIZE", "RATE_LIMIT_REQUESTS", "LOG_LEVEL", "TRACING_ENABLED",
		"AGENT_START_MESSAGE", "USER_END_MESSAGE", "AGENT_END_MESSAGE",
	} {
		// Setenv first so the original value is restored after the test.
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, time.Duration(0), cfg.ServerWriteTimeout)
	assert.Equal(t, 64, cfg.SubscriberBuffer)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, "ရပ်မည်", cfg.ViberStopKeyword)
	assert.Equal(t, "none", cfg.AuthMode)
	assert.False(t, cfg.NATSEnabled())
	assert.Equal(t, 100, cfg.ActivityLogSize)
}

func TestLoadFile_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
port: "9000"
subscriber_buffer: 16
heartbeat_interval: 5s
viber_bot_token: file-token
nats_url: nats://file:4222
cors_origins:
  - https://dash.example.com
log_level: debug
`)
	t.Setenv("PORT", "9100")
	t.Setenv("VIBER_BOT_TOKEN", "env-token")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	// Environment wins over the file.
	assert.Equal(t, "9100", cfg.ServerPort)
	assert.Equal(t, "env-token", cfg.ViberBotToken)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)

	// The file wins over defaults.
	assert.Equal(t, 16, cfg.SubscriberBuffer)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, "nats://file:4222", cfg.NATSURL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.NATSEnabled())
}

func TestLoad_UsesConfigEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(FileEnv, writeFile(t, "rate_limit_requests: 5\n"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RateLimitRequests)
}

func TestLoadFile_Errors(t *testing.T) {
	clearEnv(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "port: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero buffer", mutate: func(c *Config) { c.SubscriberBuffer = 0 }, wantErr: true},
		{name: "signature without token", mutate: func(c *Config) { c.ViberVerifySignature = true }, wantErr: true},
		{name: "mirror without nats", mutate: func(c *Config) { c.NATSMirrorEnabled = true }, wantErr: true},
		{name: "basic without password", mutate: func(c *Config) { c.AuthMode = "basic"; c.MonitorUsername = "admin" }, wantErr: true},
		{name: "basic", mutate: func(c *Config) { c.AuthMode = "basic"; c.MonitorUsername = "admin"; c.MonitorPassword = "pw" }},
		{name: "jwt without secret", mutate: func(c *Config) { c.AuthMode = "jwt" }, wantErr: true},
		{name: "unknown mode", mutate: func(c *Config) { c.AuthMode = "oauth" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvHelpersIgnoreGarbage(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUBSCRIBER_BUFFER", "lots")
	t.Setenv("HEARTBEAT_INTERVAL", "soon")
	t.Setenv("TRACING_ENABLED", "maybe")

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.SubscriberBuffer)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoad_EmptyCourtesyMessageDisables(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENT_END_MESSAGE", "")
	t.Setenv("USER_END_MESSAGE", "Bye")

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Empty(t, cfg.AgentEndMessage)
	assert.Equal(t, "Bye", cfg.UserEndMessage)
	assert.Equal(t, DefaultStartMessage, cfg.AgentStartMessage)
}
