// Package config loads relay configuration from an optional YAML file and
// environment variables. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable holding the YAML config path.
const FileEnv = "RELAY_CONFIG"

// Default user-facing texts, in Burmese like the rest of the bot.
const (
	DefaultStartMessage = "ယခု Customer Agent နှင့် တိုက်ရိုက်စကားပြောဆိုနိုင်ပါပြီ။\n" +
		"Agent မှ ပြန်ဖြေကြားသည်အထိ ခေတ္တစောင့်ဆိုင်းပေးပါ။\n" +
		"စကားပြောဆိုမှုကို ရပ်နားလိုပါက 'ရပ်မည်' ဟု ရိုက်ထည့်ပေးပါ။"
	DefaultUserEndMessage  = "Customer Agent နှင့် စကားပြောဆိုခြင်းကို ရပ်နားလိုက်ပါပြီ။\nတခြား ဘာများ ကူညီပေးရဦးမလဲ?"
	DefaultAgentEndMessage = "Customer Agent မှ စကားပြောဆိုမှုကို ရပ်နားလိုက်ပါပြီ။ တခြား ဘာများ ကူညီပေးရဦးမလဲ?"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `yaml:"port"`
	ServerReadTimeout  time.Duration `yaml:"read_timeout"`
	ServerWriteTimeout time.Duration `yaml:"write_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins        []string      `yaml:"cors_origins"`

	// Streaming
	SubscriberBuffer  int           `yaml:"subscriber_buffer"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Viber
	ViberBotToken        string        `yaml:"viber_bot_token"`
	ViberAPIURL          string        `yaml:"viber_api_url"`
	ViberTimeout         time.Duration `yaml:"viber_timeout"`
	ViberVerifySignature bool          `yaml:"viber_verify_signature"`
	ViberStartKeyword    string        `yaml:"viber_start_keyword"`
	ViberStopKeyword     string        `yaml:"viber_stop_keyword"`
	AgentStartMessage    string        `yaml:"agent_start_message"`
	UserEndMessage       string        `yaml:"user_end_message"`
	AgentEndMessage      string        `yaml:"agent_end_message"`
	WebhookDedupeTTL     time.Duration `yaml:"webhook_dedupe_ttl"`

	// NATS settings; an empty URL disables NATS.
	NATSURL           string `yaml:"nats_url"`
	NATSCAFile        string `yaml:"nats_ca_file"`
	NATSCertFile      string `yaml:"nats_cert_file"`
	NATSKeyFile       string `yaml:"nats_key_file"`
	NATSToken         string `yaml:"nats_token"`
	NATSMirrorEnabled bool   `yaml:"nats_mirror_enabled"`
	NATSInbound       bool   `yaml:"nats_inbound_enabled"`

	// Auth
	AuthMode        string `yaml:"auth_mode"`
	MonitorUsername string `yaml:"monitor_username"`
	MonitorPassword string `yaml:"monitor_password"`
	JWTSecret       string `yaml:"jwt_secret"`

	// LLM settings
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	DefaultLLM      string `yaml:"default_llm"`
	LLMModel        string `yaml:"llm_model"`

	// Rate limiting
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Tracing
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`

	// Housekeeping
	StatsSchedule   string `yaml:"stats_schedule"`
	ActivityLogSize int    `yaml:"activity_log_size"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		ServerPort:        "8080",
		ServerReadTimeout: 30 * time.Second,
		// Streams stay open indefinitely, so writes are not bounded.
		ServerWriteTimeout: 0,
		ShutdownTimeout:    30 * time.Second,

		SubscriberBuffer:  64,
		HeartbeatInterval: 30 * time.Second,

		ViberTimeout:      10 * time.Second,
		ViberStartKeyword: "talk_to_agent",
		ViberStopKeyword:  "ရပ်မည်",
		AgentStartMessage: DefaultStartMessage,
		UserEndMessage:    DefaultUserEndMessage,
		AgentEndMessage:   DefaultAgentEndMessage,
		WebhookDedupeTTL:  10 * time.Minute,

		AuthMode: "none",

		DefaultLLM: "anthropic",

		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,

		LogLevel: "info",

		TracingEndpoint: "localhost:4318",

		StatsSchedule:   "@every 15s",
		ActivityLogSize: 100,
	}
}

// Load reads the YAML file named by RELAY_CONFIG, if any, then applies
// environment overrides.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile reads path, if not empty, then applies environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	// Server
	c.ServerPort = getEnv("PORT", c.ServerPort)
	c.ServerReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", c.ServerReadTimeout)
	c.ServerWriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", c.ServerWriteTimeout)
	c.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.CORSOrigins = getListEnv("CORS_ORIGINS", c.CORSOrigins)

	// Streaming
	c.SubscriberBuffer = getIntEnv("SUBSCRIBER_BUFFER", c.SubscriberBuffer)
	c.HeartbeatInterval = getDurationEnv("HEARTBEAT_INTERVAL", c.HeartbeatInterval)

	// Viber
	c.ViberBotToken = getEnv("VIBER_BOT_TOKEN", c.ViberBotToken)
	c.ViberAPIURL = getEnv("VIBER_API_URL", c.ViberAPIURL)
	c.ViberTimeout = getDurationEnv("VIBER_TIMEOUT", c.ViberTimeout)
	c.ViberVerifySignature = getBoolEnv("VIBER_VERIFY_SIGNATURE", c.ViberVerifySignature)
	c.ViberStartKeyword = getEnv("VIBER_START_KEYWORD", c.ViberStartKeyword)
	c.ViberStopKeyword = getEnv("VIBER_STOP_KEYWORD", c.ViberStopKeyword)
	// An empty courtesy text disables it, so set-but-empty counts.
	c.AgentStartMessage = lookupEnv("AGENT_START_MESSAGE", c.AgentStartMessage)
	c.UserEndMessage = lookupEnv("USER_END_MESSAGE", c.UserEndMessage)
	c.AgentEndMessage = lookupEnv("AGENT_END_MESSAGE", c.AgentEndMessage)
	c.WebhookDedupeTTL = getDurationEnv("WEBHOOK_DEDUPE_TTL", c.WebhookDedupeTTL)

	// NATS
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSCAFile = getEnv("NATS_CA_FILE", c.NATSCAFile)
	c.NATSCertFile = getEnv("NATS_CERT_FILE", c.NATSCertFile)
	c.NATSKeyFile = getEnv("NATS_KEY_FILE", c.NATSKeyFile)
	c.NATSToken = getEnv("NATS_TOKEN", c.NATSToken)
	c.NATSMirrorEnabled = getBoolEnv("NATS_MIRROR_ENABLED", c.NATSMirrorEnabled)
	c.NATSInbound = getBoolEnv("NATS_INBOUND_ENABLED", c.NATSInbound)

	// Auth
	c.AuthMode = strings.ToLower(getEnv("AUTH_MODE", c.AuthMode))
	c.MonitorUsername = getEnv("MONITOR_USERNAME", c.MonitorUsername)
	c.MonitorPassword = getEnv("MONITOR_PASSWORD", c.MonitorPassword)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)

	// LLM
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.DefaultLLM = getEnv("DEFAULT_LLM", c.DefaultLLM)
	c.LLMModel = getEnv("LLM_MODEL", c.LLMModel)

	// Rate limiting
	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", c.RateLimitWindow)

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	// Tracing
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingEnabled = getBoolEnv("TRACING_ENABLED", c.TracingEnabled)

	// Housekeeping
	c.StatsSchedule = getEnv("STATS_SCHEDULE", c.StatsSchedule)
	c.ActivityLogSize = getIntEnv("ACTIVITY_LOG_SIZE", c.ActivityLogSize)
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	if c.ServerPort == "" {
		return fmt.Errorf("port is required")
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber buffer must be positive, got %d", c.SubscriberBuffer)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.ViberVerifySignature && c.ViberBotToken == "" {
		return fmt.Errorf("signature verification requires VIBER_BOT_TOKEN")
	}
	if (c.NATSMirrorEnabled || c.NATSInbound) && c.NATSURL == "" {
		return fmt.Errorf("NATS features require NATS_URL")
	}
	switch c.AuthMode {
	case "none", "":
	case "basic":
		if c.MonitorUsername == "" || c.MonitorPassword == "" {
			return fmt.Errorf("basic auth requires MONITOR_USERNAME and MONITOR_PASSWORD")
		}
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("jwt auth requires JWT_SECRET")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.AuthMode)
	}
	return nil
}

// NATSEnabled reports whether a NATS connection is needed.
func (c *Config) NATSEnabled() bool {
	return c.NATSURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// lookupEnv is getEnv for keys where an empty value is meaningful.
func lookupEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
