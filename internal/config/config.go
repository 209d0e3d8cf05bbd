// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	AllowedOrigins  []string
	Contact         ContactConfig
	Conversation    ConversationConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// ContactConfig controls the outbound form relay and the bot.
type ContactConfig struct {
	FormEndpoint         string
	SubmitTimeout        time.Duration
	TypingDelay          time.Duration
	ReducedMotionDefault bool
	BotScriptPath        string
}

// ConversationConfig controls conversation lifetime and how many can be
// mounted at once. A zero cap disables it.
type ConversationConfig struct {
	IdleTTL         time.Duration
	SweepInterval   time.Duration
	RecordRetention time.Duration
	MaxMounted      int
	MaxPerVisitor   int
}

// RateLimitConfig bounds chat and contact requests per client IP.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/portfolio.db"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		Contact: ContactConfig{
			FormEndpoint:         getEnv("FORM_ENDPOINT", "https://formspree.io/f/xanbnewg"),
			SubmitTimeout:        getEnvDuration("SUBMIT_TIMEOUT", 15*time.Second),
			TypingDelay:          getEnvDuration("TYPING_DELAY", 600*time.Millisecond),
			ReducedMotionDefault: getEnvBool("REDUCED_MOTION_DEFAULT", false),
			BotScriptPath:        getEnv("BOT_SCRIPT_PATH", ""),
		},
		Conversation: ConversationConfig{
			IdleTTL:         getEnvDuration("CONVERSATION_TTL", 30*time.Minute),
			SweepInterval:   getEnvDuration("SWEEP_INTERVAL", time.Minute),
			RecordRetention: getEnvDuration("RECORD_RETENTION", 365*24*time.Hour),
			MaxMounted:      getEnvInt("MAX_CONVERSATIONS", 1000),
			MaxPerVisitor:   getEnvInt("MAX_CONVERSATIONS_PER_VISITOR", 10),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Contact.FormEndpoint == "" {
		return fmt.Errorf("FORM_ENDPOINT cannot be empty")
	}
	if !strings.HasPrefix(c.Contact.FormEndpoint, "http://") && !strings.HasPrefix(c.Contact.FormEndpoint, "https://") {
		return fmt.Errorf("FORM_ENDPOINT must be an http(s) URL")
	}
	if c.Contact.TypingDelay < 0 {
		return fmt.Errorf("TYPING_DELAY must be >= 0")
	}
	if c.Conversation.IdleTTL <= 0 {
		return fmt.Errorf("CONVERSATION_TTL must be > 0")
	}
	if c.Conversation.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.Conversation.MaxMounted < 0 || c.Conversation.MaxPerVisitor < 0 {
		return fmt.Errorf("MAX_CONVERSATIONS and MAX_CONVERSATIONS_PER_VISITOR must be >= 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("600ms", "15s") or plain
// seconds ("15").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
