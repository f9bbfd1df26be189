package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	TavusAPIKey  string
	TavusBaseURL string
	PersonasPath string

	FeedbackURL   string
	FeedbackToken string

	AuthURL         string
	AuthAPIKey      string
	AuthSessionPath string

	DatabasePath    string
	MetricsAddr     string
	VideoDevice     string
	AvatarVideoPath string
	ICEServers      []string

	SettleDelay         time.Duration
	MinCallDuration     time.Duration
	DefaultCallDuration time.Duration
	EnableRecording     bool
}

// Load reads configuration from a .env file (if present) and environment variables.
// Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	apiKey := os.Getenv("TAVUS_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("TAVUS_API_KEY environment variable is required")
	}

	cfg := &Config{
		TavusAPIKey:         apiKey,
		TavusBaseURL:        getEnv("TAVUS_BASE_URL", "https://tavusapi.com/v2"),
		PersonasPath:        getEnv("INTERVIEW_PERSONAS_PATH", "config/personas.yaml"),
		FeedbackURL:         os.Getenv("FEEDBACK_URL"),
		FeedbackToken:       os.Getenv("FEEDBACK_TOKEN"),
		AuthURL:             os.Getenv("AUTH_URL"),
		AuthAPIKey:          os.Getenv("AUTH_API_KEY"),
		AuthSessionPath:     getEnv("AUTH_SESSION_PATH", ".interviewcall/session.json"),
		DatabasePath:        getEnv("INTERVIEW_DB_PATH", "interviews.db"),
		MetricsAddr:         os.Getenv("METRICS_ADDR"),
		VideoDevice:         getEnv("VIDEO_DEVICE", "/dev/video0"),
		AvatarVideoPath:     os.Getenv("AVATAR_VIDEO_PATH"),
		ICEServers:          getEnvAsList("ICE_SERVERS", []string{"stun:stun.l.google.com:19302"}),
		SettleDelay:         getEnvAsDuration("CALL_SETTLE_DELAY", 3*time.Second),
		MinCallDuration:     getEnvAsDuration("MIN_CALL_DURATION", 20*time.Second),
		DefaultCallDuration: getEnvAsDuration("DEFAULT_CALL_DURATION", 15*time.Minute),
		EnableRecording:     getEnvAsBool("ENABLE_RECORDING", false),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SettleDelay < 0 {
		return fmt.Errorf("CALL_SETTLE_DELAY must not be negative")
	}
	if c.MinCallDuration < 0 {
		return fmt.Errorf("MIN_CALL_DURATION must not be negative")
	}
	if c.DefaultCallDuration <= 0 {
		return fmt.Errorf("DEFAULT_CALL_DURATION must be positive")
	}
	if c.AuthURL != "" && c.AuthAPIKey == "" {
		return fmt.Errorf("AUTH_API_KEY is required when AUTH_URL is set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
