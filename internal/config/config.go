// Package config handles application configuration from environment variables.
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
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	HTTPAddr         string
	// APIKey guards the HTTP API. Empty leaves it open.
	APIKey           string
	AllowedUsers     []int64
	AlertChatIDs     []int64

	WindowLength     time.Duration
	ExpiryWarning    time.Duration
	LivePreviewLimit int
	DefaultRegion    string

	GupshupBaseURL string
	GupshupAPIKey  string
	GupshupSource  string
	GupshupAppName string

	AIAPIKey  string
	AIBaseURL string
	AIModel   string
}

// LoadDotEnv loads variables from an optional .env file. Variables already
// present in the environment win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	windowHours, err := intOrDefault("WINDOW_HOURS", 24)
	if err != nil {
		return nil, err
	}
	warnMinutes, err := intOrDefault("EXPIRY_WARNING_MINUTES", 60)
	if err != nil {
		return nil, err
	}
	liveLimit, err := intOrDefault("LIVE_PREVIEW_LIMIT", 5000)
	if err != nil {
		return nil, err
	}

	allowedUsers, err := idList("ALLOWED_USERS")
	if err != nil {
		return nil, err
	}
	alertChats, err := idList("ALERT_CHAT_IDS")
	if err != nil {
		return nil, err
	}

	return &Config{
		TelegramBotToken: token,
		DatabasePath:     orDefault("DATABASE_PATH", "./data/scouter.db"),
		LogLevel:         orDefault("LOG_LEVEL", "info"),
		HTTPAddr:         orDefault("HTTP_ADDR", ":8080"),
		APIKey:           os.Getenv("API_KEY"),
		AllowedUsers:     allowedUsers,
		AlertChatIDs:     alertChats,

		WindowLength:     time.Duration(windowHours) * time.Hour,
		ExpiryWarning:    time.Duration(warnMinutes) * time.Minute,
		LivePreviewLimit: liveLimit,
		DefaultRegion:    strings.ToUpper(orDefault("DEFAULT_REGION", "BR")),

		GupshupBaseURL: orDefault("GUPSHUP_BASE_URL", "https://api.gupshup.io/wa/api/v1"),
		GupshupAPIKey:  os.Getenv("GUPSHUP_API_KEY"),
		GupshupSource:  os.Getenv("GUPSHUP_SOURCE"),
		GupshupAppName: os.Getenv("GUPSHUP_APP_NAME"),

		AIAPIKey:  os.Getenv("AI_API_KEY"),
		AIBaseURL: orDefault("AI_BASE_URL", "https://ai.gateway.lovable.dev/v1"),
		AIModel:   orDefault("AI_MODEL", "google/gemini-2.5-flash"),
	}, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// AssistantEnabled reports whether an AI key is configured.
func (c *Config) AssistantEnabled() bool {
	return c.AIAPIKey != ""
}

func orDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intOrDefault(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, raw)
	}
	return n, nil
}

func idList(key string) ([]int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ID %q in %s: %w", s, key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
