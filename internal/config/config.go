package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"landpub/internal/log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	VKAccessToken string
	VKGroupID     int64
	VKAPIVersion  string

	TelegramBotToken string
	TelegramChatID   string

	JWTSecret string
	NodeID    int64

	// PublishRate is the maximum outbound publish calls per second.
	PublishRate float64
	// PageSize is the default number of queue items handled by one drain pass.
	PageSize int
	// PublishTimeout bounds a single outbound publish call.
	PublishTimeout time.Duration
	// RateBackoff is the soft pause applied after a platform rate-limit error.
	RateBackoff time.Duration
	// ProcessingTimeout is how long an item may sit in processing before the
	// reaper returns it to pending.
	ProcessingTimeout time.Duration
	ReaperInterval    time.Duration
	// DrainInterval drives the background drain worker; zero disables it.
	DrainInterval time.Duration
}

func Load() (*Config, error) {
	logger := log.NewLogger()
	if err := godotenv.Load(); err != nil {
		// .env is optional when variables are set in the environment
		logger.Warn("Failed to load .env file", zap.Error(err))
	}

	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		VKAccessToken:     os.Getenv("VK_ACCESS_TOKEN"),
		VKAPIVersion:      "5.199",
		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:    os.Getenv("TELEGRAM_CHAT_ID"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		PublishRate:       3,
		PageSize:          10,
		PublishTimeout:    30 * time.Second,
		RateBackoff:       1 * time.Second,
		ProcessingTimeout: 5 * time.Minute,
		ReaperInterval:    time.Minute,
		DrainInterval:     0,
	}

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisAddr == "" {
		logger.Error("REDIS_ADDR is required")
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if v := os.Getenv("VK_API_VERSION"); v != "" {
		cfg.VKAPIVersion = v
	}
	if v := os.Getenv("VK_GROUP_ID"); v != "" {
		gid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid VK_GROUP_ID: %w", err)
		}
		cfg.VKGroupID = gid
	}
	if v := os.Getenv("NODE_ID"); v != "" {
		nid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid NODE_ID: %w", err)
		}
		cfg.NodeID = nid
	}
	if v := os.Getenv("PUBLISH_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 {
			return nil, fmt.Errorf("invalid PUBLISH_RATE: %s", v)
		}
		cfg.PublishRate = r
	}
	if v := os.Getenv("PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid PAGE_SIZE: %s", v)
		}
		cfg.PageSize = n
	}
	var err error
	if cfg.PublishTimeout, err = durationEnv("PUBLISH_TIMEOUT", cfg.PublishTimeout); err != nil {
		return nil, err
	}
	if cfg.RateBackoff, err = durationEnv("RATE_BACKOFF", cfg.RateBackoff); err != nil {
		return nil, err
	}
	if cfg.ProcessingTimeout, err = durationEnv("PROCESSING_TIMEOUT", cfg.ProcessingTimeout); err != nil {
		return nil, err
	}
	if cfg.ReaperInterval, err = durationEnv("REAPER_INTERVAL", cfg.ReaperInterval); err != nil {
		return nil, err
	}
	if cfg.DrainInterval, err = durationEnv("DRAIN_INTERVAL", cfg.DrainInterval); err != nil {
		return nil, err
	}

	logger.Info("Config loaded successfully")
	return cfg, nil
}

// MinPublishInterval converts the call-rate ceiling into the minimum spacing
// between consecutive outbound calls.
func (c *Config) MinPublishInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.PublishRate)
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
