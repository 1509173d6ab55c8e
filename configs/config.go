package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicURL  string
}

type Kafka struct {
	Brokers           []string
	NotificationTopic string
}

type Config struct {
	HTTPAddr    string
	PostgresURI string
	RedisURI    string
	LogLevel    string

	SchedulerInterval time.Duration
	WorkerConcurrency int
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	PublishTimeouts   map[string]time.Duration
	DefaultTimeout    time.Duration
	SimulationDelay   time.Duration

	InstagramGraphURL  string
	TiktokAPIURL       string
	LinkedinAPIURL     string
	TwitterAPIKey      string
	TwitterAPISecret   string
	RedditClientID     string
	RedditClientSecret string

	R2         R2
	Kafka      Kafka
	SecretKey  string
	CookieName string
}

var platformTimeoutKeys = []string{"instagram", "tiktok", "youtube", "linkedin", "twitter", "reddit", "medium"}

func LoadConfig() *Config {
	cfg := &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":3000"),
		PostgresURI: getEnv("POSTGRES_URI", ""),
		RedisURI:    getEnv("REDIS_URI", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", 30*time.Second),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),
		MaxAttempts:       getEnvInt("PUBLISH_MAX_ATTEMPTS", 5),
		RetryBaseDelay:    getEnvDuration("RETRY_BASE_DELAY", time.Minute),
		RetryMaxDelay:     getEnvDuration("RETRY_MAX_DELAY", time.Hour),
		DefaultTimeout:    getEnvDuration("PUBLISH_TIMEOUT", 2*time.Minute),
		SimulationDelay:   getEnvDuration("SIMULATION_DELAY", time.Second),
		PublishTimeouts:   make(map[string]time.Duration),

		InstagramGraphURL:  getEnv("INSTAGRAM_GRAPH_URL", "https://graph.instagram.com/v21.0"),
		TiktokAPIURL:       getEnv("TIKTOK_API_URL", "https://open.tiktokapis.com/v2"),
		LinkedinAPIURL:     getEnv("LINKEDIN_API_URL", "https://api.linkedin.com/v2"),
		TwitterAPIKey:      getEnv("TWITTER_API_KEY", ""),
		TwitterAPISecret:   getEnv("TWITTER_API_SECRET", ""),
		RedditClientID:     getEnv("REDDIT_CLIENT_ID", ""),
		RedditClientSecret: getEnv("REDDIT_CLIENT_SECRET", ""),

		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
		Kafka: Kafka{
			Brokers:           splitList(getEnv("KAFKA_BROKERS", "")),
			NotificationTopic: getEnv("NOTIFICATION_TOPIC", "publish.notifications"),
		},
		SecretKey:  getEnv("SECRET_KEY", ""),
		CookieName: getEnv("COOKIE_NAME", "postflow_token"),
	}

	for _, platform := range platformTimeoutKeys {
		key := "PUBLISH_TIMEOUT_" + strings.ToUpper(platform)
		if d := getEnvDuration(key, 0); d > 0 {
			cfg.PublishTimeouts[platform] = d
		}
	}

	return cfg
}

func (c *Config) Policy() models.RetryPolicy {
	return models.RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
	}
}

// PublishTimeout returns the per-call deadline for a platform, falling back
// to the default timeout.
func (c *Config) PublishTimeout(platform string) time.Duration {
	if d, ok := c.PublishTimeouts[platform]; ok {
		return d
	}
	return c.DefaultTimeout
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
