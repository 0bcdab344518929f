package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      int
	ShutdownTimeout time.Duration
	// TrustProxy honors X-Forwarded-For and X-Real-IP. Enable only behind a
	// proxy that overwrites them.
	TrustProxy bool
	Env             string
	Database        DatabaseConfig
	Auth            AuthConfig
	Messages        MessagesConfig
	Search          SearchConfig
	Storage         StorageConfig
	MQ              MQConfig
	Log             LogConfig
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite3".
	Driver      string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	UseSSL      bool
	Path        string
	AutoMigrate bool
}

type AuthConfig struct {
	SessionSecret  string
	SessionCookie  string
	SessionKey     string
	SessionTTL     time.Duration
	RememberCookie string
	RememberTTL    time.Duration
	SecureCookies  bool
	CSRFKey        string
	// LoginRatePerMinute bounds POSTs to login and register per client IP.
	LoginRatePerMinute int
	LoginBurst         int
}

type MessagesConfig struct {
	// SenderCanTrash lets the sender of a message move it to the receiver's trash.
	SenderCanTrash bool
}

type SearchConfig struct {
	// Backend is "algolia", "storage" or "none".
	Backend         string
	AlgoliaAppID    string
	AlgoliaAPIKey   string
	Index           string
	SyncChannel     string
	SyncInterval    time.Duration
	SyncMinInterval time.Duration
}

type StorageConfig struct {
	// Backend is "minio", "gcs" or empty for none.
	Backend string
	Minio   MinioConfig
	GCS     GCSConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

type MQConfig struct {
	// Backend is "local", "rabbitmq" or "pubsub".
	Backend  string
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func LoadConfig() Config {
	env := getEnv("ENV", "production")
	if env == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Driver:      getEnv("DB_DRIVER", "postgres"),
		Host:        getEnv("DB_HOST", "localhost"),
		Port:        getEnvInt("DB_PORT", 5432),
		User:        getEnv("DB_USER", "savage"),
		Password:    getEnv("DB_PASSWORD", "password"),
		DBName:      getEnv("DB_NAME", "savage_db"),
		UseSSL:      getEnvBool("DB_USE_SSL", false),
		Path:        getEnv("DB_PATH", "savage.db"),
		AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", false),
	}

	authConfig := AuthConfig{
		SessionSecret:      getEnv("SESSION_SECRET", ""),
		SessionCookie:      getEnv("SESSION_COOKIE", "savage_session"),
		SessionKey:         getEnv("AUTH_SESSION_KEY", "user_id"),
		SessionTTL:         getEnvDuration("SESSION_TTL", 24*time.Hour),
		RememberCookie:     getEnv("AUTH_REMEMBER_COOKIE", "REM_TOKEN"),
		RememberTTL:        getEnvDuration("AUTH_REMEMBER_TTL", 14*24*time.Hour),
		SecureCookies:      getEnvBool("SECURE_COOKIES", env != "dev"),
		CSRFKey:            getEnv("CSRF_KEY", ""),
		LoginRatePerMinute: getEnvInt("AUTH_RATE_PER_MINUTE", 20),
		LoginBurst:         getEnvInt("AUTH_RATE_BURST", 10),
	}

	searchConfig := SearchConfig{
		Backend:         getEnv("SEARCH_BACKEND", "none"),
		AlgoliaAppID:    getEnv("ALGOLIA_APP_ID", ""),
		AlgoliaAPIKey:   getEnv("ALGOLIA_API_KEY", ""),
		Index:           getEnv("SEARCH_INDEX", "demoapp_usernames"),
		SyncChannel:     getEnv("SEARCH_SYNC_CHANNEL", "usernames.sync"),
		SyncInterval:    getEnvDuration("SEARCH_SYNC_INTERVAL", 0),
		SyncMinInterval: getEnvDuration("SEARCH_SYNC_MIN_INTERVAL", 30*time.Second),
	}

	storageConfig := StorageConfig{
		Backend: getEnv("STORAGE_BACKEND", ""),
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "savage"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		GCS: GCSConfig{
			Bucket:          getEnv("GCS_BUCKET", ""),
			ProjectID:       getEnv("GCS_PROJECT_ID", ""),
			CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		},
	}

	mqConfig := MQConfig{
		Backend: getEnv("MQ_BACKEND", "local"),
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
			PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH", 1),
		},
		PubSub: PubSubConfig{
			ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
			SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
		},
	}

	return Config{
		ServerPort:      getEnvInt("SERVER_PORT", 8080),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		TrustProxy:      getEnvBool("TRUST_PROXY", false),
		Env:             env,
		Database:        dbConfig,
		Auth:            authConfig,
		Messages: MessagesConfig{
			SenderCanTrash: getEnvBool("MESSAGES_SENDER_CAN_TRASH", false),
		},
		Search:  searchConfig,
		Storage: storageConfig,
		MQ:      mqConfig,
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: env == "dev",
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := time.ParseDuration(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}
