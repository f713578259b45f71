package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"

	minBcryptCost = 4
	maxBcryptCost = 31
)

type Config struct {
	Env        string
	ServerPort int
	Log        LogConfig
	Database   DatabaseConfig
	Auth       AuthConfig
	Storage    StorageConfig
	MQ         MQConfig
	Mail       MailConfig
}

type LogConfig struct {
	Level string
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
	MongoURI string
	MongoDB  string
}

// AuthConfig carries the key material and lifetimes used by the token manager.
type AuthConfig struct {
	AccessSecret         string
	AccessTTL            time.Duration
	RefreshSecret        string
	RefreshTTL           time.Duration
	BcryptCost           int
	ResetTokenTTL        time.Duration
	ExposeResetToken     bool
	ResetRevokesSessions bool
	RefreshSweepInterval time.Duration
}

type StorageConfig struct {
	Backend string
	Minio   MinioConfig
	GCS     GCSConfig
	S3      S3Config
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

type S3Config struct {
	Region    string
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type MQConfig struct {
	Backend  string
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
	Kafka    KafkaConfig
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

type KafkaConfig struct {
	Brokers []string
	GroupID string
}

type MailConfig struct {
	SMTPHost   string
	SMTPPort   int
	SMTPUser   string
	SMTPPass   string
	From       string
	AppBaseURL string
}

// LoadConfig reads configuration from the environment (and .env in dev).
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	accessTTL, err := parseDuration(v.GetString("JWT_EXPIRE"))
	if err != nil {
		return Config{}, fmt.Errorf("JWT_EXPIRE: %w", err)
	}
	refreshTTL, err := parseDuration(v.GetString("JWT_REFRESH_EXPIRE"))
	if err != nil {
		return Config{}, fmt.Errorf("JWT_REFRESH_EXPIRE: %w", err)
	}
	resetTTL, err := parseDuration(v.GetString("AUTH_RESET_TOKEN_TTL"))
	if err != nil {
		return Config{}, fmt.Errorf("AUTH_RESET_TOKEN_TTL: %w", err)
	}
	sweepInterval, err := parseDuration(v.GetString("AUTH_SWEEP_INTERVAL"))
	if err != nil {
		return Config{}, fmt.Errorf("AUTH_SWEEP_INTERVAL: %w", err)
	}

	return Config{
		Env:        v.GetString("ENV"),
		ServerPort: v.GetInt("SERVER_PORT"),
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(v.GetString("DB_DRIVER")),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			UseSSL:   v.GetBool("DB_USE_SSL"),
			MongoURI: v.GetString("MONGO_URI"),
			MongoDB:  v.GetString("MONGO_DB"),
		},
		Auth: AuthConfig{
			AccessSecret:         strings.TrimSpace(v.GetString("JWT_SECRET")),
			AccessTTL:            accessTTL,
			RefreshSecret:        strings.TrimSpace(v.GetString("JWT_REFRESH_SECRET")),
			RefreshTTL:           refreshTTL,
			BcryptCost:           v.GetInt("BCRYPT_ROUNDS"),
			ResetTokenTTL:        resetTTL,
			ExposeResetToken:     v.GetBool("AUTH_EXPOSE_RESET_TOKEN"),
			ResetRevokesSessions: v.GetBool("AUTH_RESET_REVOKES_SESSIONS"),
			RefreshSweepInterval: sweepInterval,
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(v.GetString("STORAGE_BACKEND")),
			Minio: MinioConfig{
				Endpoint:  v.GetString("MINIO_ENDPOINT"),
				AccessKey: v.GetString("MINIO_ACCESS_KEY"),
				SecretKey: v.GetString("MINIO_SECRET_KEY"),
				Bucket:    v.GetString("MINIO_BUCKET"),
				UseSSL:    v.GetBool("MINIO_USE_SSL"),
			},
			GCS: GCSConfig{
				Bucket:          v.GetString("GCS_BUCKET"),
				ProjectID:       v.GetString("GCS_PROJECT_ID"),
				CredentialsFile: v.GetString("GCS_CREDENTIALS_FILE"),
			},
			S3: S3Config{
				Region:    v.GetString("S3_REGION"),
				Bucket:    v.GetString("S3_BUCKET"),
				Endpoint:  v.GetString("S3_ENDPOINT"),
				AccessKey: v.GetString("S3_ACCESS_KEY"),
				SecretKey: v.GetString("S3_SECRET_KEY"),
			},
		},
		MQ: MQConfig{
			Backend: strings.ToLower(v.GetString("MQ_BACKEND")),
			RabbitMQ: RabbitMQConfig{
				URL:             v.GetString("RABBITMQ_URL"),
				QueueDurable:    v.GetBool("RABBITMQ_QUEUE_DURABLE"),
				QueueAutoDelete: v.GetBool("RABBITMQ_QUEUE_AUTO_DELETE"),
				PrefetchCount:   v.GetInt("RABBITMQ_PREFETCH"),
			},
			PubSub: PubSubConfig{
				ProjectID:          v.GetString("PUBSUB_PROJECT_ID"),
				CredentialsFile:    v.GetString("PUBSUB_CREDENTIALS_FILE"),
				SubscriptionSuffix: v.GetString("PUBSUB_SUBSCRIPTION_SUFFIX"),
			},
			Kafka: KafkaConfig{
				Brokers: csv(v.GetString("KAFKA_BROKERS")),
				GroupID: v.GetString("KAFKA_GROUP_ID"),
			},
		},
		Mail: MailConfig{
			SMTPHost:   v.GetString("SMTP_HOST"),
			SMTPPort:   v.GetInt("SMTP_PORT"),
			SMTPUser:   v.GetString("SMTP_USER"),
			SMTPPass:   v.GetString("SMTP_PASSWORD"),
			From:       v.GetString("MAIL_FROM"),
			AppBaseURL: strings.TrimRight(v.GetString("APP_BASE_URL"), "/"),
		},
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "signlearn")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "signlearn_db")
	v.SetDefault("DB_USE_SSL", false)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB", "signlearn")

	v.SetDefault("JWT_EXPIRE", "7d")
	v.SetDefault("JWT_REFRESH_EXPIRE", "30d")
	v.SetDefault("BCRYPT_ROUNDS", 12)
	v.SetDefault("AUTH_RESET_TOKEN_TTL", "10m")
	v.SetDefault("AUTH_EXPOSE_RESET_TOKEN", true)
	v.SetDefault("AUTH_RESET_REVOKES_SESSIONS", false)
	v.SetDefault("AUTH_SWEEP_INTERVAL", "1h")

	v.SetDefault("MINIO_BUCKET", "signlearn")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("RABBITMQ_QUEUE_DURABLE", true)
	v.SetDefault("KAFKA_GROUP_ID", "signlearn-notify")

	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("MAIL_FROM", "no-reply@signlearn.local")
	v.SetDefault("APP_BASE_URL", "http://localhost:3000")
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.Auth.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.RefreshSecret == "" {
		errs = append(errs, errors.New("JWT_REFRESH_SECRET is required"))
	}
	if c.Auth.AccessSecret != "" && c.Auth.AccessSecret == c.Auth.RefreshSecret {
		errs = append(errs, errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 || c.Auth.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.Auth.BcryptCost < minBcryptCost || c.Auth.BcryptCost > maxBcryptCost {
		errs = append(errs, fmt.Errorf("BCRYPT_ROUNDS must be between %d and %d", minBcryptCost, maxBcryptCost))
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverMongo, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver))
	}
	switch c.Storage.Backend {
	case "", "minio", "gcs", "s3":
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}
	switch c.MQ.Backend {
	case "", "rabbitmq", "pubsub", "kafka":
	default:
		errs = append(errs, fmt.Errorf("unknown MQ_BACKEND %q", c.MQ.Backend))
	}
	return errors.Join(errs...)
}

// IsDev reports whether the server runs in development mode.
func (c Config) IsDev() bool {
	return c.Env == "dev"
}

// parseDuration accepts Go durations plus a "d" suffix for whole days.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(raw)
}

func csv(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
