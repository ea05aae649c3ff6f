package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Delivery transport choices
const (
	MailProviderSES      = "ses"
	MailProviderSendGrid = "sendgrid"
	MailProviderLog      = "log"

	SMSProviderSNS    = "sns"
	SMSProviderTwilio = "twilio"
	SMSProviderLog    = "log"

	TaskTransportSQS = "sqs"
	TaskTransportSNS = "sns"
	TaskTransportLog = "log"
)

type Config struct {
	Port     int    `validate:"min=1,max=65535"`
	LogLevel string `validate:"oneof=debug info warn error"`
	LogFile  string
	Env      string `validate:"required"`

	// Database
	DBURL      string
	DBHost     string `validate:"required_without=DBURL"`
	DBPort     int    `validate:"min=1,max=65535"`
	DBUser     string `validate:"required_without=DBURL"`
	DBPassword string
	DBName     string `validate:"required_without=DBURL"`
	DBSSLMode  string
	DBMaxConns int `validate:"min=0"`

	// Redis is optional; an empty URL and host disable it
	RedisURL       string `validate:"omitempty,url"`
	RedisHost      string
	RedisPort      int
	RedisPassword  string
	RedisDB        int
	RedisPoolSize  int `validate:"min=0"`
	RedisKeyPrefix string

	// AWS Services
	AWSRegion    string `validate:"required"`
	SESFromEmail string `validate:"omitempty,email"`
	SNSRegion    string
	SQSRegion    string

	// Reminder content
	BaseURL         string `validate:"required,url"`
	BookingShortURL string `validate:"omitempty,url"`

	// Recurrence
	ReminderSchedule string `validate:"required"`

	// Outbox relay
	RelayEnabled      bool
	RelayPollInterval time.Duration `validate:"min=100ms"`
	RelayBatchSize    int           `validate:"min=1,max=1000"`
	RelayMaxRetries   int           `validate:"min=0"`

	MailProvider   string `validate:"oneof=ses sendgrid log"`
	SendGridAPIKey string `validate:"required_if=MailProvider sendgrid"`
	MailFromEmail  string `validate:"required_if=MailProvider sendgrid"`

	SMSProvider      string `validate:"oneof=sns twilio log"`
	TwilioAccountSID string `validate:"required_if=SMSProvider twilio"`
	TwilioAuthToken  string `validate:"required_if=SMSProvider twilio"`
	TwilioFromNumber string `validate:"required_if=SMSProvider twilio"`

	TaskTransport string `validate:"oneof=sqs sns log"`
	TaskQueueURL  string `validate:"required_if=TaskTransport sqs"`
	TaskTopicARN  string `validate:"required_if=TaskTransport sns"`

	// Admin API
	RateLimitPerMinute int `validate:"min=0"`
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "remindd",
		DBName:    "remindd",
		DBSSLMode: "disable",

		RedisPort:      6379,
		RedisKeyPrefix: "remindd",

		AWSRegion: "us-east-1",

		BaseURL:          "http://localhost:3000",
		ReminderSchedule: "@every 1m",

		RelayEnabled:      true,
		RelayPollInterval: 2 * time.Second,
		RelayBatchSize:    50,
		RelayMaxRetries:   3,

		MailProvider:  MailProviderLog,
		SMSProvider:   SMSProviderLog,
		TaskTransport: TaskTransportLog,

		RateLimitPerMinute: 60,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	cfg.LogLevel = strings.ToLower(stringEnv("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFile = stringEnv("LOG_FILE", cfg.LogFile)
	cfg.Env = stringEnv("ENV", cfg.Env)

	// Database config
	cfg.DBURL = stringEnv("DATABASE_URL", cfg.DBURL)
	cfg.DBHost = stringEnv("DB_HOST", cfg.DBHost)
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	cfg.DBUser = stringEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = stringEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = stringEnv("DB_NAME", cfg.DBName)
	cfg.DBSSLMode = stringEnv("DB_SSLMODE", cfg.DBSSLMode)
	if cfg.DBMaxConns, err = intEnv("DB_MAX_CONNS", cfg.DBMaxConns); err != nil {
		return nil, err
	}

	// Redis config
	cfg.RedisURL = stringEnv("REDIS_URL", cfg.RedisURL)
	cfg.RedisKeyPrefix = stringEnv("REDIS_KEY_PREFIX", cfg.RedisKeyPrefix)
	if cfg.RedisPoolSize, err = intEnv("REDIS_POOL_SIZE", cfg.RedisPoolSize); err != nil {
		return nil, err
	}
	cfg.RedisHost = stringEnv("REDIS_HOST", cfg.RedisHost)
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	cfg.RedisPassword = stringEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	// AWS config; per-service regions fall back to AWS_REGION
	cfg.AWSRegion = stringEnv("AWS_REGION", cfg.AWSRegion)
	cfg.SESFromEmail = stringEnv("SES_FROM_EMAIL", cfg.SESFromEmail)
	cfg.SNSRegion = stringEnv("SNS_REGION", cfg.AWSRegion)
	cfg.SQSRegion = stringEnv("SQS_REGION", cfg.AWSRegion)

	cfg.BaseURL = strings.TrimRight(stringEnv("BASE_URL", cfg.BaseURL), "/")
	cfg.BookingShortURL = strings.TrimRight(stringEnv("BOOKING_SHORT_URL", cfg.BookingShortURL), "/")
	cfg.ReminderSchedule = stringEnv("REMINDER_SCHEDULE", cfg.ReminderSchedule)

	// Relay config
	if cfg.RelayEnabled, err = boolEnv("RELAY_ENABLED", cfg.RelayEnabled); err != nil {
		return nil, err
	}
	if cfg.RelayPollInterval, err = durationEnv("RELAY_POLL_INTERVAL", cfg.RelayPollInterval); err != nil {
		return nil, err
	}
	if cfg.RelayBatchSize, err = intEnv("RELAY_BATCH_SIZE", cfg.RelayBatchSize); err != nil {
		return nil, err
	}
	if cfg.RelayMaxRetries, err = intEnv("RELAY_MAX_RETRIES", cfg.RelayMaxRetries); err != nil {
		return nil, err
	}

	cfg.MailProvider = strings.ToLower(stringEnv("MAIL_PROVIDER", cfg.MailProvider))
	cfg.SendGridAPIKey = stringEnv("SENDGRID_API_KEY", cfg.SendGridAPIKey)
	cfg.MailFromEmail = stringEnv("MAIL_FROM_EMAIL", cfg.SESFromEmail)

	cfg.SMSProvider = strings.ToLower(stringEnv("SMS_PROVIDER", cfg.SMSProvider))
	cfg.TwilioAccountSID = stringEnv("TWILIO_ACCOUNT_SID", cfg.TwilioAccountSID)
	cfg.TwilioAuthToken = stringEnv("TWILIO_AUTH_TOKEN", cfg.TwilioAuthToken)
	cfg.TwilioFromNumber = stringEnv("TWILIO_FROM_NUMBER", cfg.TwilioFromNumber)

	cfg.TaskTransport = strings.ToLower(stringEnv("TASK_TRANSPORT", cfg.TaskTransport))
	cfg.TaskQueueURL = stringEnv("TASK_QUEUE_URL", cfg.TaskQueueURL)
	cfg.TaskTopicARN = stringEnv("TASK_TOPIC_ARN", cfg.TaskTopicARN)

	if cfg.RateLimitPerMinute, err = intEnv("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// RedisEnabled reports whether either a URL or a host was given.
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != "" || c.RedisHost != ""
}

// RedisAddr is host:port, or empty when no host is set.
func (c *Config) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
