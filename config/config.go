package config

import (
	"errors"
	"fmt"
	"leadforge/models"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type OAuthConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	From     string `json:"from"`
	FromName string `json:"from_name"`
}

// DispatchConfig drives the campaign dispatch worker.
type DispatchConfig struct {
	Schedule      string        `json:"schedule"`
	Concurrency   int           `json:"concurrency"`
	BatchSize     int           `json:"batch_size"`
	MaxAttempts   int           `json:"max_attempts"`
	LeaseTimeout  time.Duration `json:"lease_timeout"`
	StatsSchedule string        `json:"stats_schedule"`
}

// ProviderConfig selects live or fixture implementations of the scraper,
// enricher and verifier.
type ProviderConfig struct {
	ScraperMode      string `json:"scraper_mode"`
	EnricherMode     string `json:"enricher_mode"`
	VerifierMode     string `json:"verifier_mode"`
	EnrichmentAPIURL string `json:"enrichment_api_url"`
	EnrichmentAPIKey string `json:"-"`
}

type Config struct {
	Environment        string         `json:"environment"`
	AppName            string         `json:"app_name"`
	LogLevel           string         `json:"log_level"`
	SentryDSN          string         `json:"-"`
	Google             OAuthConfig    `json:"google"`
	EncryptionKey      string         `json:"-"`
	JWTSecret          string         `json:"-"`
	AccessTokenTTL     time.Duration  `json:"access_token_ttl"`
	RefreshTokenTTL    time.Duration  `json:"refresh_token_ttl"`
	ServerPort         string         `json:"server_port"`
	DBHost             string         `json:"db_host"`
	DBPort             string         `json:"db_port"`
	DBUser             string         `json:"db_user"`
	DBPassword         string         `json:"-"`
	DBName             string         `json:"db_name"`
	DBSSLMode          string         `json:"db_ssl_mode"`
	DBMaxIdleConns     int            `json:"db_max_idle_conns"`
	DBMaxOpenConns     int            `json:"db_max_open_conns"`
	CORSOrigins        []string       `json:"cors_origins"`
	RateLimitPerMinute int            `json:"rate_limit_per_minute"`
	Redis              RedisConfig    `json:"redis"`
	MailTransport      string         `json:"mail_transport"`
	SMTP               SMTPConfig     `json:"smtp"`
	MessageIDDomain    string         `json:"message_id_domain"`
	TrackingBaseURL    string         `json:"tracking_base_url"`
	WebhookSecret      string         `json:"-"`
	Providers          ProviderConfig `json:"providers"`
	Dispatch           DispatchConfig `json:"dispatch"`
	InboxPollInterval  time.Duration  `json:"inbox_poll_interval"`
}

func init() {
	// .env is optional
	_ = godotenv.Load()
	envLoaded = true
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func LoadConfig() error {
	providerMode := getEnv("PROVIDER_MODE", "fixture")

	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		AppName:     getEnv("APP_NAME", "LeadForge"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		SentryDSN:   getEnv("SENTRY_DSN", ""),
		Google: OAuthConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("GOOGLE_REDIRECT_URI", ""),
		},
		EncryptionKey:   getEnv("ENCRYPTION_KEY", ""),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		AccessTokenTTL:  getEnvAsDuration("ACCESS_TOKEN_TTL", 30*time.Minute),
		RefreshTokenTTL: getEnvAsDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		ServerPort:      getEnv("SERVER_PORT", "8000"),
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnv("DB_PORT", "5432"),
		DBUser:          getEnv("DB_USER", "postgres"),
		DBPassword:      getEnv("DB_PASSWORD", ""),
		DBName:          getEnv("DB_NAME", "leadforge"),
		DBSSLMode:       getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns:  getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns:  getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		CORSOrigins:        getEnvAsSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 100),
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		MailTransport: getEnv("MAIL_TRANSPORT", "log"),
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM_EMAIL", ""),
			FromName: getEnv("SMTP_FROM_NAME", "LeadForge"),
		},
		MessageIDDomain: getEnv("MESSAGE_ID_DOMAIN", "leadforge.local"),
		TrackingBaseURL: strings.TrimRight(getEnv("TRACKING_BASE_URL", "http://localhost:8000"), "/"),
		WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),

		Providers: ProviderConfig{
			ScraperMode:      getEnv("SCRAPER_MODE", providerMode),
			EnricherMode:     getEnv("ENRICHER_MODE", providerMode),
			VerifierMode:     getEnv("VERIFIER_MODE", providerMode),
			EnrichmentAPIURL: getEnv("ENRICHMENT_API_URL", ""),
			EnrichmentAPIKey: getEnv("ENRICHMENT_API_KEY", ""),
		},
		Dispatch: DispatchConfig{
			Schedule:      getEnv("DISPATCH_SCHEDULE", "@every 1m"),
			Concurrency:   getEnvAsInt("DISPATCH_CONCURRENCY", 4),
			BatchSize:     getEnvAsInt("DISPATCH_BATCH_SIZE", 200),
			MaxAttempts:   getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 3),
			LeaseTimeout:  getEnvAsDuration("DISPATCH_LEASE_TIMEOUT", 10*time.Minute),
			StatsSchedule: getEnv("STATS_ROLLUP_SCHEDULE", "15 0 * * *"),
		},
		InboxPollInterval: getEnvAsDuration("INBOX_POLL_INTERVAL", 5*time.Minute),
	}

	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if err := ValidateEncryptionKey(AppConfig.EncryptionKey); err != nil {
		return err
	}
	if AppConfig.MailTransport == "smtp" && AppConfig.SMTP.Host == "" {
		return fmt.Errorf("SMTP_HOST is required when MAIL_TRANSPORT=smtp")
	}
	if AppConfig.IsProduction() {
		if AppConfig.WebhookSecret == "" {
			return fmt.Errorf("WEBHOOK_SECRET is required in production")
		}
		if AppConfig.Providers.EnricherMode == "live" && AppConfig.Providers.EnrichmentAPIURL == "" {
			return fmt.Errorf("ENRICHMENT_API_URL is required for the live enricher")
		}
	}

	configureLogging()
	logConfig()
	return nil
}

// configureLogging sets up logrus and, when a DSN is present, sentry.
func configureLogging() {
	if AppConfig.IsProduction() {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if level, err := logrus.ParseLevel(AppConfig.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	if AppConfig.SentryDSN == "" {
		return
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         AppConfig.SentryDSN,
		Environment: AppConfig.Environment,
		Release:     AppConfig.AppName,
	}); err != nil {
		logrus.WithError(err).Warn("Sentry initialization failed")
	}
}

func ConnectDB() error {
	logrus.Info("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	logrus.Infof("Using connection string: %s", maskPassword(dsn))

	gormLogLevel := logger.Warn
	if AppConfig.IsProduction() {
		gormLogLevel = logger.Error
	}

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logrus.Info("✅ Successfully connected to the database")

	logrus.Info("🔄 Starting database migration...")
	if err := models.Migrate(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	logrus.Info("✅ Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		logrus.Warnf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsSlice(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment":    AppConfig.Environment,
		"server_port":    AppConfig.ServerPort,
		"database":       fmt.Sprintf("%s@%s:%s/%s", AppConfig.DBUser, AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBName),
		"mail_transport": AppConfig.MailTransport,
		"scraper":        AppConfig.Providers.ScraperMode,
		"enricher":       AppConfig.Providers.EnricherMode,
		"verifier":       AppConfig.Providers.VerifierMode,
		"redis":          AppConfig.Redis.Enabled,
		"google_oauth":   AppConfig.Google.ClientID != "",
	}).Info("🔧 Loaded configuration")
}

// ErrInvalidEncryptionKey is returned for an ENCRYPTION_KEY that is not a
// valid AES key.
var ErrInvalidEncryptionKey = errors.New("ENCRYPTION_KEY must be 16, 24 or 32 bytes")

func ValidateEncryptionKey(key string) error {
	switch len(key) {
	case 16, 24, 32:
		return nil
	case 0:
		return fmt.Errorf("ENCRYPTION_KEY is required: %w", ErrInvalidEncryptionKey)
	default:
		return fmt.Errorf("ENCRYPTION_KEY has %d bytes: %w", len(key), ErrInvalidEncryptionKey)
	}
}
