package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"leadflow/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

// WorkerConfig tunes the sequence sweep loop.
type WorkerConfig struct {
	SweepInterval     time.Duration `json:"sweep_interval"`
	SweepBatchSize    int           `json:"sweep_batch_size"`
	Concurrency       int           `json:"concurrency"`
	MaxStepRetries    int           `json:"max_step_retries"`
	RetryBackoff      time.Duration `json:"retry_backoff"`
	ZeroDelayChainCap int           `json:"zero_delay_chain_cap"`
	SendTimeout       time.Duration `json:"send_timeout"`
	LockTTL           time.Duration `json:"lock_ttl"`
}

type Config struct {
	Environment     string       `json:"environment"`
	ServerPort      string       `json:"server_port"`
	DBHost          string       `json:"db_host"`
	DBPort          string       `json:"db_port"`
	DBUser          string       `json:"db_user"`
	DBPassword      string       `json:"-"`
	DBName          string       `json:"db_name"`
	DBSSLMode       string       `json:"db_ssl_mode"`
	DBMaxIdleConns  int          `json:"db_max_idle_conns"`
	DBMaxOpenConns  int          `json:"db_max_open_conns"`
	Redis           RedisConfig  `json:"redis"`
	Worker          WorkerConfig `json:"worker"`
	SMTPHost        string       `json:"smtp_host"`
	SMTPPort        int          `json:"smtp_port"`
	SMTPUsername    string       `json:"smtp_username"`
	SMTPPassword    string       `json:"-"`
	FromEmail       string       `json:"from_email"`
	TrackingBaseURL string       `json:"tracking_base_url"`
	SentryDSN       string       `json:"-"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "leadflow"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		Worker: WorkerConfig{
			SweepInterval:     time.Duration(getEnvAsInt("WORKER_SWEEP_INTERVAL_SECONDS", 30)) * time.Second,
			SweepBatchSize:    getEnvAsInt("WORKER_SWEEP_BATCH_SIZE", 100),
			Concurrency:       getEnvAsInt("WORKER_CONCURRENCY", 8),
			MaxStepRetries:    getEnvAsInt("WORKER_MAX_STEP_RETRIES", 3),
			RetryBackoff:      time.Duration(getEnvAsInt("WORKER_RETRY_BACKOFF_MINUTES", 15)) * time.Minute,
			ZeroDelayChainCap: getEnvAsInt("WORKER_ZERO_DELAY_CHAIN_CAP", 20),
			SendTimeout:       time.Duration(getEnvAsInt("WORKER_SEND_TIMEOUT_SECONDS", 10)) * time.Second,
			LockTTL:           time.Duration(getEnvAsInt("WORKER_LOCK_TTL_SECONDS", 60)) * time.Second,
		},

		SMTPHost:        getEnv("SMTP_HOST", "localhost"),
		SMTPPort:        getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername:    getEnv("SMTP_USERNAME", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		FromEmail:       getEnv("FROM_EMAIL", "outreach@leadflow.local"),
		TrackingBaseURL: getEnv("TRACKING_BASE_URL", "http://localhost:5000"),
		SentryDSN:       getEnv("SENTRY_DSN", ""),
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.Worker.MaxStepRetries < 1 {
		return fmt.Errorf("WORKER_MAX_STEP_RETRIES must be at least 1")
	}
	if AppConfig.Worker.ZeroDelayChainCap < 1 {
		return fmt.Errorf("WORKER_ZERO_DELAY_CHAIN_CAP must be at least 1")
	}
	if AppConfig.Environment == "production" && AppConfig.SMTPUsername == "" {
		return fmt.Errorf("SMTP credentials are required in production")
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
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

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := models.Migrate(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := strings.ToLower(getEnv(key, ""))
	switch valueStr {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return fallback
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
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Redis enabled: %t", AppConfig.Redis.Enabled)
	log.Printf("Worker: sweep every %s, batch %d, concurrency %d",
		AppConfig.Worker.SweepInterval,
		AppConfig.Worker.SweepBatchSize,
		AppConfig.Worker.Concurrency)
}
