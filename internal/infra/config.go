package infra

import (
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// Storage layout.
	DataDir          string
	IndexDBPath      string
	LocalBudgetBytes int64
	MemoryCeiling    int64

	// Backend generation API.
	BackendAPIKey  string
	BackendBaseURL string

	// Remote mirror. Provider is "http" or "s3".
	RemoteProvider   string
	RemoteBaseURL    string
	RemoteAPIKey     string
	RemoteTTL        time.Duration
	RemoteQuotaBytes int64

	// S3-compatible settings, used when RemoteProvider is "s3".
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool

	// Maintenance.
	SweepSchedule string

	// Logging.
	LogFilePath string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "development"),
		Port:   getEnv("PORT", "8080"),

		DataDir:          getEnv("DATA_DIR", "./data"),
		LocalBudgetBytes: getEnvBytes("LOCAL_BUDGET_MB", 2048),
		MemoryCeiling:    getEnvBytes("MEMORY_CEILING_MB", 512),

		BackendAPIKey:  os.Getenv("BACKEND_API_KEY"),
		BackendBaseURL: getEnv("BACKEND_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		RemoteProvider:   getEnv("REMOTE_PROVIDER", "http"),
		RemoteBaseURL:    os.Getenv("REMOTE_BASE_URL"),
		RemoteAPIKey:     os.Getenv("REMOTE_API_KEY"),
		RemoteTTL:        time.Hour * time.Duration(getEnvInt("REMOTE_TTL_HOURS", 48)),
		RemoteQuotaBytes: getEnvBytes("REMOTE_QUOTA_MB", 10240),

		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3Bucket:    getEnv("S3_BUCKET", "genimage-assets"),
		S3Region:    os.Getenv("S3_REGION"),
		S3UseSSL:    getEnvBool("S3_USE_SSL", true),

		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 1h"),

		LogFilePath: os.Getenv("LOG_FILE_PATH"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	cfg.IndexDBPath = getEnv("INDEX_DB_PATH", cfg.DataDir+"/index.db")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvBytes reads a megabyte-denominated variable and returns bytes.
func getEnvBytes(key string, fallbackMB int) int64 {
	return int64(getEnvInt(key, fallbackMB)) << 20
}
