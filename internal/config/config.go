package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath  string
	LogMode string

	HTTPAddr      string
	JWTSecret     string
	JWTTTLHours   int
	AllowOrigins  string
	HTTPAccessLog bool

	BlobBackend string
	BlobDir     string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool

	UploadMaxBytes int64

	MatchApproveThreshold float64
	MatchMaxCandidates    int

	ProcessWorkers         int
	ProcessQueueSize       int
	ProcessItemTimeoutMs   int
	ProcessStoreTimeoutMs  int
	MaintenanceIntervalSec int

	SearchDefaultLimit int
	SearchMaxLimit     int

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	MailListenerEnabled     bool
	MailListenerProvider    string
	MailListenerLabel       string
	MailListenerIntervalSec int
	MailListenerFetchMax    int
	MailIntakeOwnerID       string
	MailDescriptionColumn   string
	MailQuantityColumn      string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:  getEnv("DB_PATH", filepath.Join(cwd, "data", "app.db")),
		LogMode: getEnv("LOG_MODE", "development"),

		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		JWTTTLHours:   getEnvInt("JWT_TTL_HOURS", 24),
		AllowOrigins:  getEnv("CORS_ALLOW_ORIGINS", "*"),
		HTTPAccessLog: getEnvBool("HTTP_ACCESS_LOG", true),

		BlobBackend: getEnv("BLOB_BACKEND", "local"),
		BlobDir:     getEnv("BLOB_DIR", filepath.Join(cwd, "data", "uploads")),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3Bucket:    getEnv("S3_BUCKET", "catmatch-uploads"),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3UseSSL:    getEnvBool("S3_USE_SSL", true),

		UploadMaxBytes: int64(getEnvInt("UPLOAD_MAX_BYTES", 10*1024*1024)),

		MatchApproveThreshold: getEnvFloat("MATCH_APPROVE_THRESHOLD", 80),
		MatchMaxCandidates:    getEnvInt("MATCH_MAX_CANDIDATES", 5),

		ProcessWorkers:         getEnvInt("PROCESS_WORKERS", 4),
		ProcessQueueSize:       getEnvInt("PROCESS_QUEUE_SIZE", 64),
		ProcessItemTimeoutMs:   getEnvInt("PROCESS_ITEM_TIMEOUT_MS", 10000),
		ProcessStoreTimeoutMs:  getEnvInt("PROCESS_STORE_TIMEOUT_MS", 5000),
		MaintenanceIntervalSec: getEnvInt("MAINTENANCE_INTERVAL_SEC", 30),

		SearchDefaultLimit: getEnvInt("SEARCH_DEFAULT_LIMIT", 50),
		SearchMaxLimit:     getEnvInt("SEARCH_MAX_LIMIT", 100),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		MailListenerEnabled:     getEnvBool("MAIL_LISTENER_ENABLED", false),
		MailListenerProvider:    getEnv("MAIL_LISTENER_PROVIDER", "imap"),
		MailListenerLabel:       getEnv("MAIL_LISTENER_LABEL", "INBOX"),
		MailListenerIntervalSec: getEnvInt("MAIL_LISTENER_INTERVAL_SEC", 30),
		MailListenerFetchMax:    getEnvInt("MAIL_LISTENER_FETCH_MAX", 20),
		MailIntakeOwnerID:       getEnv("MAIL_INTAKE_OWNER_ID", ""),
		MailDescriptionColumn:   getEnv("MAIL_DESCRIPTION_COLUMN", "Descrição"),
		MailQuantityColumn:      getEnv("MAIL_QUANTITY_COLUMN", ""),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func (c Config) ItemTimeout() time.Duration {
	if c.ProcessItemTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ProcessItemTimeoutMs) * time.Millisecond
}

// StoreTimeout bounds each storage call made while processing an upload.
func (c Config) StoreTimeout() time.Duration {
	if c.ProcessStoreTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ProcessStoreTimeoutMs) * time.Millisecond
}

func (c Config) MaintenanceInterval() time.Duration {
	if c.MaintenanceIntervalSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.MaintenanceIntervalSec) * time.Second
}

func (c Config) TokenTTL() time.Duration {
	if c.JWTTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.JWTTTLHours) * time.Hour
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
