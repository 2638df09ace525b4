package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ModeHTTP   = "http"
	ModeWorker = "worker"
	ModePush   = "push"

	WarehouseBigQuery = "bigquery"
	WarehousePostgres = "postgres"

	QueuePubSub = "pubsub"
	QueueRedis  = "redis"

	LogSinkGCS = "gcs"
	LogSinkS3  = "s3"
)

type Config struct {
	RunMode  string
	Port     string
	LogLevel string
	LogJSON  bool

	ProjectID string
	Timezone  string

	WarehouseBackend      string
	DatabaseURL           string
	PostgresMetadataTable string

	QueueBackend    string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string
	PendingQueue    string
	ProcessingQueue string
	WorkerCount     int

	QueueBatchSize int
	APIBatchSize   int

	Platform                  string
	CM360Endpoint             string
	SA360Endpoint             string
	APIQPS                    float64
	ImpersonateServiceAccount string
	GoogleCredentials         string

	UploadLogBackend string
	UploadLogBucket  string
	UploadLogPrefix  string
	S3Region         string
	AWSS3AccessKey   string
	AWSS3SecretKey   string
	S3Endpoint       string
	S3UsePathStyle   bool

	// Direct push run
	PushDataset                    string
	PushTable                      string
	CM360ProfileID                 string
	CM360FloodlightActivityID      string
	CM360FloodlightConfigurationID string
	SA360AgencyID                  string
	SA360AdvertiserID              string
	SA360SegmentationName          string
	CurrencyCode                   string

	location *time.Location
}

func Load() *Config {
	redisPrefix := getEnv("REDIS_PREFIX", "")
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_DATABASE", "warehouse")
	dbUser := getEnv("DB_USERNAME", "warehouse")
	dbPassword := getEnv("DB_PASSWORD", "")
	dbSSLMode := getEnv("DB_SSLMODE", "disable")

	// lib/pq supports "key=value" connection strings and this avoids
	// URI escaping issues for special characters in passwords.
	var dbURL string
	if dbPassword != "" {
		dbURL = fmt.Sprintf(
			"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
			dbHost, dbPort, dbName, dbUser, dbPassword, dbSSLMode,
		)
	} else {
		dbURL = fmt.Sprintf(
			"host=%s port=%s dbname=%s user=%s sslmode=%s",
			dbHost, dbPort, dbName, dbUser, dbSSLMode,
		)
	}
	if dbSSLRootCert := getEnv("DB_SSLROOTCERT", ""); dbSSLRootCert != "" {
		dbURL += fmt.Sprintf(" sslrootcert=%s", dbSSLRootCert)
	}

	return &Config{
		RunMode:  strings.ToLower(getEnv("RUN_MODE", ModeHTTP)),
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  getEnvBool("LOG_JSON", false),

		ProjectID: getEnvWithFallback("GCP_PROJECT", "GOOGLE_CLOUD_PROJECT", ""),
		Timezone:  getEnv("TIMEZONE", "America/New_York"),

		WarehouseBackend:      strings.ToLower(getEnv("WAREHOUSE_BACKEND", WarehouseBigQuery)),
		DatabaseURL:           dbURL,
		PostgresMetadataTable: getEnv("POSTGRES_METADATA_TABLE", "table_metadata"),

		QueueBackend:  strings.ToLower(getEnv("QUEUE_BACKEND", QueuePubSub)),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   redisPrefix,
		PendingQueue:  applyPrefix(getEnv("UPLOAD_PENDING_QUEUE", "conversions:pending"), redisPrefix),
		ProcessingQueue: applyPrefix(
			getEnv("UPLOAD_PROCESSING_QUEUE", "conversions:processing"),
			redisPrefix,
		),
		WorkerCount: getEnvInt("WORKER_COUNT", 1),

		QueueBatchSize: getEnvInt("QUEUE_BATCH_SIZE", 1000),
		APIBatchSize:   getEnvInt("API_BATCH_SIZE", 100),

		Platform:                  strings.ToLower(getEnv("UPLOAD_PLATFORM", "cm360")),
		CM360Endpoint:             getEnv("CM360_ENDPOINT", "https://dfareporting.googleapis.com/dfareporting/v4"),
		SA360Endpoint:             getEnv("SA360_ENDPOINT", "https://www.googleapis.com/doubleclicksearch/v2"),
		APIQPS:                    getEnvFloat("API_QPS", 0),
		ImpersonateServiceAccount: getEnv("IMPERSONATE_SERVICE_ACCOUNT", ""),
		GoogleCredentials:         getEnv("GOOGLE_CREDENTIALS", ""),

		UploadLogBackend: strings.ToLower(getEnv("UPLOAD_LOG_BACKEND", "")),
		UploadLogBucket:  getEnv("UPLOAD_LOG_BUCKET", "conversion_upload_log"),
		UploadLogPrefix:  getEnv("UPLOAD_LOG_PREFIX", "conversions"),
		// Prefer unified S3_* vars, fall back to legacy AWS_* vars for compatibility
		S3Region:       getEnvWithFallback("S3_REGION", "AWS_DEFAULT_REGION", "us-east-1"),
		AWSS3AccessKey: getEnvWithFallback("S3_KEY", "AWS_ACCESS_KEY_ID", ""),
		AWSS3SecretKey: getEnvWithFallback("S3_SECRET", "AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE_ENDPOINT", false),

		PushDataset:                    getEnv("PUSH_DATASET", ""),
		PushTable:                      getEnv("PUSH_TABLE", ""),
		CM360ProfileID:                 getEnv("CM360_PROFILE_ID", ""),
		CM360FloodlightActivityID:      getEnv("CM360_FLOODLIGHT_ACTIVITY_ID", ""),
		CM360FloodlightConfigurationID: getEnv("CM360_FLOODLIGHT_CONFIGURATION_ID", ""),
		SA360AgencyID:                  getEnv("SA360_AGENCY_ID", ""),
		SA360AdvertiserID:              getEnv("SA360_ADVERTISER_ID", ""),
		SA360SegmentationName:          getEnv("SA360_SEGMENTATION_NAME", ""),
		CurrencyCode:                   getEnv("CURRENCY_CODE", "USD"),
	}
}

// Validate checks the settings every run mode depends on and resolves the
// configured timezone.
func (c *Config) Validate() error {
	switch c.RunMode {
	case ModeHTTP, ModeWorker, ModePush:
	default:
		return fmt.Errorf("unknown RUN_MODE %q", c.RunMode)
	}
	switch c.WarehouseBackend {
	case WarehouseBigQuery, WarehousePostgres:
	default:
		return fmt.Errorf("unknown WAREHOUSE_BACKEND %q", c.WarehouseBackend)
	}
	switch c.QueueBackend {
	case QueuePubSub, QueueRedis:
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend)
	}
	switch c.UploadLogBackend {
	case "", LogSinkGCS, LogSinkS3:
	default:
		return fmt.Errorf("unknown UPLOAD_LOG_BACKEND %q", c.UploadLogBackend)
	}
	if c.QueueBatchSize < 1 || c.APIBatchSize < 1 {
		return fmt.Errorf("batch sizes must be positive (queue=%d api=%d)", c.QueueBatchSize, c.APIBatchSize)
	}
	if c.RunMode == ModeWorker && c.QueueBackend != QueueRedis {
		return fmt.Errorf("RUN_MODE=worker requires QUEUE_BACKEND=redis")
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	c.location = loc
	return nil
}

// Location returns the configured timezone. Validate must have succeeded.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvWithFallback(primaryKey, secondaryKey, fallback string) string {
	if value := os.Getenv(primaryKey); value != "" {
		return value
	}
	if value := os.Getenv(secondaryKey); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func applyPrefix(key string, prefix string) string {
	if prefix == "" {
		return key
	}
	return prefix + key
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
