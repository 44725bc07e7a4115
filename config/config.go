// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// KEKプロバイダの種別。
const (
	KEKProviderKMS   = "kms"
	KEKProviderLocal = "local"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string
	Environment        string
	DatabaseDriver     string
	DatabaseURL        string
	DBAutoMigrate      bool
	KEKProvider        string
	KMSKeyName         string
	GoogleCloudProject string
	MasterKey          string
	JWTSecret          string
	JWTIssuer          string
	LogLevel           string

	// CertificateValidity は証明書の有効期間（既定は365日）。
	CertificateValidity time.Duration
	// AutoDeliverOnRead が true の場合、受信者の初回閲覧で配送済みに遷移する。
	AutoDeliverOnRead bool

	RedisURL        string
	LockTTL         time.Duration
	KafkaBrokers    []string
	KafkaAuditTopic string

	MetricsEnabled   bool
	OtelEnabled      bool
	OtelEndpoint     string
	OtelInsecure     bool
	OtelServiceName  string
	OtelSamplingRate float64
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:                getEnv("PORT", "8080"),
		Environment:         getEnv("APP_ENV", "development"),
		DatabaseDriver:      getEnv("DATABASE_DRIVER", "mysql"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		DBAutoMigrate:       getEnvBool("DB_AUTO_MIGRATE", false),
		KEKProvider:         getEnv("KEK_PROVIDER", KEKProviderKMS),
		KMSKeyName:          os.Getenv("KMS_KEY_NAME"),
		GoogleCloudProject:  os.Getenv("GOOGLE_CLOUD_PROJECT"),
		MasterKey:           os.Getenv("MASTER_KEY"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTIssuer:           getEnv("JWT_ISSUER", "secure-message-service"),
		LogLevel:            getEnv("LOG_LEVEL", "INFO"),
		CertificateValidity: getEnvDuration("CERTIFICATE_VALIDITY", 365*24*time.Hour),
		AutoDeliverOnRead:   getEnvBool("AUTO_DELIVER_ON_READ", false),
		RedisURL:            os.Getenv("REDIS_URL"),
		LockTTL:             getEnvDuration("LOCK_TTL", 10*time.Second),
		KafkaBrokers:        getEnvList("KAFKA_BROKERS"),
		KafkaAuditTopic:     getEnv("KAFKA_AUDIT_TOPIC", "message-audit"),
		MetricsEnabled:      getEnvBool("METRICS_ENABLED", true),
		OtelEnabled:         getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:        getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelInsecure:        getEnvBool("OTEL_INSECURE", false),
		OtelServiceName:     getEnv("OTEL_SERVICE_NAME", "secure-message-service"),
		OtelSamplingRate:    getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
