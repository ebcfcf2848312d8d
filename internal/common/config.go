package common

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Recognize RecognizeConfig
	Storage   StorageConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr        string
	LogLevel    string
	MetricsPath string
}

// AuthConfig holds the auth collaborator's configuration
type AuthConfig struct {
	SQLitePath string
	JWTSecret  string
	TokenTTL   time.Duration
}

// RecognizeConfig holds recognition service configuration
type RecognizeConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
	RatePerSec  float64
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Timeout   time.Duration
	URLExpiry time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        getEnv("HTTP_ADDR", ":8080"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			MetricsPath: getEnv("METRICS_PATH", "/metrics"),
		},
		Auth: AuthConfig{
			SQLitePath: getEnv("AUTH_DB_PATH", "./data/users.db"),
			JWTSecret:  getEnv("JWT_SECRET_KEY", ""),
			TokenTTL:   getEnvAsDuration("JWT_TOKEN_TTL", 24*time.Hour),
		},
		Recognize: RecognizeConfig{
			APIKey:      getEnv("DASHSCOPE_API_KEY", ""),
			BaseURL:     getEnv("DASHSCOPE_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
			Model:       getEnv("DASHSCOPE_MODEL", "qwen-vl-max"),
			Temperature: getEnvAsFloat32("DASHSCOPE_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("RECOGNIZE_TIMEOUT", 45*time.Second),
			RatePerSec:  getEnvAsFloat64("RECOGNIZE_RATE_PER_SEC", 2),
		},
		Storage: StorageConfig{
			Endpoint:  getEnv("MINIO_HOST", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "expense-exports"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
			Timeout:   getEnvAsDuration("STORAGE_TIMEOUT", 30*time.Second),
			URLExpiry: getEnvAsDuration("STORAGE_URL_EXPIRY", 7*24*time.Hour),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Recognize.APIKey == "" {
		return errors.New("DASHSCOPE_API_KEY is required")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET_KEY is required")
	}
	return nil
}
