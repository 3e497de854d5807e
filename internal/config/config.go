package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported values for StoreMedium.
const (
	MediumMemory = "memory"
	MediumSQLite = "sqlite"
	MediumRedis  = "redis"
)

type Config struct {
	GeminiAPIKey   string        `yaml:"geminiApiKey"`
	GeminiModel    string        `yaml:"geminiModel"`
	StoreMedium    string        `yaml:"storeMedium"`
	DatabaseURL    string        `yaml:"databaseURL"`
	RedisAddr      string        `yaml:"redisAddr"`
	RedisPassword  string        `yaml:"redisPassword"`
	StoreKeyPrefix string        `yaml:"storeKeyPrefix"`
	HTTPPort       string        `yaml:"httpPort"`
	LogLevel       string        `yaml:"logLevel"`
	JWTSecret      string        `yaml:"jwtSecret"`
	JWTTTL         time.Duration `yaml:"jwtTTL"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
	ExportBucket   string        `yaml:"exportBucket"`
	AWSRegion      string        `yaml:"awsRegion"`
	AWSAccessKey   string        `yaml:"-"`
	AWSSecretKey   string        `yaml:"-"`
}

func defaults() Config {
	return Config{
		GeminiModel:    "gemini-2.0-flash",
		StoreMedium:    MediumSQLite,
		DatabaseURL:    "medos.db",
		StoreKeyPrefix: "medos_",
		HTTPPort:       "8080",
		LogLevel:       "info",
		JWTTTL:         24 * time.Hour,
		AllowedOrigins: []string{"http://localhost:5173"},
		AWSRegion:      "us-east-1",
	}
}

// LoadConfig resolves configuration from, in increasing precedence:
// built-in defaults, the YAML file at path (or MEDOS_CONFIG), and the environment.
// A .env file in the working directory is loaded into the environment first.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load() // Load .env file if it exists

	cfg := defaults()
	if path == "" {
		path = os.Getenv("MEDOS_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiModel = getEnv("GEMINI_MODEL", cfg.GeminiModel)
	cfg.StoreMedium = strings.ToLower(getEnv("STORE_MEDIUM", cfg.StoreMedium))
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.StoreKeyPrefix = getEnv("STORE_KEY_PREFIX", cfg.StoreKeyPrefix)
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTTTL = getEnvAsDuration("JWT_TTL", cfg.JWTTTL)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	cfg.ExportBucket = getEnv("EXPORT_BUCKET", cfg.ExportBucket)
	cfg.AWSRegion = getEnv("AWS_REGION", cfg.AWSRegion)
	cfg.AWSAccessKey = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretKey = getEnv("AWS_SECRET_ACCESS_KEY", "")

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if cfg.JWTTTL <= 0 {
		return errors.New("config: JWT_TTL must be positive")
	}
	switch cfg.StoreMedium {
	case MediumMemory:
	case MediumSQLite:
		if cfg.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for the sqlite medium")
		}
	case MediumRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: REDIS_ADDR is required for the redis medium")
		}
	default:
		return fmt.Errorf("config: unknown STORE_MEDIUM %q", cfg.StoreMedium)
	}
	if _, err := strconv.Atoi(cfg.HTTPPort); err != nil {
		return fmt.Errorf("config: invalid HTTP_PORT %q", cfg.HTTPPort)
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
