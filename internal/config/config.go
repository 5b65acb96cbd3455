package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port             string
	Env              string
	LogLevel         string
	DisplayTZ        string
	PatientJWTSecret string

	// Clinical backend API
	ClinicAPIBaseURL string
	ClinicAPIToken   string
	ClinicAPITimeout time.Duration

	// Scheduling defaults
	SlotMinutes    int
	SessionTTL     time.Duration
	ChallengeTTL   time.Duration
	CountdownEvery time.Duration

	// Redis session storage
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// HTTP surface
	CORSAllowedOrigins []string
	ConfirmRatePerSec  float64
	ConfirmBurst       int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DisplayTZ:        getEnv("DISPLAY_TZ", "Asia/Colombo"),
		PatientJWTSecret: getEnv("PATIENT_JWT_SECRET", ""),

		ClinicAPIBaseURL: getEnv("CLINIC_API_BASE_URL", "http://localhost:4000/api"),
		ClinicAPIToken:   getEnv("CLINIC_API_TOKEN", ""),
		ClinicAPITimeout: getEnvAsDuration("CLINIC_API_TIMEOUT", 15*time.Second),

		SlotMinutes:    getEnvAsInt("SLOT_MINUTES", 30),
		SessionTTL:     getEnvAsDuration("SESSION_TTL", 30*time.Minute),
		ChallengeTTL:   getEnvAsDuration("CHALLENGE_TTL", 10*time.Minute),
		CountdownEvery: getEnvAsDuration("COUNTDOWN_INTERVAL", time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", nil),
		ConfirmRatePerSec:  getEnvAsFloat("CONFIRM_RATE_PER_SEC", 1),
		ConfirmBurst:       getEnvAsInt("CONFIRM_BURST", 5),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSlice splits a comma-separated environment variable.
func getEnvAsSlice(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
