package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string
	DBSSLMode  string
	JWTSecret  string

	ServerAddr string
	LogDir     string
	// WSOriginPatterns lists the extra hosts allowed to open /ws/session;
	// same-host requests are always accepted.
	WSOriginPatterns []string

	LLMProvider    string
	LLMModel       string
	LLMTemperature float64
	LLMMaxTokens   int
	OpenAIAPIKey   string
	GroqAPIKey     string
	OllamaURL      string

	// HistoryLimit caps how many transcript turns reach the model.
	HistoryLimit      int
	StreamIdleTimeout time.Duration
	PromptsFile       string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOSecure    bool

	// client side
	ServerURL string
	Token     string
}

const DefaultStreamIdleTimeout = 30 * time.Second

// LoadConfig reads the process environment, optionally seeded from a .env file.
func LoadConfig() Config {
	// a missing .env is fine, the environment wins anyway
	_ = godotenv.Load()

	return Config{
		DBUser:     getEnv("DB_USER", ""),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBName:     getEnv("DB_NAME", "physio"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		JWTSecret:  getEnv("JWT_SECRET", ""),

		ServerAddr: getEnv("SERVER_ADDR", ":8000"),
		LogDir:     getEnv("LOG_DIR", "./logs"),

		WSOriginPatterns: getEnvList("WS_ORIGIN_PATTERNS"),

		LLMProvider:    getEnv("LLM_PROVIDER", "openai"),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4"),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.6),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1000),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		GroqAPIKey:     getEnv("GROQ_API_KEY", ""),
		OllamaURL:      getEnv("OLLAMA_URL", "http://localhost:11434/api"),

		HistoryLimit:      getEnvInt("HISTORY_LIMIT", 20),
		StreamIdleTimeout: getEnvDuration("STREAM_IDLE_TIMEOUT", DefaultStreamIdleTimeout),
		PromptsFile:       getEnv("PROMPTS_FILE", ""),

		MinIOEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:    getEnv("MINIO_BUCKET", "physio-transcripts"),
		MinIOSecure:    getEnvBool("MINIO_SECURE", false),

		ServerURL: getEnv("PHYSIO_SERVER_URL", "http://localhost:8000"),
		Token:     getEnv("PHYSIO_TOKEN", ""),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnvDuration accepts Go durations ("45s") or bare seconds ("45").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
