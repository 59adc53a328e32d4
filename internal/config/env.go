package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	RedisURL     string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	AIAPIKey     string
	GenModel     string

	LogLevel  string
	LogFormat string

	// Document processing knobs.
	MaxChunkWords     int
	ChunkOverlapWords int
	MaxConcurrent     int
	QualityThreshold  float64
	ProcessingTimeout time.Duration
	BatchPacing       time.Duration

	// Background task management.
	TaskRetention time.Duration
	WorkerCount   int
}

// LoadConfig loads the environment variables and returns config.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "venxtra-docs"),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MaxChunkWords:     getEnvInt("MAX_CHUNK_WORDS", 2000),
		ChunkOverlapWords: getEnvInt("CHUNK_OVERLAP_WORDS", 200),
		MaxConcurrent:     getEnvInt("MAX_CONCURRENT_CHUNKS", 3),
		QualityThreshold:  getEnvFloat("CHUNK_QUALITY_THRESHOLD", 0.1),
		ProcessingTimeout: getEnvDuration("PROCESSING_TIMEOUT", 30*time.Minute),
		BatchPacing:       getEnvDuration("BATCH_PACING", time.Second),

		TaskRetention: getEnvDuration("TASK_RETENTION", 24*time.Hour),
		WorkerCount:   getEnvInt("WORKER_COUNT", 2),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a float, using default %g", key, v, def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
