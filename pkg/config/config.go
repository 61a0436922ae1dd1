package config

import (
	"os"
	"strconv"
)

type Config struct {
	GoogleApiKey          string
	SerperApiKey          string
	SemanticScholarApiKey string
	DatabaseURL           string
	ReasoningModel        string
	SynthesisModel        string
	EmbeddingModel        string
	Port                  string
	MaxIterations         int
	MaxDurationMs         int
	ToolBatchSize         int
	RateLimitPerMin       int
}

func Load() *Config {
	return &Config{
		GoogleApiKey:          getEnv("GOOGLE_API_KEY", ""),
		SerperApiKey:          getEnv("SERPER_API_KEY", ""),
		SemanticScholarApiKey: getEnv("SEMANTIC_SCHOLAR_API_KEY", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		ReasoningModel:        getEnv("REASONING_MODEL", "gemini-3-flash-preview"),
		SynthesisModel:        getEnv("SYNTHESIS_MODEL", "gemini-3-pro-preview"),
		EmbeddingModel:        getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		Port:                  getEnv("PORT", "8081"),
		MaxIterations:         getEnvAsInt("MAX_ITERATIONS", 10),
		MaxDurationMs:         getEnvAsInt("MAX_DURATION_MS", 120000),
		// 0 runs tool batches fully parallel; set to bound in-flight provider calls.
		ToolBatchSize:   getEnvAsInt("TOOL_BATCH_SIZE", 0),
		RateLimitPerMin: getEnvAsInt("RATE_LIMIT_PER_MIN", 30),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
