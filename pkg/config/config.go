package config

import (
	"os"
	"strconv"
)

type Config struct {
	GoogleApiKey   string
	DatabaseURL    string
	ReasoningModel string
	FastModel      string
	Port           string

	TavilyApiKey string

	ChartMCPURL   string
	ChartApiToken string
	ChartDataURL  string

	EmbeddingModel string
	EmbeddingDim   int
	ChunkSize      int
	ChunkOverlap   int

	MaxSteps          int
	SearchConcurrency int
	MaxResources      int
}

func Load() *Config {
	return &Config{
		GoogleApiKey:   getEnv("GOOGLE_API_KEY", ""),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		ReasoningModel: getEnv("REASONING_MODEL", "gemini-3-pro-preview"),
		FastModel:      getEnv("FAST_MODEL", "gemini-3-flash-preview"),
		Port:           getEnv("PORT", "3000"),

		TavilyApiKey: getEnv("TAVILY_API_KEY", ""),

		ChartMCPURL:   getEnv("CHART_MCP_URL", "https://mcp.tako.com"),
		ChartApiToken: getEnv("CHART_API_TOKEN", ""),
		ChartDataURL:  getEnv("CHART_DATA_URL", "https://tako.com"),

		EmbeddingModel: getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		EmbeddingDim:   getEnvAsInt("EMBEDDING_DIM", 768),
		ChunkSize:      getEnvAsInt("CHUNK_SIZE", 1000),
		ChunkOverlap:   getEnvAsInt("CHUNK_OVERLAP", 200),

		MaxSteps:          getEnvAsInt("MAX_STEPS", 6),
		SearchConcurrency: getEnvAsInt("SEARCH_CONCURRENCY", 8),
		MaxResources:      getEnvAsInt("MAX_RESOURCES", 10),
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
