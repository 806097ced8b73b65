package config

import (
	"log/slog"
	"time"
)

// ServerConfig holds runtime configuration for the airlock server.
type ServerConfig struct {
	Environment       string
	Addr              string
	LogLevel          slog.Level
	DatabaseDriver    string
	DatabaseURL       string
	DeploymentsDir    string
	PluginWorkdir     string
	PluginsConfig     string
	PluginBaseDir     string
	PluginTimeout     time.Duration
	CheckTimeout      time.Duration
	MaxUploadBytes    int64
	MaxExtractedBytes int64
	DemoTTL           time.Duration
	CleanupInterval   time.Duration
	EnableDeploy      bool
	DockerHost        string
	Registry          string
	PublicHost        string
	PublicBaseURL     string
	ModelAPIURL       string
	ModelAPIKey       string
	ModelName         string
	ModelTimeout      time.Duration
	BrandPartnerURL   string
	JWTSecret         string
	RateLimitPerMin   int
	RateLimitRedis    string
	RateLimitRedisPw  string
	RateLimitRedisDB  int
	RedisURL          string
	NATSURL           string
	NATSSubject       string
}

// LoadServerConfig constructs a ServerConfig from environment variables.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Environment:       GetString("APP_ENV", "development"),
		Addr:              GetString("AIRLOCK_ADDR", ":8000"),
		LogLevel:          GetLevel("LOG_LEVEL", slog.LevelInfo),
		DatabaseDriver:    GetString("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:       GetString("DATABASE_URL", "data/airlock.db"),
		DeploymentsDir:    GetString("DEPLOYMENTS_DIR", "data/deployments"),
		PluginWorkdir:     GetString("PLUGIN_WORKDIR", "data/plugin-work"),
		PluginsConfig:     GetString("PLUGINS_CONFIG", "plugins.yml"),
		PluginBaseDir:     GetString("PLUGIN_BASE_DIR", "."),
		PluginTimeout:     GetSeconds("PLUGIN_TIMEOUT_SECONDS", 120),
		CheckTimeout:      GetSeconds("CHECK_TIMEOUT_SECONDS", 600),
		MaxUploadBytes:    GetInt64("MAX_UPLOAD_BYTES", 50<<20),
		MaxExtractedBytes: GetInt64("MAX_EXTRACTED_BYTES", 100<<20),
		DemoTTL:           GetSeconds("DEMO_TTL_SECONDS", 3600),
		CleanupInterval:   GetSeconds("CLEANUP_INTERVAL_SECONDS", 60),
		EnableDeploy:      GetBool("ENABLE_DEPLOY", false),
		DockerHost:        GetString("DOCKER_HOST", ""),
		Registry:          GetString("DOCKER_REGISTRY", "airlock"),
		PublicHost:        GetString("PUBLIC_HOST", "localhost"),
		PublicBaseURL:     GetString("PUBLIC_BASE_URL", "http://localhost:8080"),
		ModelAPIURL:       GetString("MODEL_API_URL", "https://api.anthropic.com/v1/messages"),
		ModelAPIKey:       GetString("MODEL_API_KEY", ""),
		ModelName:         GetString("MODEL_NAME", "claude-sonnet-4-20250514"),
		ModelTimeout:      GetSeconds("MODEL_TIMEOUT_SECONDS", 60),
		BrandPartnerURL:   GetString("BRAND_PARTNER_URL", ""),
		JWTSecret:         GetString("AUTH_JWT_SECRET", ""),
		RateLimitPerMin:   GetInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitRedis:    GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPw:  GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:  GetInt("RATE_LIMIT_REDIS_DB", 0),
		RedisURL:          GetString("REDIS_URL", ""),
		NATSURL:           GetString("NATS_URL", ""),
		NATSSubject:       GetString("NATS_SUBJECT", "airlock.deployments"),
	}
}
