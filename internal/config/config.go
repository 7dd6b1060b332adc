package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                     string
	AllowedOrigin            string
	BackendBaseURL           string
	BackendTimeoutSeconds    int
	DatabaseURL              string
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	TenantID                 string
	ProductCacheTTLSeconds   int
	CatalogPrefetchDelayMS   int
	DefaultMarkupRatePercent int
	SupervisorPIN            string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	backendTimeout, err := strconv.Atoi(getEnv("BACKEND_TIMEOUT_SECONDS", "10"))
	if err != nil || backendTimeout < 1 {
		backendTimeout = 10
	}
	cacheTTL, err := strconv.Atoi(getEnv("PRODUCT_CACHE_TTL_SECONDS", "300"))
	if err != nil || cacheTTL < 1 {
		cacheTTL = 300
	}
	prefetchDelay, err := strconv.Atoi(getEnv("CATALOG_PREFETCH_DELAY_MS", "400"))
	if err != nil || prefetchDelay < 1 {
		prefetchDelay = 400
	}
	markupRate, err := strconv.Atoi(getEnv("DEFAULT_MARKUP_RATE_PERCENT", "10"))
	if err != nil || markupRate < 1 || markupRate > 1000 {
		markupRate = 10
	}

	cfg := Config{
		Port:                     getEnv("PORT", "8090"),
		AllowedOrigin:            getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		BackendBaseURL:           strings.TrimRight(strings.TrimSpace(os.Getenv("BACKEND_BASE_URL")), "/"),
		BackendTimeoutSeconds:    backendTimeout,
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  redisDB,
		TenantID:                 getEnv("TENANT_ID", "default-tenant"),
		ProductCacheTTLSeconds:   cacheTTL,
		CatalogPrefetchDelayMS:   prefetchDelay,
		DefaultMarkupRatePercent: markupRate,
		SupervisorPIN:            strings.TrimSpace(os.Getenv("SUPERVISOR_PIN")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
