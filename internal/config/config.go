package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	HistoryCacheTTLSeconds int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	historyTTL, err := strconv.Atoi(getEnv("HISTORY_CACHE_TTL_SECONDS", "30"))
	if err != nil || historyTTL < 1 {
		historyTTL = 30
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
		HistoryCacheTTLSeconds: historyTTL,
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
