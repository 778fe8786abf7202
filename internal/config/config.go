package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

type Config struct {
	AppEnv                string
	LogLevel              string
	StoreBackend          string
	MongoURI              string
	MongoDatabase         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	EntityCacheTTLSeconds int
	OrderNumberPrefix     string
	ListenPollIntervalMS  int
	TxMaxAttempts         int
}

// Load reads configuration from the environment, falling back to an optional
// .env or config.env file in the working directory.
func Load() Config {
	v := viper.New()
	v.SetConfigType("env")
	for _, name := range []string{".env", "config"} {
		v.SetConfigName(name)
		v.AddConfigPath(".")
		_ = v.MergeInConfig()
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := Config{
		AppEnv:                getString(v, "APP_ENV", "development"),
		LogLevel:              getString(v, "LOG_LEVEL", "info"),
		StoreBackend:          strings.ToLower(getString(v, "STORE_BACKEND", BackendMemory)),
		MongoURI:              getString(v, "MONGO_URI", ""),
		MongoDatabase:         getString(v, "MONGO_DATABASE", "phonepos"),
		DatabaseURL:           getString(v, "DATABASE_URL", ""),
		RedisAddr:             getString(v, "REDIS_ADDR", ""),
		RedisPassword:         getString(v, "REDIS_PASSWORD", ""),
		RedisDB:               getInt(v, "REDIS_DB", 0),
		EntityCacheTTLSeconds: getInt(v, "ENTITY_CACHE_TTL_SECONDS", 60),
		OrderNumberPrefix:     getString(v, "ORDER_NUMBER_PREFIX", "ORD-"),
		ListenPollIntervalMS:  getInt(v, "LISTEN_POLL_INTERVAL_MS", 1000),
		TxMaxAttempts:         getInt(v, "TX_MAX_ATTEMPTS", 5),
	}
	if cfg.EntityCacheTTLSeconds < 1 {
		cfg.EntityCacheTTLSeconds = 60
	}
	if cfg.ListenPollIntervalMS < 50 {
		cfg.ListenPollIntervalMS = 1000
	}
	if cfg.TxMaxAttempts < 1 {
		cfg.TxMaxAttempts = 5
	}

	return cfg
}

func (c Config) EntityCacheTTL() time.Duration {
	return time.Duration(c.EntityCacheTTLSeconds) * time.Second
}

func (c Config) ListenPollInterval() time.Duration {
	return time.Duration(c.ListenPollIntervalMS) * time.Millisecond
}

func getString(v *viper.Viper, key string, fallback string) string {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return fallback
	}
	return val
}

func getInt(v *viper.Viper, key string, fallback int) int {
	if !v.IsSet(key) || strings.TrimSpace(v.GetString(key)) == "" {
		return fallback
	}
	return v.GetInt(key)
}
