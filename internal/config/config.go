package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Port              string        `koanf:"PORT"`
	AllowedOrigin     string        `koanf:"ALLOWED_ORIGIN"`
	DatabaseURL       string        `koanf:"DATABASE_URL"`
	RedisAddr         string        `koanf:"REDIS_ADDR"`
	RedisPassword     string        `koanf:"REDIS_PASSWORD"`
	RedisDB           int           `koanf:"REDIS_DB"`
	AuthSecret        string        `koanf:"AUTH_SECRET"`
	SessionTTLMinutes int           `koanf:"SESSION_TTL_MINUTES"`
	OperationTimeout  time.Duration `koanf:"OPERATION_TIMEOUT"`
	LockTTL           time.Duration `koanf:"LOCK_TTL"`
	LogFormat         string        `koanf:"LOG_FORMAT"`
	LogLevel          string        `koanf:"LOG_LEVEL"`
	MigrateOnStart    bool          `koanf:"MIGRATE_ON_START"`
}

func defaults() Config {
	return Config{
		Port:              "8080",
		AllowedOrigin:     "http://127.0.0.1:3000",
		SessionTTLMinutes: 480,
		OperationTimeout:  5 * time.Second,
		LockTTL:           10 * time.Second,
		LogFormat:         "json",
		LogLevel:          "info",
	}
}

// Load reads an optional .env file and then the process environment, which
// wins on conflicts. Blank variables keep their defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	provider := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		value = strings.TrimSpace(value)
		if value == "" {
			return "", nil
		}
		return key, value
	})
	if err := k.Load(provider, nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.SessionTTLMinutes < 1 {
		cfg.SessionTTLMinutes = 480
	}
	if cfg.OperationTimeout <= 0 {
		return Config{}, fmt.Errorf("OPERATION_TIMEOUT: must be positive, got %s", cfg.OperationTimeout)
	}
	if cfg.LockTTL <= 0 {
		return Config{}, fmt.Errorf("LOCK_TTL: must be positive, got %s", cfg.LockTTL)
	}
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	return cfg, nil
}

func (c Config) Address() string {
	port := strings.TrimSpace(c.Port)
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}
