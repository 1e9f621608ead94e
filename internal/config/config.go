package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		TokenTTL  string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Game struct {
		CountdownSeconds  int    `yaml:"countdown_seconds"`
		RevealDelay       string `yaml:"reveal_delay"`
		CheckpointRetries int    `yaml:"checkpoint_retries"`
	} `yaml:"game"`
	Practice struct {
		TTL                  string `yaml:"ttl"`
		DefaultQuestionCount int    `yaml:"default_question_count"`
	} `yaml:"practice"`
	Content struct {
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"content"`
	Scoring struct {
		BasePoints      int     `yaml:"base_points"`
		MaxPenaltyRatio float64 `yaml:"max_penalty_ratio"`
	} `yaml:"scoring"`
}

// Load reads YAML config from path and applies environment overrides. A
// missing file is not an error: defaults and the environment still apply.
// A .env file in the working directory is loaded first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}
	applyEnv(&cfg, os.Getenv)
	return cfg, nil
}

// Default returns the built-in settings used when neither file nor env set a value.
func Default() Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Redis.TTL = "6h"
	cfg.Auth.TokenTTL = "12h"
	cfg.Game.CountdownSeconds = 5
	cfg.Game.RevealDelay = "5s"
	cfg.Game.CheckpointRetries = 4
	cfg.Practice.TTL = "24h"
	cfg.Practice.DefaultQuestionCount = 10
	cfg.Content.CacheTTL = "10m"
	cfg.Scoring.BasePoints = 1000
	cfg.Scoring.MaxPenaltyRatio = 0.5
	return cfg
}

func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Server.Port, "PORT")
	set(&cfg.Log.Level, "LOG_LEVEL")
	set(&cfg.Log.Format, "LOG_FORMAT")
	set(&cfg.Redis.Addr, "REDIS_ADDR")
	set(&cfg.Redis.Password, "REDIS_PASSWORD")
	set(&cfg.Postgres.URL, "DATABASE_URL")
	set(&cfg.Auth.JWTSecret, "JWT_SECRET")
	if v := getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.AllowedOrigins = origins
	}
}

// CheckpointRetries is how many times a failed durable write is retried.
func (c Config) CheckpointRetries() uint64 {
	if c.Game.CheckpointRetries < 0 {
		return 0
	}
	return uint64(c.Game.CheckpointRetries)
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
