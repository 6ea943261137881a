package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreUpstash  = "upstash"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

type StoreConfig struct {
	Backend      string        `yaml:"backend"`
	UpstashURL   string        `yaml:"upstash_url"`
	UpstashToken string        `yaml:"upstash_token"`
	RedisURL     string        `yaml:"redis_url"`
	DatabaseURL  string        `yaml:"database_url"`
	MaxConns     int32         `yaml:"max_conns"`
	SQLitePath   string        `yaml:"sqlite_path"`
	Timeout      time.Duration `yaml:"timeout"`
}

type APIConfig struct {
	Addr             string        `yaml:"addr"`
	Env              string        `yaml:"env"`
	LogLevel         string        `yaml:"log_level"`
	Store            StoreConfig   `yaml:"store"`
	WeekZone         string        `yaml:"week_zone"`
	SpecialNamespace string        `yaml:"special_namespace"`
	Namespaces       []string      `yaml:"namespaces"`
	SerializePerUser bool          `yaml:"serialize_per_user"`
	StatsTickEvery   time.Duration `yaml:"stats_tick_every"`
	WorkerMetrics    string        `yaml:"worker_metrics_addr"`
}

type CLIConfig struct {
	APIBaseURL string
}

func defaultAPI() APIConfig {
	return APIConfig{
		Addr:     ":8080",
		LogLevel: "info",
		Store: StoreConfig{
			Backend:    StoreUpstash,
			MaxConns:   20,
			SQLitePath: "raetsel.db",
			Timeout:    3 * time.Second,
		},
		WeekZone:         "Europe/Berlin",
		SpecialNamespace: "history",
		Namespaces:       []string{"classic", "history"},
		StatsTickEvery:   time.Minute,
		WorkerMetrics:    ":9091",
	}
}

// LoadAPIFromEnv builds the service configuration from defaults, the
// optional YAML file named by RAETSEL_CONFIG, and the environment, in that
// order of precedence.
func LoadAPIFromEnv() (APIConfig, error) {
	cfg := defaultAPI()
	if path := strings.TrimSpace(os.Getenv("RAETSEL_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	} else {
		cfg.Addr = envDefault("RAETSEL_API_ADDR", cfg.Addr)
	}
	cfg.Env = envDefault("RAETSEL_ENV", cfg.Env)
	cfg.LogLevel = envDefault("LOG_LEVEL", cfg.LogLevel)

	cfg.Store.Backend = strings.ToLower(envDefault("RAETSEL_STORE", cfg.Store.Backend))
	cfg.Store.UpstashURL = strings.TrimRight(envDefault("UPSTASH_REDIS_REST_URL", cfg.Store.UpstashURL), "/")
	cfg.Store.UpstashToken = envDefault("UPSTASH_REDIS_REST_TOKEN", cfg.Store.UpstashToken)
	cfg.Store.RedisURL = envDefault("REDIS_URL", cfg.Store.RedisURL)
	cfg.Store.DatabaseURL = envDefault("DATABASE_URL", cfg.Store.DatabaseURL)
	cfg.Store.MaxConns = int32(envIntDefault("RAETSEL_DB_MAX_CONNS", int(cfg.Store.MaxConns)))
	cfg.Store.SQLitePath = envDefault("RAETSEL_SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.Timeout = envDurationDefault("RAETSEL_STORE_TIMEOUT", cfg.Store.Timeout)

	cfg.WeekZone = envDefault("RAETSEL_WEEK_TIMEZONE", cfg.WeekZone)
	cfg.SpecialNamespace = strings.ToLower(envDefault("RAETSEL_SPECIAL_NAMESPACE", cfg.SpecialNamespace))
	cfg.Namespaces = envListDefault("RAETSEL_NAMESPACES", cfg.Namespaces)
	cfg.SerializePerUser = envBoolDefault("RAETSEL_SERIALIZE_PER_USER", cfg.SerializePerUser)
	cfg.StatsTickEvery = envDurationDefault("RAETSEL_STATS_TICK_EVERY", cfg.StatsTickEvery)
	cfg.WorkerMetrics = envDefault("RAETSEL_WORKER_METRICS_ADDR", cfg.WorkerMetrics)

	return cfg, cfg.validate()
}

func (c APIConfig) validate() error {
	switch c.Store.Backend {
	case StoreUpstash:
		if c.Store.UpstashURL == "" || c.Store.UpstashToken == "" {
			return fmt.Errorf("missing redis env vars: UPSTASH_REDIS_REST_URL and UPSTASH_REDIS_REST_TOKEN are required")
		}
	case StoreRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required")
		}
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("RAETSEL_SQLITE_PATH is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.StatsTickEvery <= 0 {
		return fmt.Errorf("stats tick interval must be positive")
	}
	return nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("RTL_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func loadFile(path string, cfg *APIConfig) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envListDefault(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
