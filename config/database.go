package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"vidmark"`
	Password string `env:"PASSWORD" envDefault:"vidmark"`
	Name     string `env:"NAME"     envDefault:"vidmark"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI      string `env:"URI"      envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`
}

// CacheConfig contains job-status cache configuration (Redis-based).
type CacheConfig struct {
	// StatusTTL is the TTL for cached job status entries. The UI polls
	// status aggressively; a short TTL keeps reads off Postgres without
	// serving stale terminal states for long.
	StatusTTL time.Duration `env:"CACHE_STATUS_TTL" envDefault:"2s"`
}
