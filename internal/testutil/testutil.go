// Package testutil provides testing helpers for the vidmark job system.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/redis/go-redis/v9"

	"github.com/vidmark/vidmark/internal/migrate"
)

// TestDBConfig holds connection parameters for the test database.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig reads test database settings from the environment with
// local-compose defaults.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     envOr("TEST_DB_HOST", "localhost"),
		Port:     envOr("TEST_DB_PORT", "5432"),
		User:     envOr("TEST_DB_USER", "vidmark"),
		Password: envOr("TEST_DB_PASSWORD", "vidmark"),
		DBName:   envOr("TEST_DB_NAME", "vidmark_test"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func testDSN() string {
	cfg := DefaultTestDBConfig()
	hostPort := net.JoinHostPort(cfg.Host, cfg.Port)
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		cfg.User, cfg.Password, hostPort, cfg.DBName)
}

// SetupTestDB connects to the test database, runs migrations, and truncates
// job data. Tests are skipped when the database is unavailable.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("pgx", testDSN())
	if err != nil {
		t.Skip("Test database not available:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		t.Skip("Test database not available:", pingErr)
	}

	if migrateErr := migrate.Run(ctx, db); migrateErr != nil {
		_ = db.Close()
		t.Fatal("Failed to run migrations:", migrateErr)
	}

	if _, truncErr := db.ExecContext(ctx, `TRUNCATE video_jobs RESTART IDENTITY`); truncErr != nil {
		_ = db.Close()
		t.Fatal("Failed to clean test data:", truncErr)
	}

	t.Cleanup(func() {
		if cerr := db.Close(); cerr != nil {
			t.Logf("test db close failed: %v", cerr)
		}
	})
	return db
}

// SetupTestRedis connects to the test Redis instance. Tests are skipped when
// Redis is unavailable.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: envOr("TEST_REDIS_ADDR", "localhost:6379"),
		DB:   15, // isolated test DB
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Test Redis not available:", err)
	}

	t.Cleanup(func() {
		if err := client.FlushDB(context.Background()).Err(); err != nil {
			t.Logf("test redis flush failed: %v", err)
		}
		if cerr := client.Close(); cerr != nil {
			t.Logf("test redis close failed: %v", cerr)
		}
	})
	return client
}
