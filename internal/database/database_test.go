package database_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devicegate/devicegate/internal/database"
)

func TestConfig_ConnectionString(t *testing.T) {
	cfg := database.Config{
		Host:     "db.internal",
		Port:     5433,
		User:     "gate",
		Password: "pw",
		Database: "devices",
		SSLMode:  "require",
	}
	assert.Equal(t, "postgres://gate:pw@db.internal:5433/devices?sslmode=require", cfg.ConnectionString())

	cfg.URL = "postgres://override/db"
	assert.Equal(t, "postgres://override/db", cfg.ConnectionString())
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_PORT", "")

	cfg := database.ConfigFromEnv()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "devices", cfg.DocumentID)
	assert.Equal(t, 4, cfg.MaxConns)
}
