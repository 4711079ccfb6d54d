package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv() {
	for _, e := range os.Environ() {
		for _, prefix := range []string{"ENGINE_"} {
			if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
				name := e[:indexOf(e, '=')]
				os.Unsetenv(name)
			}
		}
	}
}

func indexOf(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func TestConfig_Load_DefaultValues(t *testing.T) {
	clearEnv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Server.CORS)

	assert.Equal(t, 20, cfg.Database.MaxConnections)
	assert.Equal(t, 5, cfg.Database.MinConnections)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, 10, cfg.Scheduler.MaxConcurrentExecutions)
	assert.Equal(t, 4, cfg.Scheduler.DefaultMaxConcurrentNodes)
	assert.Equal(t, 256, cfg.Scheduler.ConditionCacheSize)

	assert.Equal(t, 30*time.Minute, cfg.UIInteraction.DefaultTimeout)
}

func TestConfig_Load_CustomValues(t *testing.T) {
	clearEnv()
	defer clearEnv()

	os.Setenv("ENGINE_PORT", "9090")
	os.Setenv("ENGINE_HOST", "127.0.0.1")
	os.Setenv("ENGINE_MAX_CONCURRENT_EXECUTIONS", "42")
	os.Setenv("ENGINE_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 42, cfg.Scheduler.MaxConcurrentExecutions)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestConfig_Validate_InvalidPort(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 0},
		Database:  DatabaseConfig{URL: "postgres://x", MaxConnections: 1, MinConnections: 1},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Scheduler: SchedulerConfig{MaxConcurrentExecutions: 1, DefaultMaxConcurrentNodes: 1},
	}
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_MissingDatabaseURL(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 8080},
		Database:  DatabaseConfig{URL: "", MaxConnections: 1, MinConnections: 1},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Scheduler: SchedulerConfig{MaxConcurrentExecutions: 1, DefaultMaxConcurrentNodes: 1},
	}
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_MinExceedsMaxConnections(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 8080},
		Database:  DatabaseConfig{URL: "postgres://x", MaxConnections: 2, MinConnections: 5},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Scheduler: SchedulerConfig{MaxConcurrentExecutions: 1, DefaultMaxConcurrentNodes: 1},
	}
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_InvalidLogLevel(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 8080},
		Database:  DatabaseConfig{URL: "postgres://x", MaxConnections: 2, MinConnections: 1},
		Logging:   LoggingConfig{Level: "verbose", Format: "json"},
		Scheduler: SchedulerConfig{MaxConcurrentExecutions: 1, DefaultMaxConcurrentNodes: 1},
	}
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_InvalidSchedulerCaps(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 8080},
		Database:  DatabaseConfig{URL: "postgres://x", MaxConnections: 2, MinConnections: 1},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Scheduler: SchedulerConfig{MaxConcurrentExecutions: 0, DefaultMaxConcurrentNodes: 1},
	}
	assert.Error(t, cfg.Validate())
}

func TestGetEnvAsSlice_Parsing(t *testing.T) {
	os.Setenv("ENGINE_CORS_ALLOWED_ORIGINS", "a.com,b.com,c.com")
	defer os.Unsetenv("ENGINE_CORS_ALLOWED_ORIGINS")

	got := getEnvAsSlice("ENGINE_CORS_ALLOWED_ORIGINS", nil)
	assert.Equal(t, []string{"a.com", "b.com", "c.com"}, got)
}
