package app_test

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpora/internal/app"
	"corpora/internal/config"
	"corpora/internal/testutils"
)

func TestBootstrap_Resilience_DBDown(t *testing.T) {
	cfg := &config.Config{
		DBHost:                     "localhost",
		DBPort:                     54322,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "test",
		BootstrapRetryAttempts:     1,
		BootstrapRetryDelaySeconds: 0,
	}

	start := time.Now()
	deps, err := app.Bootstrap(context.Background(), cfg)
	duration := time.Since(start)

	assert.Error(t, err)
	assert.Nil(t, deps)
	assert.Contains(t, err.Error(), "failed to ping db")
	assert.Less(t, duration, 2*time.Second)
}

func migrationPath() string {
	_, b, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b))
}

// dbConfig points a config at the suite's Postgres container.
func dbConfig(t *testing.T, s *testutils.IntegrationSuite) *config.Config {
	host, portStr, ok := strings.Cut(s.PostgresAddr, ":")
	require.True(t, ok)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &config.Config{
		DBHost:        host,
		DBPort:        port,
		DBUser:        "test",
		DBPass:        "test",
		DBName:        "corpora_test",
		MigrationPath: migrationPath(),
		NSQDHost:      s.NSQDAddr,
		NSQDHTTP:      "localhost:1",
	}
}

func TestBootstrap_Resilience_WeaviateDown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	cfg := dbConfig(t, suite)
	cfg.VectorBackend = config.BackendWeaviate
	cfg.WeaviateHost = "localhost:54322"
	cfg.WeaviateScheme = "http"
	cfg.BootstrapRetryAttempts = 2
	cfg.BootstrapRetryDelaySeconds = 1

	start := time.Now()
	deps, err := app.Bootstrap(context.Background(), cfg)
	duration := time.Since(start)

	assert.Error(t, err)
	assert.Nil(t, deps)
	assert.Contains(t, err.Error(), "weaviate schema error")
	assert.Greater(t, duration, 1*time.Second)
}

func TestBootstrap_MemoryBackendSkipsWeaviate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	cfg := dbConfig(t, suite)
	cfg.VectorBackend = config.BackendMemory
	cfg.BootstrapRetryAttempts = 3

	deps, err := app.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer deps.Close()

	assert.Nil(t, deps.Weaviate)
	assert.NotNil(t, deps.NSQProducer)
	assert.NoError(t, deps.DB.Ping())
}
