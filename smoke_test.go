package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpora/internal/config"
	"corpora/internal/testutils"
)

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestSmoke_Startup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping smoke test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	pgHost, pgPort, _ := strings.Cut(suite.PostgresAddr, ":")
	dbPort, err := strconv.Atoi(pgPort)
	require.NoError(t, err)

	_, b, _, _ := runtime.Caller(0)
	port := freePort(t)
	cfg := &config.Config{
		DBHost:                     pgHost,
		DBPort:                     dbPort,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "corpora_test",
		MigrationPath:              fmt.Sprintf("file://%s/migrations", filepath.Dir(b)),
		VectorBackend:              config.BackendWeaviate,
		WeaviateHost:               suite.WeaviateHost,
		WeaviateScheme:             "http",
		WeaviateClass:              "SmokeUnit",
		Provider:                   "local",
		LocalDimensions:            64,
		SimilarityThreshold:        0.1,
		SearchTopK:                 5,
		ContextWindow:              4096,
		MaxReducePasses:            3,
		ReduceConcurrency:          2,
		IndexBatchSize:             10,
		SnapshotMaxBytes:           1 << 20,
		NSQDHost:                   suite.NSQDAddr,
		NSQDHTTP:                   "localhost:1",
		ServerPort:                 port,
		QueryLogPath:               filepath.Join(t.TempDir(), "query.log"),
		BootstrapRetryAttempts:     5,
		BootstrapRetryDelaySeconds: 1,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	}()
	defer func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(20 * time.Second):
			t.Error("server did not shut down")
		}
	}()

	base := fmt.Sprintf("http://localhost:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 60*time.Second, 500*time.Millisecond)

	resp, err := http.Post(base+"/index", "application/json", strings.NewReader(
		`{"units":[{"source_path":"smoke.md","text":"The smoke test indexes one unit into weaviate."}]}`))
	require.NoError(t, err)
	out, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, string(out))
	assert.Contains(t, string(out), `"num_added":1`)

	resp, err = http.Post(base+"/search", "application/json", strings.NewReader(`{"query":"smoke test weaviate"}`))
	require.NoError(t, err)
	out, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(out), "smoke.md")
}
