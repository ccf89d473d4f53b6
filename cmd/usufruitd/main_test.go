package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.DB = filepath.Join(t.TempDir(), "usufruit.db")
	cfg.EmbedderDims = 32
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	t.Parallel()
	t.Log("Testing: server starts, answers /health and a create, then drains on cancel")

	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logger, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	base := "http://" + addr

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, health["semanticSearch"])

	resp, err = http.Post(base+"/api/v1/libraries", "application/json",
		strings.NewReader(`{"name":"Tool Shed","firstLibrarian":{"name":"Ada"}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "a founder needs contact info")

	resp, err = http.Post(base+"/api/v1/libraries", "application/json",
		strings.NewReader(`{"name":"Tool Shed","firstLibrarian":{"name":"Ada","contactInfo":"ada@example.org"}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()
	t.Log("Testing: an unusable listen address is reported")

	cfg := testConfig(t)
	cfg.Listen = "256.0.0.1:bad"
	err := run(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	assert.Error(t, err)
}

func TestBuild_SyslogUnavailableFallsBack(t *testing.T) {
	t.Parallel()
	t.Log("Testing: a missing syslog socket does not prevent startup")

	cfg := testConfig(t)
	cfg.Syslog = true
	cfg.SyslogSocket = filepath.Join(t.TempDir(), "no-such.sock")

	a, err := build(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.Close()
	assert.Len(t, a.closers, 1, "only the store is closed")
}

func TestNewEmbedder(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.EmbedderDims = 16
	assert.Equal(t, 16, newEmbedder(cfg).Dimensions())

	cfg.Embedder = "http"
	cfg.EmbedderURL = "http://localhost:1"
	assert.Equal(t, 16, newEmbedder(cfg).Dimensions())
}
