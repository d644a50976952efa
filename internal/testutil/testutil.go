// Package testutil provides shared test helpers for setting up stores and services.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/quire/internal/docservice"
	"github.com/starford/quire/internal/docstore"
)

// Logger returns a logger that discards everything below error level.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestStore creates a temporary SQLite document store that is automatically cleaned up.
func TestStore(t *testing.T) *docstore.Store {
	t.Helper()
	store, err := docstore.OpenSQLite(filepath.Join(t.TempDir(), "quire-test.db"), Logger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestService creates a document service over a temporary store.
func TestService(t *testing.T) (*docservice.Service, *docstore.Store) {
	t.Helper()
	store := TestStore(t)
	return docservice.NewService(store), store
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}
