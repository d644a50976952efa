package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/quire/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Client.DebounceWindow != 850*time.Millisecond {
		t.Errorf("debounce window = %v", cfg.Client.DebounceWindow)
	}
	if !cfg.Client.FlushOnClose {
		t.Error("flush on close should default to true")
	}
}

func TestStorageConfig_PostgresRequiresDSN(t *testing.T) {
	cfg := StorageConfig{Driver: DriverPostgres}
	if err := cfg.Validate(); err == nil {
		t.Fatal("postgres without dsn should fail")
	}
	cfg.Postgres.DSN = "postgres://localhost/quire"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("postgres with dsn should pass: %v", err)
	}
	if cfg.Location() != "postgres://localhost/quire" {
		t.Errorf("location = %q", cfg.Location())
	}
}

func TestStorageConfig_UnknownDriver(t *testing.T) {
	cfg := StorageConfig{Driver: "mysql", SQLite: SQLiteConfig{Path: "x.db"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown driver should fail")
	}
}

func TestRelayConfig_ZeroBufferInvalid(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Relay.OrderedBuffer = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero ordered buffer should fail")
	}
}

func TestLoad_YAMLWithEnv(t *testing.T) {
	t.Setenv("QUIRE_TEST_TOKEN", "s3cret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
  http:
    port: 9090
storage:
  driver: sqlite
  sqlite:
    path: /tmp/quire.db
auth:
  mode: token
  token: ${QUIRE_TEST_TOKEN}
client:
  debounce_window: 300ms
  flush_on_close: false
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTP.Port != 9090 || cfg.App.LogLevel != slog.LevelDebug {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Auth.Token != "s3cret" || !cfg.Auth.AuthEnabled() {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Client.DebounceWindow != 300*time.Millisecond || cfg.Client.FlushOnClose {
		t.Errorf("client = %+v", cfg.Client)
	}
	// Untouched sections keep their defaults.
	if cfg.Feed.PollInterval != time.Second {
		t.Errorf("feed poll interval = %v", cfg.Feed.PollInterval)
	}
}
