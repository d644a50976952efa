package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Storage StorageConfig     `yaml:"storage"`
	Feed    FeedConfig        `yaml:"feed"`
	Relay   RelayConfig       `yaml:"relay"`
	Auth    AuthConfig        `yaml:"auth"`
	Client  ClientConfig      `yaml:"client"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Feed.Validate(); err != nil {
		return err
	}
	if err := c.Relay.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.Client.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StorageConfig selects the durable store.
type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// Location returns the driver-specific path or DSN.
func (c *StorageConfig) Location() string {
	if c.Driver == DriverPostgres {
		return c.Postgres.DSN
	}
	return c.SQLite.Path
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
	); err != nil {
		return err
	}
	if c.Driver == DriverPostgres {
		return validation.ValidateStruct(&c.Postgres,
			validation.Field(&c.Postgres.DSN, validation.Required),
		)
	}
	return validation.ValidateStruct(&c.SQLite,
		validation.Field(&c.SQLite.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds the Postgres connection string.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// FeedConfig tunes the change feed.
type FeedConfig struct {
	// PollInterval bounds the delay for changes no wake source reported.
	PollInterval time.Duration `yaml:"poll_interval"`
	// Retention is how long change log entries are kept.
	Retention time.Duration `yaml:"retention"`
	// ResyncThrottle is the minimum spacing of resync events.
	ResyncThrottle time.Duration `yaml:"resync_throttle"`
}

// Validate validates the feed configuration.
func (c *FeedConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PollInterval, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.Retention, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.ResyncThrottle, validation.Min(time.Duration(0))),
	)
}

// RelayConfig tunes the relay socket endpoint.
type RelayConfig struct {
	OrderedBuffer   int           `yaml:"ordered_buffer"`
	CursorBuffer    int           `yaml:"cursor_buffer"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
}

// Validate validates the relay configuration.
func (c *RelayConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.OrderedBuffer, validation.Required, validation.Min(1)),
		validation.Field(&c.CursorBuffer, validation.Required, validation.Min(1)),
		validation.Field(&c.WriteTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MaxMessageBytes, validation.Required, validation.Min(int64(1024))),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// ClientConfig configures the tail client.
type ClientConfig struct {
	// ServerURL is the http(s) base of a running server, without /api.
	ServerURL      string        `yaml:"server_url"`
	Token          string        `yaml:"token"`
	OwnerID        string        `yaml:"owner_id"`
	DisplayLabel   string        `yaml:"display_label"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	// FlushOnClose writes a pending edit when its document is closed
	// instead of dropping it.
	FlushOnClose bool `yaml:"flush_on_close"`
}

// Validate validates the client configuration.
func (c *ClientConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ServerURL, validation.Required),
		validation.Field(&c.DebounceWindow, validation.Required, validation.Min(10*time.Millisecond)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			SQLite: SQLiteConfig{
				Path: "./quire.db",
			},
		},
		Feed: FeedConfig{
			PollInterval:   time.Second,
			Retention:      24 * time.Hour,
			ResyncThrottle: 2 * time.Second,
		},
		Relay: RelayConfig{
			OrderedBuffer:   256,
			CursorBuffer:    16,
			WriteTimeout:    10 * time.Second,
			MaxMessageBytes: 1 << 20,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Client: ClientConfig{
			ServerURL:      "http://localhost:8080",
			DebounceWindow: 850 * time.Millisecond,
			FlushOnClose:   true,
		},
	}
}
