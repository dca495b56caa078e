package app

import (
	"strings"
	"time"

	"relay/cmd/internal/realtime"
)

// DefaultLocalContainer scopes documents and uploads of the memory, badger and postgres backends
// when RELAY_CONTAINER_ID is unset.
const DefaultLocalContainer = "local"

// EnvPrefix prefixes every variable read into Config.
const EnvPrefix = "RELAY_"

// Store backends selectable through RELAY_STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendDrive    = "drive"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:"0.0.0.0:3001"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	LogColor  bool   `env:"LOG_COLOR" envDefault:"true"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Participants allowed to authenticate.
	AllowedUsers []string `env:"ALLOWED_USERS" envSeparator:"," envDefault:"pui,loze"`

	HistoryCapacity int    `env:"HISTORY_CAPACITY" envDefault:"100"`
	HistoryDocument string `env:"HISTORY_DOCUMENT" envDefault:"chat-history.json"`

	StoreBackend string        `env:"STORE_BACKEND" envDefault:"memory"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"15s"`

	// ContainerID is the Drive folder id. Local backends fall back to DefaultLocalContainer.
	ContainerID string `env:"CONTAINER_ID"`

	// Drive backend: service account key file.
	DriveCredentialsFile string `env:"DRIVE_CREDENTIALS_FILE"`

	// Postgres backend.
	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"0"`
	PGSchema    string `env:"PG_SCHEMA" envDefault:"relay"`

	// Badger backend.
	BadgerPath string `env:"BADGER_PATH" envDefault:"./data/badger"`

	// PublicBaseURL prefixes /blobs/{id} links for backends served by the relay itself.
	// Empty derives it from HTTPAddr.
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	MediaSettleDelay time.Duration `env:"MEDIA_SETTLE_DELAY" envDefault:"1s"`
	MaxMediaBytes    int64         `env:"MAX_MEDIA_BYTES" envDefault:"10485760"`

	// UploadTimeout bounds one whole upload including the settle delay (0 disables).
	UploadTimeout time.Duration `env:"UPLOAD_TIMEOUT" envDefault:"60s"`

	// CORS for the HTTP endpoints. Empty disables CORS headers entirely.
	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"false"`
	CORSMaxAgeSeconds    int      `env:"CORS_MAX_AGE_SECONDS" envDefault:"600"`

	WS realtime.GatewayConfig `envPrefix:"WS_"`
}

// LoadConfig loads Config from RELAY_* environment variables with defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg, EnvPrefix); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BaseURL is the externally reachable HTTP origin of this relay.
func (c Config) BaseURL() string {
	if c.PublicBaseURL != "" {
		return c.PublicBaseURL
	}
	return runtimeBaseURL(c.HTTPAddr)
}

// Container returns the container id used for the history document and uploads.
func (c Config) Container() string {
	if c.ContainerID != "" || c.Backend() == BackendDrive {
		return c.ContainerID
	}
	return DefaultLocalContainer
}

// Backend returns the normalized store backend name.
func (c Config) Backend() string {
	b := strings.ToLower(strings.TrimSpace(c.StoreBackend))
	if b == "" {
		return BackendMemory
	}
	return b
}
