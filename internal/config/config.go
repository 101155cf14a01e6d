// Package config loads the archive's full environment-variable surface
// using struct tags, grouping settings into nested structs and parsing
// them with github.com/caarlos0/env/v10 instead of hand-rolled getEnv
// helpers.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"telegram-archive/internal/apperrors"
)

// StoreConfig selects and addresses the storage dialect.
type StoreConfig struct {
	DBType          string `env:"DB_TYPE" envDefault:"sqlite"` // "sqlite" or "postgres"
	DatabasePath    string `env:"DATABASE_PATH"`
	DatabaseDir     string `env:"DATABASE_DIR"`
	DBPath          string `env:"DB_PATH"`
	DatabaseURL     string `env:"DATABASE_URL"`
	PostgresHost    string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort    int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser    string `env:"POSTGRES_USER" envDefault:"postgres"`
	PostgresPass    string `env:"POSTGRES_PASSWORD"`
	PostgresDB      string `env:"POSTGRES_DB" envDefault:"telegram_backup"`
	PostgresSSLMode string `env:"POSTGRES_SSLMODE" envDefault:"disable"`
}

// MediaConfig controls media ingestion.
type MediaConfig struct {
	BackupPath        string `env:"BACKUP_PATH" envDefault:"/data/backups"`
	DownloadMedia     bool   `env:"DOWNLOAD_MEDIA" envDefault:"true"`
	DeduplicateMedia  bool   `env:"DEDUPLICATE_MEDIA" envDefault:"true"`
	MaxMediaSizeMB    int64  `env:"MAX_MEDIA_SIZE_MB" envDefault:"100"`
}

// MediaRoot is the media tree root, derived from BackupPath.
func (m MediaConfig) MediaRoot() string { return filepath.Join(m.BackupPath, "media") }

// MaxMediaSizeBytes converts MaxMediaSizeMB to bytes.
func (m MediaConfig) MaxMediaSizeBytes() int64 { return m.MaxMediaSizeMB * 1024 * 1024 }

// BackupConfig controls the backup engine's pipeline.
type BackupConfig struct {
	Schedule           string `env:"SCHEDULE" envDefault:"0 */6 * * *"`
	BatchSize          int    `env:"BATCH_SIZE" envDefault:"100"`
	SyncDeletionsEdits bool   `env:"SYNC_DELETIONS_EDITS" envDefault:"false"`
	VerifyMedia        bool   `env:"VERIFY_MEDIA" envDefault:"false"`
}

// AdmissionConfig implements the priority-ordered chat filtering of step 4.
type AdmissionConfig struct {
	ChatTypesRaw           string `env:"CHAT_TYPES" envDefault:"private,groups,channels"`
	GlobalIncludeRaw       string `env:"GLOBAL_INCLUDE_CHAT_IDS"`
	GlobalExcludeRaw       string `env:"GLOBAL_EXCLUDE_CHAT_IDS"`
	PrivateIncludeRaw      string `env:"PRIVATE_INCLUDE_CHAT_IDS"`
	PrivateExcludeRaw      string `env:"PRIVATE_EXCLUDE_CHAT_IDS"`
	GroupsIncludeRaw       string `env:"GROUPS_INCLUDE_CHAT_IDS"`
	GroupsExcludeRaw       string `env:"GROUPS_EXCLUDE_CHAT_IDS"`
	ChannelsIncludeRaw     string `env:"CHANNELS_INCLUDE_CHAT_IDS"`
	ChannelsExcludeRaw     string `env:"CHANNELS_EXCLUDE_CHAT_IDS"`
	PriorityChatIDsRaw     string `env:"PRIORITY_CHAT_IDS"`
	DisplayChatIDsRaw      string `env:"DISPLAY_CHAT_IDS"`
}

// ListenerConfig toggles the real-time listener and its per-event-class behavior.
type ListenerConfig struct {
	Enabled                bool `env:"ENABLE_LISTENER" envDefault:"false"`
	ListenEdits            bool `env:"LISTEN_EDITS" envDefault:"true"`
	ListenDeletions        bool `env:"LISTEN_DELETIONS" envDefault:"true"`
	ListenNewMessages      bool `env:"LISTEN_NEW_MESSAGES" envDefault:"true"`
	ListenNewMessagesMedia bool `env:"LISTEN_NEW_MESSAGES_MEDIA" envDefault:"true"`
	ListenChatActions      bool `env:"LISTEN_CHAT_ACTIONS" envDefault:"true"`
	ListenAlbums           bool `env:"LISTEN_ALBUMS" envDefault:"true"`
}

// BurstConfig tunes the burst protector.
type BurstConfig struct {
	Threshold      int           `env:"MASS_OPERATION_THRESHOLD" envDefault:"10"`
	WindowSeconds  int           `env:"MASS_OPERATION_WINDOW_SECONDS" envDefault:"30"`
	BufferDelaySec int           `env:"MASS_OPERATION_BUFFER_DELAY" envDefault:"0"`
}

// Window returns the sliding window duration.
func (b BurstConfig) Window() time.Duration { return time.Duration(b.WindowSeconds) * time.Second }

// RedisConfig addresses the cache used by the viewer's avatar-url lookup.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr formats the host:port pair go-redis expects.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

// ViewerConfig configures the read-only HTTP/WebSocket surface.
type ViewerConfig struct {
	Addr             string `env:"VIEWER_ADDR" envDefault:":8080"`
	Username         string `env:"VIEWER_USERNAME"`
	Password         string `env:"VIEWER_PASSWORD"`
	Timezone         string `env:"VIEWER_TIMEZONE" envDefault:"Europe/Madrid"`
	CORSOrigins      string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
	InternalPushAddr string `env:"INTERNAL_PUSH_ADDR" envDefault:":8081"`
	InternalPushSecret string `env:"INTERNAL_PUSH_SECRET"`
}

// PushConfig configures Web Push delivery.
type PushConfig struct {
	Mode          string `env:"PUSH_NOTIFICATIONS" envDefault:"off"` // off|basic|full
	VAPIDPrivate  string `env:"VAPID_PRIVATE_KEY"`
	VAPIDPublic   string `env:"VAPID_PUBLIC_KEY"`
	VAPIDContact  string `env:"VAPID_CONTACT"`
}

// TelegramConfig holds the MTProto session credentials consumed by the
// telegram client collaborator.
type TelegramConfig struct {
	APIID       int    `env:"TELEGRAM_API_ID"`
	APIHash     string `env:"TELEGRAM_API_HASH"`
	Phone       string `env:"TELEGRAM_PHONE"`
	SessionName string `env:"SESSION_NAME" envDefault:"telegram_backup"`
	SessionDir  string `env:"SESSION_DIR"`
}

// Config is the full configuration surface for both cmd/archivebot and cmd/viewer.
type Config struct {
	Debug     bool            `env:"DEBUG" envDefault:"false"`
	Store     StoreConfig
	Media     MediaConfig
	Backup    BackupConfig
	Admission AdmissionConfig
	Listener  ListenerConfig
	Burst     BurstConfig
	Redis     RedisConfig
	Viewer    ViewerConfig
	Push      PushConfig
	Telegram  TelegramConfig
}

// Load reads configuration from the environment (after optionally loading a
// local .env/.env.local, mirroring cmd/api/main.go's godotenv.Load/Overload)
// and validates it per ("Configuration errors ... raised at startup").
func Load() (*Config, error) {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "parse environment", err)
	}

	if cfg.Store.DatabaseDir == "" && cfg.Store.DatabasePath == "" && cfg.Store.DBPath == "" {
		cfg.Store.DatabasePath = filepath.Join(cfg.Media.BackupPath, "telegram_backup.db")
	}

	if cfg.Telegram.SessionDir == "" {
		cfg.Telegram.SessionDir = filepath.Join(filepath.Dir(strings.TrimRight(cfg.Media.BackupPath, "/\\")), "session")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validChatTypes = map[string]bool{"private": true, "groups": true, "channels": true}

// ChatTypes parses the CHAT_TYPES list, trimmed, with blank entries dropped;
// the case of each entry is left as given.
func (c *Config) ChatTypes() []string {
	return splitNonEmpty(c.Admission.ChatTypesRaw)
}

func (c *Config) validate() error {
	if c.Store.DBType != "sqlite" && c.Store.DBType != "postgres" {
		return apperrors.Wrap(apperrors.ErrConfiguration, fmt.Sprintf("DB_TYPE must be sqlite or postgres, got %q", c.Store.DBType), nil)
	}
	for _, ct := range c.ChatTypes() {
		if !validChatTypes[strings.ToLower(ct)] {
			return apperrors.Wrap(apperrors.ErrConfiguration, fmt.Sprintf("invalid chat type %q in CHAT_TYPES", ct), nil)
		}
	}
	switch c.Push.Mode {
	case "off", "basic", "full":
	default:
		return apperrors.Wrap(apperrors.ErrConfiguration, fmt.Sprintf("PUSH_NOTIFICATIONS must be off, basic or full, got %q", c.Push.Mode), nil)
	}
	if c.Push.Mode != "off" && (c.Push.VAPIDPrivate == "" || c.Push.VAPIDPublic == "") {
		return apperrors.Wrap(apperrors.ErrConfiguration, "VAPID_PRIVATE_KEY and VAPID_PUBLIC_KEY are required when PUSH_NOTIFICATIONS is enabled", nil)
	}
	return nil
}

// PostgresDSN builds the libpq connection string from StoreConfig.
func (s StoreConfig) PostgresDSN() string {
	if s.DatabaseURL != "" {
		return s.DatabaseURL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.PostgresHost, s.PostgresPort, s.PostgresUser, s.PostgresPass, s.PostgresDB, s.PostgresSSLMode)
}

// SQLitePath resolves the embedded store's file path with the precedence
// DB_PATH, then DATABASE_PATH, then DATABASE_DIR, falling back to a path
// next to the media root.
func (s StoreConfig) SQLitePath(mediaRoot string) string {
	switch {
	case s.DBPath != "":
		return s.DBPath
	case s.DatabasePath != "":
		return s.DatabasePath
	case s.DatabaseDir != "":
		return filepath.Join(s.DatabaseDir, "telegram_backup.db")
	default:
		return filepath.Join(filepath.Dir(mediaRoot), "telegram_backup.db")
	}
}

func splitNonEmpty(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
