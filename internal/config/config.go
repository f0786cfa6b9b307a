// Package config provides layered configuration loading for the chatkeep
// service: struct defaults overlaid with CHATKEEP_-prefixed environment
// variables, then validated.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/chatkeep/chatkeep/internal/domain"
)

const (
	envPrefix  = "CHATKEEP_"
	dbFileName = "chatkeep.db"
)

// ByteSize is an int64 byte count that decodes from human-friendly strings
// ("200MiB"). The decode hook keys on this type so plain int64 fields, chat
// ids in particular, are never run through the size parser.
type ByteSize int64

// Config holds the merged runtime configuration. Precedence (lowest to
// highest): DefaultAppConfig, then environment variables.
type Config struct {
	// Addr is the HTTP listen address for the event and health endpoints.
	Addr string `koanf:"addr" validate:"required,ip_port"`
	// DataDir roots the buffer, vault, deleted-archive, and database files.
	DataDir string `koanf:"data_dir" validate:"required,safe_dir"`
	// BridgeURL is the base URL of the chat-protocol bridge process.
	BridgeURL string `koanf:"bridge_url" validate:"required,url"`

	// LogChatID is the destination chat for notifications and recovered media.
	LogChatID int64 `koanf:"log_chat_id"`
	// SelfID is the account's own id; messages in the self-chat are skipped.
	SelfID int64 `koanf:"self_id"`
	// IgnoredIDs lists sender/chat ids excluded from all processing.
	IgnoredIDs []int64 `koanf:"ignored_ids"`

	ListenOutgoing      bool `koanf:"listen_outgoing"`
	BufferAll           bool `koanf:"buffer_all"`
	BufferNoForwards    bool `koanf:"buffer_noforwards"`
	ProcessSelfDestruct bool `koanf:"process_self_destruct"`
	LogEdits            bool `koanf:"log_edits"`
	RefetchMissing      bool `koanf:"refetch_missing"`

	// MaxDeletedPerEvent bounds fan-out for one deletion event; 0 disables.
	MaxDeletedPerEvent int `koanf:"max_deleted_per_event" validate:"gte=0"`
	// MaxFileSize caps buffered attachments in bytes; accepts IEC suffixes
	// from the environment ("200MiB"). 0 disables the cap.
	MaxFileSize ByteSize `koanf:"max_file_size" validate:"gte=0"`

	BufferTTL     time.Duration `koanf:"buffer_ttl" validate:"gt=0"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0"`

	RetentionUser    time.Duration `koanf:"retention_user" validate:"gt=0"`
	RetentionChannel time.Duration `koanf:"retention_channel" validate:"gt=0"`
	RetentionGroup   time.Duration `koanf:"retention_group" validate:"gt=0"`
	RetentionBot     time.Duration `koanf:"retention_bot" validate:"gt=0"`
	RetentionUnknown time.Duration `koanf:"retention_unknown" validate:"gt=0"`

	// VaultEnabled turns on encrypted archival of deleted media; VaultKey is
	// the base64-encoded 256-bit key and is required when enabled.
	VaultEnabled bool   `koanf:"vault_enabled"`
	VaultKey     string `koanf:"vault_key" validate:"omitempty,vault_key"`

	// ErrorWindow and StaleAfter drive the health endpoint: recent errors
	// within ErrorWindow, or no housekeeping pulse within StaleAfter, degrade
	// the reported status.
	ErrorWindow time.Duration `koanf:"error_window" validate:"gt=0"`
	StaleAfter  time.Duration `koanf:"stale_after" validate:"gt=0"`
}

// DefaultAppConfig is the baseline configuration before environment overlay.
var DefaultAppConfig = Config{
	Addr:                ":8080",
	DataDir:             "./data",
	BridgeURL:           "http://127.0.0.1:8081",
	BufferAll:           true,
	BufferNoForwards:    true,
	ProcessSelfDestruct: true,
	LogEdits:            true,
	RefetchMissing:      true,
	MaxDeletedPerEvent:  5,
	MaxFileSize:         200 << 20,
	BufferTTL:           24 * time.Hour,
	SweepInterval:       5 * time.Minute,
	RetentionUser:       24 * time.Hour,
	RetentionChannel:    24 * time.Hour,
	RetentionGroup:      24 * time.Hour,
	RetentionBot:        24 * time.Hour,
	RetentionUnknown:    24 * time.Hour,
	ErrorWindow:         5 * time.Minute,
	StaleAfter:          15 * time.Minute,
}

// Loader seams, swappable in tests.
var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
	}

	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix: envPrefix,
			TransformFunc: func(key, value string) (string, any) {
				return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
			},
		}), nil)
	}

	registerValidators = func(v *validator.Validate) error {
		if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
			return err
		}
		if err := v.RegisterValidation("safe_dir", validSafeDir); err != nil {
			return err
		}
		return v.RegisterValidation("vault_key", validVaultKey)
	}
)

// Load assembles and validates the configuration.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToSizeHook(),
				stringToIDListHook(),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	v := validator.New()
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.VaultEnabled && cfg.VaultKey == "" {
		return nil, errors.New("vault_key must be set when vault_enabled is true")
	}
	return &cfg, nil
}

// SQLiteDSN returns the database DSN rooted under DataDir, with WAL and the
// pragmas the store relies on.
func (c *Config) SQLiteDSN() string {
	return "file:" + filepath.Join(c.DataDir, dbFileName) +
		"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL"
}

// BufferDir is the plaintext attachment staging directory.
func (c *Config) BufferDir() string { return filepath.Join(c.DataDir, "buffer") }

// VaultDir holds encrypted artifacts of deleted media.
func (c *Config) VaultDir() string { return filepath.Join(c.DataDir, "vault") }

// DeletedDir holds plaintext copies of deleted media when no vault is
// configured.
func (c *Config) DeletedDir() string { return filepath.Join(c.DataDir, "deleted") }

// VaultKeyBytes decodes the configured vault key.
func (c *Config) VaultKeyBytes() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.VaultKey)
	if err != nil {
		return nil, fmt.Errorf("decode vault key: %w", err)
	}
	return key, nil
}

// Retention maps the per-class knobs onto the domain policy.
func (c *Config) Retention() domain.RetentionPolicy {
	return domain.RetentionPolicy{
		User:      c.RetentionUser,
		Channel:   c.RetentionChannel,
		Group:     c.RetentionGroup,
		Bot:       c.RetentionBot,
		Unknown:   c.RetentionUnknown,
		BufferTTL: c.BufferTTL,
	}
}
