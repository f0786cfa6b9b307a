package config

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.EqualValues(t, DefaultAppConfig, *cfg)
}

func TestValidPaths(t *testing.T) {
	valid := []string{
		"data",
		"/var/lib/chatkeep",
		"./data",
		"relative/path/to/data",
		"nested/dir/structure",
	}
	for _, p := range valid {
		t.Setenv("CHATKEEP_DATA_DIR", p)
		cfg, err := Load()
		if err != nil {
			t.Errorf("expected valid path %q, got error: %v", p, err)
			continue
		}
		assert.Equal(t, p, cfg.DataDir)
	}
}

func TestInvalidPaths(t *testing.T) {
	invalid := []string{
		"",
		".",
		"/",
		"//",
		"../data",
		"data/..",
		"data/../../../etc",
	}
	for _, p := range invalid {
		t.Setenv("CHATKEEP_DATA_DIR", p)
		if _, err := Load(); err == nil {
			t.Errorf("expected error for invalid path %q, got nil", p)
		}
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("CHATKEEP_ADDR", "127.0.0.1:9090")
	t.Setenv("CHATKEEP_LOG_CHAT_ID", "-424242")
	t.Setenv("CHATKEEP_BUFFER_TTL", "1h")
	t.Setenv("CHATKEEP_MAX_FILE_SIZE", "128KiB")
	t.Setenv("CHATKEEP_IGNORED_IDS", "1, -100200,42")
	t.Setenv("CHATKEEP_LOG_EDITS", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr)
	assert.Equal(t, int64(-424242), cfg.LogChatID)
	assert.Equal(t, time.Hour, cfg.BufferTTL)
	assert.Equal(t, ByteSize(128<<10), cfg.MaxFileSize)
	assert.Equal(t, []int64{1, -100200, 42}, cfg.IgnoredIDs)
	assert.False(t, cfg.LogEdits)
}

func TestNegativeIDsFromEnv(t *testing.T) {
	t.Setenv("CHATKEEP_LOG_CHAT_ID", "-1001234567890")
	t.Setenv("CHATKEEP_SELF_ID", "-7")
	t.Setenv("CHATKEEP_IGNORED_IDS", "-100200,-300")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234567890), cfg.LogChatID)
	assert.Equal(t, int64(-7), cfg.SelfID)
	assert.Equal(t, []int64{-100200, -300}, cfg.IgnoredIDs)
}

func TestBadSize(t *testing.T) {
	t.Setenv("CHATKEEP_MAX_FILE_SIZE", "lots")
	_, err := Load()
	assert.Error(t, err)
}

func TestBadIDList(t *testing.T) {
	t.Setenv("CHATKEEP_IGNORED_IDS", "1,abc")
	_, err := Load()
	assert.Error(t, err)
}

func TestVaultKeyValidation(t *testing.T) {
	good := base64.StdEncoding.EncodeToString(make([]byte, 32))
	short := base64.StdEncoding.EncodeToString(make([]byte, 16))

	t.Setenv("CHATKEEP_VAULT_ENABLED", "true")

	t.Setenv("CHATKEEP_VAULT_KEY", good)
	cfg, err := Load()
	require.NoError(t, err)
	key, err := cfg.VaultKeyBytes()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	t.Setenv("CHATKEEP_VAULT_KEY", short)
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("CHATKEEP_VAULT_KEY", "not base64!!!")
	_, err = Load()
	assert.Error(t, err)
}

func TestVaultEnabledRequiresKey(t *testing.T) {
	t.Setenv("CHATKEEP_VAULT_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault_key")
}

func TestValidIPPort(t *testing.T) {
	type sample struct {
		Addr string `validate:"ip_port"`
	}

	v := validator.New()
	require.NoError(t, v.RegisterValidation("ip_port", validIPPort))

	tests := []struct {
		name  string
		addr  string
		valid bool
	}{
		{name: "empty", addr: "", valid: false},
		{name: "missing_port", addr: "127.0.0.1", valid: false},
		{name: "missing_port_after_colon", addr: "127.0.0.1:", valid: false},
		{name: "just_colon_port", addr: ":8080", valid: true},
		{name: "loopback_ipv4", addr: "127.0.0.1:8080", valid: true},
		{name: "ipv6_loopback", addr: "[::1]:8080", valid: true},
		{name: "unbracketed_ipv6", addr: "::1:8080", valid: false},
		{name: "hostname_not_ip", addr: "localhost:8080", valid: false},
		{name: "non_numeric_port", addr: "127.0.0.1:http", valid: false},
		{name: "port_zero", addr: "127.0.0.1:0", valid: false},
		{name: "port_max_valid", addr: "127.0.0.1:65535", valid: true},
		{name: "port_overflow", addr: "127.0.0.1:65536", valid: false},
		{name: "trailing_space", addr: "127.0.0.1:8080 ", valid: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Struct(&sample{Addr: tc.addr})
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "131072", want: 131072},
		{in: "128KiB", want: 128 << 10},
		{in: "128kib", want: 128 << 10},
		{in: "1MiB", want: 1 << 20},
		{in: "200M", want: 200 << 20},
		{in: "2G", want: 2 << 30},
		{in: " 64K ", want: 64 << 10},
		{in: "", wantErr: true},
		{in: "KiB", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "12.5M", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseSize(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestSQLiteDSN(t *testing.T) {
	c := DefaultAppConfig
	c.DataDir = "/var/lib/chatkeep"
	got := c.SQLiteDSN()
	assert.Equal(t, "file:/var/lib/chatkeep/chatkeep.db"+
		"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL", got)
}

func TestDerivedDirs(t *testing.T) {
	c := DefaultAppConfig
	c.DataDir = "/srv/chatkeep"
	assert.Equal(t, "/srv/chatkeep/buffer", c.BufferDir())
	assert.Equal(t, "/srv/chatkeep/vault", c.VaultDir())
	assert.Equal(t, "/srv/chatkeep/deleted", c.DeletedDir())
}

func TestRetentionMapping(t *testing.T) {
	c := DefaultAppConfig
	c.RetentionUser = time.Hour
	c.RetentionChannel = 2 * time.Hour
	c.RetentionGroup = 3 * time.Hour
	c.RetentionBot = 4 * time.Hour
	c.RetentionUnknown = 5 * time.Hour
	c.BufferTTL = 6 * time.Hour

	p := c.Retention()
	assert.Equal(t, time.Hour, p.User)
	assert.Equal(t, 2*time.Hour, p.Channel)
	assert.Equal(t, 3*time.Hour, p.Group)
	assert.Equal(t, 4*time.Hour, p.Bot)
	assert.Equal(t, 5*time.Hour, p.Unknown)
	assert.Equal(t, 6*time.Hour, p.BufferTTL)
}

func TestLoadDefaultError(t *testing.T) {
	orig := defaultLoader
	t.Cleanup(func() { defaultLoader = orig })
	defaultLoader = func(k *koanf.Koanf) error {
		assert.NotNil(t, k)
		return assert.AnError
	}
	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, assert.AnError))
}

func TestLoadEnvError(t *testing.T) {
	orig := envLoader
	t.Cleanup(func() { envLoader = orig })
	envLoader = func(k *koanf.Koanf) error {
		assert.NotNil(t, k)
		return assert.AnError
	}
	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, assert.AnError))
}

func TestRegisterValidationFails(t *testing.T) {
	orig := registerValidators
	t.Cleanup(func() { registerValidators = orig })
	registerValidators = func(v *validator.Validate) error {
		assert.NotNil(t, v)
		return assert.AnError
	}
	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, assert.AnError))
}
