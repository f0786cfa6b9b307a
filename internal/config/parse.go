package config

import (
	"encoding/base64"
	"fmt"
	"net"
	"path"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

// sizeUnits maps IEC (and bare letter) suffixes to multipliers. Order
// matters: longer suffixes must match before their single-letter forms.
var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30},
	{"K", 1 << 10}, {"M", 1 << 20}, {"G", 1 << 30},
}

// ParseSize converts a human-friendly size string into a byte count.
// Accepts plain integers (bytes) or KiB/MiB/GiB and K/M/G suffixes,
// case-insensitive: "131072", "128KiB", "200M".
func ParseSize(s string) (int64, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(s))
	if trimmed == "" {
		return 0, fmt.Errorf("parse size %q: empty", s)
	}
	for _, u := range sizeUnits {
		if !strings.HasSuffix(trimmed, u.suffix) {
			continue
		}
		num := strings.TrimSpace(strings.TrimSuffix(trimmed, u.suffix))
		if num == "" {
			return 0, fmt.Errorf("parse size %q: missing number", s)
		}
		n, err := parseNonNegativeInt(num)
		if err != nil {
			return 0, fmt.Errorf("parse size %q: %w", s, err)
		}
		return n * u.mult, nil
	}
	n, err := parseNonNegativeInt(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	return n, nil
}

func parseNonNegativeInt(raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative not allowed")
	}
	return n, nil
}

var byteSizeType = reflect.TypeOf(ByteSize(0))

// stringToSizeHook decodes size strings into ByteSize fields only; plain
// int64 fields (chat ids can be negative) never pass through the size
// parser.
func stringToSizeHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != byteSizeType {
			return data, nil
		}
		n, err := ParseSize(data.(string))
		if err != nil {
			return nil, err
		}
		return ByteSize(n), nil
	}
}

// stringToIDListHook decodes comma-separated id lists ("1,-100200,42").
func stringToIDListHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]int64(nil)) {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []int64{}, nil
		}
		parts := strings.Split(raw, ",")
		ids := make([]int64, 0, len(parts))
		for _, p := range parts {
			id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse id list %q: %w", raw, err)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
}

// validIPPort accepts "ip:port" with a numeric port in 1..65535. The host
// may be empty (":8080") but must otherwise be a literal IP.
func validIPPort(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// validSafeDir rejects the filesystem root, the bare current directory, and
// any path escaping upward.
func validSafeDir(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" {
		return false
	}
	clean := path.Clean(filepath.ToSlash(p))
	if clean == "." || clean == "/" {
		return false
	}
	return clean != ".." && !strings.HasPrefix(clean, "../")
}

// validVaultKey requires a base64 encoding of exactly 32 bytes.
func validVaultKey(fl validator.FieldLevel) bool {
	key, err := base64.StdEncoding.DecodeString(fl.Field().String())
	return err == nil && len(key) == 32
}
