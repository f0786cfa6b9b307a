// Package domain naming.go maps message identity to canonical on-disk names.
package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultFileName is used when no better name can be derived for a payload.
const DefaultFileName = "file.bin"

// unsafeChars matches every rune outside the safe filename set. Word
// characters are matched unicode-aware, not ASCII \w.
var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_\-. ()\[\]{}@,+=]`)

// SanitizeName replaces unsafe filename characters with underscores.
// An empty result falls back to DefaultFileName.
func SanitizeName(name string) string {
	safe := unsafeChars.ReplaceAllString(name, "_")
	if safe == "" {
		return DefaultFileName
	}
	return safe
}

// CanonicalPrefix is the buffer filename prefix guaranteeing a single entry
// per (msgID, chatID) pair.
func CanonicalPrefix(msgID, chatID int64) string {
	return fmt.Sprintf("%d_%d_", chatID, msgID)
}

// LegacyPrefix matches buffer files written before chat ids were part of the
// name. It can collide across chats that share a message id; lookups only
// fall back to it when no canonical match exists.
func LegacyPrefix(msgID int64) string {
	return fmt.Sprintf("%d_", msgID)
}

// StripBufferPrefix removes a leading "{chatID}_{msgID}_" from a buffer base
// name, returning the human-facing remainder. Names without the prefix are
// returned unchanged.
func StripBufferPrefix(base string) string {
	parts := strings.SplitN(base, "_", 3)
	if len(parts) < 3 {
		return base
	}
	if !isInt(strings.TrimPrefix(parts[0], "-")) || !isInt(parts[1]) {
		return base
	}
	return parts[2]
}

func isInt(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
