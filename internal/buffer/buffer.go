// Package buffer implements the plaintext staging area for attachments that
// might later need to be re-emitted. Entries are keyed by a canonical
// "{chatID}_{msgID}_" prefix so at most one file exists per message, and
// every write publishes via a hidden temp name plus rename so a concurrent
// directory listing never observes a half-written entry.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/chatkeep/chatkeep/internal/app"
	"github.com/chatkeep/chatkeep/internal/domain"
)

var _ app.MediaBuffer = (*Store)(nil)

const (
	downloadAttempts = 3
	downloadBackoff  = 500 * time.Millisecond
	partPrefix       = ".part-"
)

// Client is the subset of the chat-protocol collaborator the buffer needs.
type Client interface {
	DownloadAttachment(ctx context.Context, media *domain.MediaRef, destPath string) error
	ResolveDisplayName(ctx context.Context, id int64) string
	FetchMessage(ctx context.Context, chatID, msgID int64) (*domain.Message, error)
}

// Store holds buffered attachments under a single directory.
type Store struct {
	dir     string
	maxSize int64
	client  Client
	log     *slog.Logger
}

// New returns a buffer store rooted at dir. Files larger than maxSize are
// not buffered; maxSize <= 0 disables the cap.
func New(dir string, maxSize int64, client Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, maxSize: maxSize, client: client, log: logger.With("domain", "buffer")}
}

// Find returns the buffered path for (msgID, chatID), or "" when absent.
// The canonical prefix wins; the bare "{msgID}_" prefix is accepted for
// files written before chat ids were part of the name. Matches within a
// prefix are deterministic (lexicographically first). A missing directory
// is an ordinary miss.
func (s *Store) Find(msgID, chatID int64) string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return ""
	}
	for _, prefix := range []string{domain.CanonicalPrefix(msgID, chatID), domain.LegacyPrefix(msgID)} {
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			if strings.HasPrefix(e.Name(), prefix) {
				return filepath.Join(s.dir, e.Name())
			}
		}
	}
	return ""
}

// Save downloads the message's attachment into the buffer and returns the
// path. It is an idempotent no-op ("" with nil error) when the message has
// no attachment, the declared size exceeds the cap, or an entry already
// exists. A download that exhausts its retry budget is logged and reported
// as a miss, not an error; the metadata row still records the attachment.
func (s *Store) Save(ctx context.Context, msg *domain.Message) (string, error) {
	if msg == nil || msg.Media == nil {
		return "", nil
	}
	if s.maxSize > 0 && msg.Media.Size > s.maxSize {
		s.log.Debug("skip oversize attachment", "msg_id", msg.ID, "chat_id", msg.ChatID, "size", msg.Media.Size)
		return "", nil
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("create buffer dir: %w", err)
	}
	if existing := s.Find(msg.ID, msg.ChatID); existing != "" {
		return "", nil
	}

	chatName := s.client.ResolveDisplayName(ctx, msg.ChatID)
	human := domain.SanitizeName(chatName) + "_" + msg.Media.DisplayName()
	final := filepath.Join(s.dir, domain.CanonicalPrefix(msg.ID, msg.ChatID)+human)

	tmp := filepath.Join(s.dir, partPrefix+uuid.NewString())
	if err := s.download(ctx, msg, tmp); err != nil {
		_ = os.Remove(tmp)
		s.log.Warn("download failed, attachment not buffered",
			"msg_id", msg.ID, "chat_id", msg.ChatID, "error", err)
		return "", nil
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("publish buffer entry: %w", err)
	}
	return final, nil
}

// download retries a bounded number of times with a short fixed backoff.
// An expired attachment reference invalidates independently of the byte
// stream, so the message handle is re-resolved before the next attempt.
func (s *Store) download(ctx context.Context, msg *domain.Message, dest string) error {
	media := msg.Media
	backoff := retry.WithMaxRetries(downloadAttempts-1, retry.NewConstant(downloadBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.client.DownloadAttachment(ctx, media, dest)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrReferenceExpired) {
			if fresh, fErr := s.client.FetchMessage(ctx, msg.ChatID, msg.ID); fErr == nil && fresh != nil && fresh.Media != nil {
				media = fresh.Media
			}
		}
		return retry.RetryableError(err)
	})
}

// PurgeExpired removes regular files whose modification time is strictly
// older than now-ttl. Per-file failures are logged and do not abort the
// sweep; the directory may be mutating underneath it.
func (s *Store) PurgeExpired(now time.Time, ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("list buffer dir: %w", err)
	}
	cutoff := now.Add(-ttl)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil {
			s.log.Warn("failed to purge buffer file", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
