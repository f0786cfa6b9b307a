// Package app defines the application layer "ports" (interfaces) the media
// retention pipeline depends upon, plus the correlator and ingest use-cases
// that drive them. It follows a hexagonal (ports & adapters) design: this
// package declares what the core needs, while adapter packages (buffer,
// vault, SQLite store, bridge client, janitor) provide implementations.
package app

import (
	"context"
	"time"

	"github.com/chatkeep/chatkeep/internal/domain"
)

// Clock abstracts time to enable deterministic testing of TTL / retention logic.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// Messenger is the chat-protocol collaborator. Implementations speak the
// actual wire protocol (or proxy to a process that does); this core only
// consumes the capabilities below.
type Messenger interface {
	// DownloadAttachment fetches the attachment bytes behind media into
	// destPath. It may fail with domain.ErrReferenceExpired, in which case
	// the caller re-resolves the message handle before retrying.
	DownloadAttachment(ctx context.Context, media *domain.MediaRef, destPath string) error

	// UploadFile delivers the file at path to chatID with the given caption
	// and filename override.
	UploadFile(ctx context.Context, chatID int64, path, caption, filename string) error

	// SendMessage delivers a plain text notification to chatID.
	SendMessage(ctx context.Context, chatID int64, text string) error

	// ResolveDisplayName returns a human-readable name for a chat or user
	// id. It is best-effort and falls back to the numeric id as a string.
	ResolveDisplayName(ctx context.Context, id int64) string

	// FetchMessage re-reads a live message. It returns (nil, nil) when the
	// message no longer exists upstream.
	FetchMessage(ctx context.Context, chatID, msgID int64) (*domain.Message, error)
}

// MessageStore is the message-metadata collaborator. Duplicate inserts for
// the same (msgID, chatID) are expected under concurrent delivery and must
// be tolerated, not surfaced as failures.
type MessageStore interface {
	Exists(ctx context.Context, msgID, chatID int64) (bool, error)
	Insert(ctx context.Context, rec *domain.Record) error

	// QueryByIDs resolves metadata rows for an event. A nil chatID means the
	// event carried no chat scope; implementations then exclude
	// channel-style ids. Rows come back ordered by creation time ascending.
	QueryByIDs(ctx context.Context, chatID *int64, ids []int64) ([]domain.Record, error)

	// DeleteExpired evicts rows older than their class retention and
	// returns the number removed.
	DeleteExpired(ctx context.Context, now time.Time, policy domain.RetentionPolicy) (int64, error)
}

// MediaBuffer is the short-lived plaintext staging area for attachments.
type MediaBuffer interface {
	// Save buffers the message's attachment and returns the on-disk path.
	// It returns "" (no error) when the message has no attachment, exceeds
	// the size cap, already has an entry, or the download cannot be
	// completed within the retry budget.
	Save(ctx context.Context, msg *domain.Message) (string, error)

	// Find returns the buffered path for a message, or "" when absent.
	Find(msgID, chatID int64) string

	// PurgeExpired removes entries whose modification time is strictly
	// older than now-ttl and returns the number removed.
	PurgeExpired(now time.Time, ttl time.Duration) (int, error)
}

// Plaintext is a scoped decrypted artifact. Close releases the underlying
// resource on every exit path, upload success or not.
type Plaintext interface {
	Path() string
	Close() error
}

// MediaVault is the long-term encrypted store for attachments of deleted
// messages. It operates purely path-in/path-out and never self-expires.
type MediaVault interface {
	// PutFromBuffer encrypts the file at srcPath into the vault and returns
	// the artifact path. Re-delivery is idempotent: an existing artifact is
	// returned without re-encryption.
	PutFromBuffer(srcPath string) (string, error)

	// OpenForUpload decrypts an artifact into a scoped plaintext. It fails
	// with domain.ErrCorrupted when authentication fails.
	OpenForUpload(encPath string) (Plaintext, error)
}
