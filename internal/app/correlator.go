package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/chatkeep/chatkeep/internal/domain"
)

// maxNotifyLen caps outbound notification text; longer bodies are truncated
// with an ellipsis.
const maxNotifyLen = 4096

// CorrelatorConfig carries the policy knobs for event correlation.
type CorrelatorConfig struct {
	// LogChatID is the destination chat for notifications and recovered media.
	LogChatID int64
	// IgnoredIDs short-circuits processing for these sender/chat ids.
	IgnoredIDs []int64
	// MaxDeletedPerEvent bounds fan-out for a single deletion event.
	MaxDeletedPerEvent int
	// LogEdits enables the edited-text branch.
	LogEdits bool
	// RefetchMissing allows re-reading a live message when the buffer misses.
	RefetchMissing bool
	// DeletedDir receives plaintext copies when no vault is configured.
	DeletedDir string
}

// Correlator reacts to deletion, self-destruct, and edit notifications: it
// resolves the affected metadata rows and drives the buffer and vault to
// preserve whatever can still be preserved.
type Correlator struct {
	client  Messenger
	store   MessageStore
	buffer  MediaBuffer
	vault   MediaVault // nil when the vault is disabled
	cfg     CorrelatorConfig
	ignored map[int64]struct{}
	log     *slog.Logger
}

// NewCorrelator wires a Correlator. vault may be nil; media then goes to the
// plaintext deleted-archive directory instead.
func NewCorrelator(client Messenger, store MessageStore, buf MediaBuffer, vault MediaVault, cfg CorrelatorConfig, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	ignored := make(map[int64]struct{}, len(cfg.IgnoredIDs))
	for _, id := range cfg.IgnoredIDs {
		ignored[id] = struct{}{}
	}
	return &Correlator{
		client:  client,
		store:   store,
		buffer:  buf,
		vault:   vault,
		cfg:     cfg,
		ignored: ignored,
		log:     logger.With("domain", "correlator"),
	}
}

// HandleEdited processes an edit notification. Rows with media are never
// diffed (captions are intentionally not logged); unchanged or empty text
// is a no-op.
func (c *Correlator) HandleEdited(ctx context.Context, msg *domain.Message) error {
	if !c.cfg.LogEdits {
		c.log.Debug("edited message processing disabled")
		return nil
	}
	rows, err := c.store.QueryByIDs(ctx, &msg.ChatID, []int64{msg.ID})
	if err != nil {
		return fmt.Errorf("resolve edited message: %w", err)
	}
	for i := range rows {
		row := &rows[i]
		if row.HasMedia() {
			continue
		}
		oldText := strings.TrimSpace(row.Text)
		newText := strings.TrimSpace(msg.Text)
		if oldText == newText {
			continue
		}
		sender := c.client.ResolveDisplayName(ctx, row.FromID)
		chat := c.client.ResolveDisplayName(ctx, row.ChatID)
		c.notify(ctx, fmt.Sprintf("Edited message from %s in %s\nBefore:\n%s\nAfter:\n%s",
			sender, chat, oldText, newText))
	}
	return nil
}

// HandleDeleted processes a deletion notification. chatID is nil when the
// event carried no chat scope.
func (c *Correlator) HandleDeleted(ctx context.Context, chatID *int64, ids []int64) error {
	return c.processRemoval(ctx, chatID, ids, false)
}

// HandleReadContents processes a read-contents notification. These are the
// generic read-receipt signal; only rows flagged self-destructing matter.
func (c *Correlator) HandleReadContents(ctx context.Context, ids []int64) error {
	return c.processRemoval(ctx, nil, ids, true)
}

func (c *Correlator) processRemoval(ctx context.Context, chatID *int64, ids []int64, selfDestructOnly bool) error {
	if max := c.cfg.MaxDeletedPerEvent; max > 0 && len(ids) > max {
		ids = ids[:max]
	}
	rows, err := c.store.QueryByIDs(ctx, chatID, ids)
	if err != nil {
		return fmt.Errorf("resolve deleted messages: %w", err)
	}
	// Rows are processed sequentially in creation order; one failing row
	// must not block the rest.
	for i := range rows {
		row := &rows[i]
		if err := c.processRow(ctx, row, selfDestructOnly); err != nil {
			c.log.Error("failed to process deleted message",
				"msg_id", row.ID, "chat_id", row.ChatID, "error", err)
		}
	}
	return nil
}

func (c *Correlator) processRow(ctx context.Context, row *domain.Record, selfDestructOnly bool) error {
	if c.isIgnored(row.FromID) || c.isIgnored(row.ChatID) {
		c.log.Debug("skipping ignored id", "msg_id", row.ID, "chat_id", row.ChatID)
		return nil
	}
	if selfDestructOnly && !row.SelfDestructing {
		c.log.Debug("skipping non-self-destruct row", "msg_id", row.ID)
		return nil
	}
	if row.HasMedia() {
		return c.archiveMedia(ctx, row)
	}
	if text := strings.TrimSpace(row.Text); text != "" {
		sender := c.client.ResolveDisplayName(ctx, row.FromID)
		chat := c.client.ResolveDisplayName(ctx, row.ChatID)
		c.notify(ctx, fmt.Sprintf("Deleted message from %s in %s\nMessage:\n%s", sender, chat, text))
		c.log.Info("processed deleted text message", "msg_id", row.ID, "chat_id", row.ChatID)
	}
	return nil
}

// archiveMedia recovers the attachment of a deleted message: buffer lookup,
// one redownload on miss, vault (or plaintext archive) write, upload, and
// only then removal of the buffered plaintext.
func (c *Correlator) archiveMedia(ctx context.Context, row *domain.Record) error {
	src := c.buffer.Find(row.ID, row.ChatID)
	if src == "" {
		src = c.refetchIntoBuffer(ctx, row)
	}
	if src == "" {
		// Expected when the attachment was never buffered or already
		// expired; the content is unrecoverable.
		c.log.Info("media for deleted message not found in buffer",
			"msg_id", row.ID, "chat_id", row.ChatID)
		return nil
	}

	caption := c.deletedCaption(ctx, row)
	if c.vault != nil {
		if err := c.vaultAndUpload(ctx, row, src, caption); err != nil {
			return err
		}
	} else {
		if err := c.archivePlaintext(ctx, row, src, caption); err != nil {
			return err
		}
	}
	removeQuietly(src)
	c.log.Info("processed deleted media message", "msg_id", row.ID, "chat_id", row.ChatID)
	return nil
}

func (c *Correlator) vaultAndUpload(ctx context.Context, row *domain.Record, src, caption string) error {
	encPath, err := c.vault.PutFromBuffer(src)
	if errors.Is(err, fs.ErrNotExist) {
		// The housekeeping sweep can delete the file between Find and the
		// vault's read; treat it as a miss and try one redownload.
		if src = c.refetchIntoBuffer(ctx, row); src == "" {
			c.log.Info("buffer entry vanished and redownload failed",
				"msg_id", row.ID, "chat_id", row.ChatID)
			return nil
		}
		encPath, err = c.vault.PutFromBuffer(src)
	}
	if err != nil {
		return fmt.Errorf("vault write: %w", err)
	}

	pt, err := c.vault.OpenForUpload(encPath)
	if err != nil {
		if errors.Is(err, domain.ErrCorrupted) {
			c.log.Error("vault artifact failed authentication", "artifact", encPath)
		}
		return fmt.Errorf("vault open: %w", err)
	}
	defer pt.Close()

	name := c.friendlyName(ctx, row.ChatID, filepath.Base(src))
	if err := c.client.UploadFile(ctx, c.cfg.LogChatID, pt.Path(), caption, name); err != nil {
		// The buffered plaintext stays; losing the upload must not lose
		// the only readable copy.
		return fmt.Errorf("upload recovered media: %w", err)
	}
	return nil
}

func (c *Correlator) archivePlaintext(ctx context.Context, row *domain.Record, src, caption string) error {
	dst := filepath.Join(c.cfg.DeletedDir, filepath.Base(src))
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("archive plaintext copy: %w", err)
	}
	name := c.friendlyName(ctx, row.ChatID, filepath.Base(src))
	if err := c.client.UploadFile(ctx, c.cfg.LogChatID, dst, caption, name); err != nil {
		return fmt.Errorf("upload recovered media: %w", err)
	}
	return nil
}

// refetchIntoBuffer re-reads the live message (if it still exists upstream)
// and buffers its attachment. Returns "" when nothing could be recovered.
func (c *Correlator) refetchIntoBuffer(ctx context.Context, row *domain.Record) string {
	if !c.cfg.RefetchMissing {
		return ""
	}
	msg, err := c.client.FetchMessage(ctx, row.ChatID, row.ID)
	if err != nil || msg == nil || msg.Media == nil {
		return ""
	}
	src, err := c.buffer.Save(ctx, msg)
	if err != nil {
		c.log.Warn("re-buffering live message failed",
			"msg_id", row.ID, "chat_id", row.ChatID, "error", err)
		return ""
	}
	if src == "" {
		// Save treats an existing entry as a no-op; pick it up.
		src = c.buffer.Find(row.ID, row.ChatID)
	}
	return src
}

func (c *Correlator) deletedCaption(ctx context.Context, row *domain.Record) string {
	sender := c.client.ResolveDisplayName(ctx, row.FromID)
	chat := c.client.ResolveDisplayName(ctx, row.ChatID)
	caption := fmt.Sprintf("Deleted message from %s in %s", sender, chat)
	if body := strings.TrimSpace(row.Text); body != "" {
		caption += "\nMessage:\n" + body
	}
	return caption
}

// friendlyName builds a human-facing filename: resolved chat display name
// plus the original name with the canonical buffer prefix stripped.
func (c *Correlator) friendlyName(ctx context.Context, chatID int64, base string) string {
	name := domain.StripBufferPrefix(base)
	chat := c.client.ResolveDisplayName(ctx, chatID)
	return domain.SanitizeName(chat) + "_" + domain.SanitizeName(name)
}

func (c *Correlator) notify(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if runes := []rune(text); len(runes) > maxNotifyLen {
		text = string(runes[:maxNotifyLen-3]) + "..."
	}
	if err := c.client.SendMessage(ctx, c.cfg.LogChatID, text); err != nil {
		c.log.Error("failed to send notification", "error", err)
	}
}

func (c *Correlator) isIgnored(id int64) bool {
	_, ok := c.ignored[id]
	return ok
}

func removeQuietly(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to remove buffer file", "path", path, "error", err)
	}
}

// copyFile copies src to dst, publishing via a temp name so a concurrent
// listing never sees a partial file.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp-" + uuid.NewString()
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err == nil {
		err = out.Sync()
	}
	if cErr := out.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
