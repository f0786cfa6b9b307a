package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chatkeep/chatkeep/internal/domain"
)

// IngestConfig carries the policy knobs for inbound message handling.
type IngestConfig struct {
	// SelfID is the account's own id; messages in the self-chat are skipped.
	SelfID int64
	// IgnoredIDs short-circuits processing for these sender/chat ids.
	IgnoredIDs []int64
	// ListenOutgoing includes the account's own outgoing messages.
	ListenOutgoing bool
	// BufferAll shadows every attachment regardless of flags.
	BufferAll bool
	// BufferNoForwards shadows attachments of forward-restricted messages.
	BufferNoForwards bool
	// ProcessSelfDestruct shadows self-destructing attachments and flags
	// their rows for read-contents handling.
	ProcessSelfDestruct bool
}

// Ingestor records inbound messages: it buffers attachments that satisfy
// the buffering policy and writes the metadata row the correlator later
// relies on.
type Ingestor struct {
	store   MessageStore
	buffer  MediaBuffer
	clock   Clock
	cfg     IngestConfig
	ignored map[int64]struct{}
	log     *slog.Logger
}

// NewIngestor wires an Ingestor.
func NewIngestor(store MessageStore, buf MediaBuffer, clock Clock, cfg IngestConfig, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	ignored := make(map[int64]struct{}, len(cfg.IgnoredIDs))
	for _, id := range cfg.IgnoredIDs {
		ignored[id] = struct{}{}
	}
	return &Ingestor{
		store:   store,
		buffer:  buf,
		clock:   clock,
		cfg:     cfg,
		ignored: ignored,
		log:     logger.With("domain", "ingest"),
	}
}

// HandleNew processes a new (or newly edited) inbound message. Buffering is
// best-effort: a failed download still leaves a metadata row recording that
// the message carried media.
func (i *Ingestor) HandleNew(ctx context.Context, msg *domain.Message, edited bool) error {
	if msg == nil {
		return nil
	}
	if !i.cfg.ListenOutgoing && msg.Out {
		i.log.Debug("skipping outgoing message", "msg_id", msg.ID)
		return nil
	}
	if i.isIgnored(msg.FromID) || i.isIgnored(msg.ChatID) {
		i.log.Debug("ignoring message", "msg_id", msg.ID, "from_id", msg.FromID, "chat_id", msg.ChatID)
		return nil
	}
	if i.cfg.SelfID != 0 && msg.ChatID == i.cfg.SelfID {
		i.log.Debug("skipping self-chat message", "msg_id", msg.ID)
		return nil
	}

	selfDestructing := msg.Media.SelfDestructing()
	if i.shouldBuffer(msg, selfDestructing) {
		if _, err := i.buffer.Save(ctx, msg); err != nil {
			i.log.Error("buffering attachment failed", "msg_id", msg.ID, "chat_id", msg.ChatID, "error", err)
		}
	}

	exists, err := i.store.Exists(ctx, msg.ID, msg.ChatID)
	if err != nil {
		return fmt.Errorf("existence check: %w", err)
	}
	if exists {
		return nil
	}

	media, err := domain.EncodeMedia(msg.Media)
	if err != nil {
		return fmt.Errorf("encode media ref: %w", err)
	}
	now := i.clock.Now()
	rec := &domain.Record{
		ID:              msg.ID,
		FromID:          msg.FromID,
		ChatID:          msg.ChatID,
		Class:           msg.Class,
		Text:            msg.Text,
		Media:           media,
		NoForwards:      msg.NoForwards,
		SelfDestructing: i.cfg.ProcessSelfDestruct && selfDestructing,
		CreatedAt:       now,
	}
	if edited {
		rec.EditedAt = &now
	}
	if err := i.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (i *Ingestor) shouldBuffer(msg *domain.Message, selfDestructing bool) bool {
	if msg.Media == nil {
		return false
	}
	switch {
	case i.cfg.BufferAll:
		return true
	case i.cfg.BufferNoForwards && msg.NoForwards:
		return true
	case i.cfg.ProcessSelfDestruct && selfDestructing:
		return true
	}
	return false
}

func (i *Ingestor) isIgnored(id int64) bool {
	_, ok := i.ignored[id]
	return ok
}
