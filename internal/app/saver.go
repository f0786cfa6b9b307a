package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/chatkeep/chatkeep/internal/domain"
)

// LinkSaver recovers forward-restricted content: the operator posts a message
// link into the log chat, and the saver fetches the linked message and
// re-posts its content there. Media goes through the buffer so a noforwards
// flag on the source chat cannot block it.
type LinkSaver struct {
	client    Messenger
	buffer    MediaBuffer
	logChatID int64
	log       *slog.Logger
}

// NewLinkSaver returns a LinkSaver posting into logChatID.
func NewLinkSaver(client Messenger, buf MediaBuffer, logChatID int64, logger *slog.Logger) *LinkSaver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkSaver{
		client:    client,
		buffer:    buf,
		logChatID: logChatID,
		log:       logger.With("domain", "saver"),
	}
}

// HandleCandidate inspects an inbound message and, when it is the operator's
// own link post in the log chat, saves every linked message. It reports
// whether the message was consumed; a consumed message skips normal ingest.
// Per-link failures are logged so one bad link never blocks the rest.
func (s *LinkSaver) HandleCandidate(ctx context.Context, msg *domain.Message) bool {
	if msg == nil || msg.ChatID != s.logChatID || !msg.Out {
		return false
	}
	links := domain.ExtractMessageLinks(msg.Text)
	if len(links) == 0 {
		return false
	}
	for _, link := range links {
		if err := s.SaveLink(ctx, link); err != nil {
			s.log.Error("failed to save linked message", "link", link, "error", err)
		}
	}
	return true
}

// SaveLink fetches the message behind link and re-posts it into the log
// chat. An unparseable link or a message that no longer exists is logged
// and swallowed; only transport failures surface as errors.
func (s *LinkSaver) SaveLink(ctx context.Context, link string) error {
	chatID, msgID, ok := domain.ParseMessageLink(link)
	if !ok {
		s.log.Warn("could not parse message link", "link", link)
		return nil
	}
	log := s.log.With("chat_id", chatID, "msg_id", msgID)

	msg, err := s.client.FetchMessage(ctx, chatID, msgID)
	if err != nil {
		return fmt.Errorf("fetch linked message: %w", err)
	}
	if msg == nil {
		log.Info("linked message no longer exists")
		return nil
	}

	if msg.Media == nil {
		if text := strings.TrimSpace(msg.Text); text != "" {
			return s.client.SendMessage(ctx, s.logChatID, text)
		}
		log.Info("linked message has no content to save")
		return nil
	}

	src, err := s.buffer.Save(ctx, msg)
	if err != nil {
		return fmt.Errorf("buffer linked media: %w", err)
	}
	if src == "" {
		// already buffered, or the download was refused
		src = s.buffer.Find(msg.ID, msg.ChatID)
	}
	if src == "" {
		log.Warn("linked media could not be buffered")
		return nil
	}
	name := domain.StripBufferPrefix(filepath.Base(src))
	if err := s.client.UploadFile(ctx, s.logChatID, src, msg.Text, name); err != nil {
		return fmt.Errorf("upload linked media: %w", err)
	}
	log.Info("saved linked message", "file", name)
	return nil
}
