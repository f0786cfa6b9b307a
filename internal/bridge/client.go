// Package bridge implements the app.Messenger port against the chat-protocol
// bridge process. The bridge speaks the actual chat wire protocol and exposes
// a small REST surface; this client only moves bytes and JSON across it.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chatkeep/chatkeep/internal/app"
	"github.com/chatkeep/chatkeep/internal/domain"
)

var _ app.Messenger = (*Client)(nil)

const defaultTimeout = 2 * time.Minute

// Client talks to the bridge over HTTP.
type Client struct {
	base string
	hc   *http.Client
	log  *slog.Logger
}

// New returns a Client for the bridge at baseURL.
func New(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: defaultTimeout},
		log:  logger.With("domain", "bridge"),
	}
}

// DownloadAttachment streams the attachment behind media into destPath.
// The bridge answers 409 or 410 when the reference has expired upstream;
// that surfaces as domain.ErrReferenceExpired so the caller can re-resolve.
func (c *Client) DownloadAttachment(ctx context.Context, media *domain.MediaRef, destPath string) error {
	body, err := json.Marshal(media)
	if err != nil {
		return fmt.Errorf("encode media ref: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/download", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("bridge download: %w", err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict, http.StatusGone:
		return fmt.Errorf("bridge download: %w", domain.ErrReferenceExpired)
	default:
		return fmt.Errorf("bridge download: unexpected status %d", resp.StatusCode)
	}

	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open download target: %w", err)
	}
	if _, err = io.Copy(f, resp.Body); err == nil {
		err = f.Sync()
	}
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("write download: %w", err)
	}
	return nil
}

// UploadFile delivers the file at path to chatID as a multipart request.
// The body is streamed through a pipe; an attachment is never held in
// memory whole.
func (c *Client) UploadFile(ctx context.Context, chatID int64, path, caption, filename string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		err := writeUploadParts(mw, f, chatID, caption, filename)
		if cErr := mw.Close(); err == nil {
			err = cErr
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/upload", pr)
	if err != nil {
		_ = pr.Close()
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("bridge upload: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("bridge upload: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func writeUploadParts(mw *multipart.Writer, src io.Reader, chatID int64, caption, filename string) error {
	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if err := mw.WriteField("caption", caption); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("read upload source: %w", err)
	}
	return nil
}

// SendMessage delivers a text notification to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(struct {
		ChatID int64  `json:"chat_id"`
		Text   string `json:"text"`
	}{ChatID: chatID, Text: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("bridge send: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("bridge send: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// ResolveDisplayName returns a human-readable name for a chat or user id,
// falling back to the numeric id when the bridge cannot resolve it.
func (c *Client) ResolveDisplayName(ctx context.Context, id int64) string {
	fallback := strconv.FormatInt(id, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/name/"+fallback, nil)
	if err != nil {
		return fallback
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Debug("name resolution failed", "id", id, "error", err)
		return fallback
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return fallback
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Name == "" {
		return fallback
	}
	return out.Name
}

// FetchMessage re-reads a live message. A 404 means the message no longer
// exists upstream and yields (nil, nil).
func (c *Client) FetchMessage(ctx context.Context, chatID, msgID int64) (*domain.Message, error) {
	url := fmt.Sprintf("%s/message/%d/%d", c.base, chatID, msgID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge fetch: %w", err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("bridge fetch: unexpected status %d", resp.StatusCode)
	}
	var msg domain.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

// drain discards any unread body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
