package buffer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatkeep/chatkeep/internal/domain"
)

type fakeClient struct {
	data      []byte
	failures  int
	failWith  error
	attempts  int
	refetches int
	fresh     *domain.Message
	lastMedia *domain.MediaRef
	chatName  string
}

func (f *fakeClient) DownloadAttachment(_ context.Context, media *domain.MediaRef, dest string) error {
	f.attempts++
	f.lastMedia = media
	if f.attempts <= f.failures {
		if f.failWith != nil {
			return f.failWith
		}
		return errors.New("download failed")
	}
	return os.WriteFile(dest, f.data, 0o600)
}

func (f *fakeClient) ResolveDisplayName(_ context.Context, id int64) string {
	if f.chatName != "" {
		return f.chatName
	}
	return strconv.FormatInt(id, 10)
}

func (f *fakeClient) FetchMessage(_ context.Context, _, _ int64) (*domain.Message, error) {
	f.refetches++
	return f.fresh, nil
}

func photoMsg(id, chatID int64) *domain.Message {
	return &domain.Message{
		ID:     id,
		ChatID: chatID,
		Media:  &domain.MediaRef{Kind: domain.MediaPhoto, Ref: "ref-1", Size: 10},
	}
}

func TestSaveNoMedia(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 0, &fakeClient{}, nil)
	path, err := s.Save(context.Background(), &domain.Message{ID: 1, ChatID: 2})
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestSaveOversizeSkipped(t *testing.T) {
	dir := t.TempDir()
	fc := &fakeClient{data: []byte("x")}
	s := New(dir, 5, fc, nil)
	msg := photoMsg(1, 2)
	msg.Media.Size = 6
	path, err := s.Save(context.Background(), msg)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Zero(t, fc.attempts)
}

func TestSaveAndFind(t *testing.T) {
	dir := t.TempDir()
	fc := &fakeClient{data: []byte("payload"), chatName: "Alice Smith"}
	s := New(dir, 0, fc, nil)

	path, err := s.Save(context.Background(), photoMsg(999, 12345))
	require.NoError(t, err)
	require.NotEmpty(t, path)
	assert.Equal(t, "12345_999_Alice Smith_photo.jpg", filepath.Base(path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	assert.Equal(t, path, s.Find(999, 12345))
}

func TestSaveIdempotent(t *testing.T) {
	dir := t.TempDir()
	fc := &fakeClient{data: []byte("payload")}
	s := New(dir, 0, fc, nil)

	first, err := s.Save(context.Background(), photoMsg(999, 12345))
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := s.Save(context.Background(), photoMsg(999, 12345))
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, 1, fc.attempts)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveRetriesExpiredReference(t *testing.T) {
	dir := t.TempDir()
	fresh := photoMsg(7, 3)
	fresh.Media.Ref = "ref-2"
	fc := &fakeClient{
		data:     []byte("ok"),
		failures: 2,
		failWith: domain.ErrReferenceExpired,
		fresh:    fresh,
	}
	s := New(dir, 0, fc, nil)

	path, err := s.Save(context.Background(), photoMsg(7, 3))
	require.NoError(t, err)
	require.NotEmpty(t, path)
	assert.Equal(t, 3, fc.attempts)
	assert.Equal(t, 2, fc.refetches)
	assert.Equal(t, "ref-2", fc.lastMedia.Ref)
}

func TestSaveRetryBudgetExhausted(t *testing.T) {
	dir := t.TempDir()
	fc := &fakeClient{failures: 10}
	s := New(dir, 0, fc, nil)

	path, err := s.Save(context.Background(), photoMsg(7, 3))
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, 3, fc.attempts)

	// no partial file may remain visible
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFindLegacyFallback(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 0, &fakeClient{}, nil)

	legacy := filepath.Join(dir, "999_old_photo.jpg")
	require.NoError(t, os.WriteFile(legacy, []byte("x"), 0o600))
	assert.Equal(t, legacy, s.Find(999, 12345))

	// a canonical entry wins over the legacy one
	canonical := filepath.Join(dir, "12345_999_new_photo.jpg")
	require.NoError(t, os.WriteFile(canonical, []byte("y"), 0o600))
	assert.Equal(t, canonical, s.Find(999, 12345))
}

func TestFindLegacyPrefixAmbiguity(t *testing.T) {
	// Two chats buffered the same msgID under the legacy scheme. The lookup
	// cannot tell them apart; it must still pick one deterministically.
	dir := t.TempDir()
	s := New(dir, 0, &fakeClient{}, nil)
	a := filepath.Join(dir, "999_aaa.bin")
	b := filepath.Join(dir, "999_bbb.bin")
	require.NoError(t, os.WriteFile(b, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o600))
	for i := 0; i < 5; i++ {
		assert.Equal(t, a, s.Find(999, 42))
	}
}

func TestFindMissingDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope"), 0, &fakeClient{}, nil)
	assert.Empty(t, s.Find(1, 2))
}

func TestPurgeExpiredBoundary(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 0, &fakeClient{}, nil)
	now := time.Now().UTC()
	ttl := time.Hour

	atCutoff := filepath.Join(dir, "1_1_at_cutoff.bin")
	older := filepath.Join(dir, "2_2_older.bin")
	freshFile := filepath.Join(dir, "3_3_fresh.bin")
	require.NoError(t, os.WriteFile(atCutoff, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(older, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(freshFile, []byte("x"), 0o600))

	cutoff := now.Add(-ttl)
	require.NoError(t, os.Chtimes(atCutoff, cutoff, cutoff))
	require.NoError(t, os.Chtimes(older, cutoff.Add(-time.Microsecond), cutoff.Add(-time.Microsecond)))

	removed, err := s.PurgeExpired(now, ttl)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.FileExists(t, atCutoff)
	assert.NoFileExists(t, older)
	assert.FileExists(t, freshFile)
}

func TestPurgeExpiredMissingDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope"), 0, &fakeClient{}, nil)
	removed, err := s.PurgeExpired(time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestPurgeSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 0, &fakeClient{}, nil)
	sub := filepath.Join(dir, "subdir")
	require.NoError(t, os.Mkdir(sub, 0o700))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(sub, old, old))

	removed, err := s.PurgeExpired(time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.DirExists(t, sub)
}
