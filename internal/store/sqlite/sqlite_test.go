package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatkeep/chatkeep/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open("file:" + filepath.Join(t.TempDir(), "test.db") + "?_journal_mode=WAL&_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := New(db, nil)
	require.NoError(t, err)
	return s
}

func rec(id, chatID int64, class domain.ChatClass, createdAt time.Time) *domain.Record {
	return &domain.Record{
		ID:        id,
		FromID:    100,
		ChatID:    chatID,
		Class:     class,
		Text:      "hello",
		CreatedAt: createdAt,
	}
}

func TestInsertAndExists(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := s.Exists(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Insert(ctx, rec(1, 2, domain.ChatUser, now)))

	ok, err = s.Exists(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	// same message id in another chat is a distinct row
	ok, err = s.Exists(ctx, 1, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsertDuplicateIgnored(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := rec(7, 9, domain.ChatUser, now)
	first.Text = "original"
	require.NoError(t, s.Insert(ctx, first))

	dup := rec(7, 9, domain.ChatUser, now)
	dup.Text = "racer"
	require.NoError(t, s.Insert(ctx, dup))

	chatID := int64(9)
	rows, err := s.QueryByIDs(ctx, &chatID, []int64{7})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "original", rows[0].Text)
}

func TestQueryByIDsOrderAndScope(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, s.Insert(ctx, rec(2, 10, domain.ChatUser, base.Add(2*time.Minute))))
	require.NoError(t, s.Insert(ctx, rec(1, 10, domain.ChatUser, base.Add(1*time.Minute))))
	require.NoError(t, s.Insert(ctx, rec(3, 11, domain.ChatUser, base)))

	chatID := int64(10)
	rows, err := s.QueryByIDs(ctx, &chatID, []int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 1, rows[0].ID)
	assert.EqualValues(t, 2, rows[1].ID)
}

func TestQueryByIDsUnscopedExcludesChannels(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Insert(ctx, rec(5, 42, domain.ChatUser, now)))
	require.NoError(t, s.Insert(ctx, rec(5, -100123456, domain.ChatChannel, now)))

	rows, err := s.QueryByIDs(ctx, nil, []int64{5})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 42, rows[0].ChatID)
}

func TestQueryByIDsEmpty(t *testing.T) {
	s := newStore(t)
	rows, err := s.QueryByIDs(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRecordRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	edited := now.Add(time.Minute)

	media, err := domain.EncodeMedia(&domain.MediaRef{Kind: domain.MediaPhoto, Ref: "r", Size: 5})
	require.NoError(t, err)

	in := rec(8, 20, domain.ChatGroup, now)
	in.Media = media
	in.NoForwards = true
	in.SelfDestructing = true
	in.EditedAt = &edited
	require.NoError(t, s.Insert(ctx, in))

	chatID := int64(20)
	rows, err := s.QueryByIDs(ctx, &chatID, []int64{8})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got := rows[0]
	assert.Equal(t, domain.ChatGroup, got.Class)
	assert.True(t, got.HasMedia())
	assert.Equal(t, media, got.Media)
	assert.True(t, got.NoForwards)
	assert.True(t, got.SelfDestructing)
	assert.True(t, got.CreatedAt.Equal(now))
	require.NotNil(t, got.EditedAt)
	assert.True(t, got.EditedAt.Equal(edited))
}

func TestDeleteExpiredPerClass(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	policy := domain.RetentionPolicy{
		User:    24 * time.Hour,
		Channel: 48 * time.Hour,
		Group:   24 * time.Hour,
		Bot:     1 * time.Hour,
		Unknown: 24 * time.Hour,
	}

	// expired for their class
	require.NoError(t, s.Insert(ctx, rec(1, 1, domain.ChatUser, now.Add(-25*time.Hour))))
	require.NoError(t, s.Insert(ctx, rec(2, 2, domain.ChatBot, now.Add(-2*time.Hour))))
	// within retention
	require.NoError(t, s.Insert(ctx, rec(3, 3, domain.ChatChannel, now.Add(-25*time.Hour))))
	require.NoError(t, s.Insert(ctx, rec(4, 4, domain.ChatUser, now.Add(-23*time.Hour))))

	n, err := s.DeleteExpired(ctx, now, policy)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for id, chat := range map[int64]int64{3: 3, 4: 4} {
		ok, err := s.Exists(ctx, id, chat)
		require.NoError(t, err)
		assert.True(t, ok, "row %d should survive", id)
	}
	for id, chat := range map[int64]int64{1: 1, 2: 2} {
		ok, err := s.Exists(ctx, id, chat)
		require.NoError(t, err)
		assert.False(t, ok, "row %d should be evicted", id)
	}
}
