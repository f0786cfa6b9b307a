// Package sqlite provides the SQLite-backed implementation of the
// app.MessageStore port for message metadata rows.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	// database/sql SQLite driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/chatkeep/chatkeep/internal/app"
	"github.com/chatkeep/chatkeep/internal/domain"
)

var _ app.MessageStore = (*Store)(nil)

// recordColumns is the scan set for domain.Record.
var recordColumns = []string{
	"id", "from_id", "chat_id", "type", "msg_text", "media",
	"noforwards", "self_destructing", "created_at", "edited_at",
}

// Store implements app.MessageStore using SQLite via sqlx. It is safe for
// concurrent use; database/sql manages pooling and serialization.
type Store struct {
	db  *sqlx.DB
	sb  sq.StatementBuilderType
	log *slog.Logger
}

// Open connects to the SQLite database at dsn.
func Open(dsn string) (*sqlx.DB, error) {
	return sqlx.Connect("sqlite3", dsn)
}

// New constructs a Store, initializing the required schema if absent.
func New(db *sqlx.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
		log: logger.With("domain", "store"),
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `CREATE TABLE IF NOT EXISTS messages (
id INTEGER NOT NULL,
from_id INTEGER NOT NULL,
chat_id INTEGER NOT NULL,
type INTEGER NOT NULL,
msg_text TEXT NOT NULL DEFAULT '',
media BLOB,
noforwards INTEGER NOT NULL DEFAULT 0,
self_destructing INTEGER NOT NULL DEFAULT 0,
created_at TIMESTAMP NOT NULL,
edited_at TIMESTAMP,
PRIMARY KEY (id, chat_id)
);
CREATE INDEX IF NOT EXISTS messages_created_index ON messages (created_at DESC);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Exists reports whether a row for (msgID, chatID) is present.
func (s *Store) Exists(ctx context.Context, msgID, chatID int64) (bool, error) {
	query, args, err := s.sb.Select("1").From("messages").
		Where(sq.Eq{"id": msgID, "chat_id": chatID}).
		Limit(1).ToSql()
	if err != nil {
		return false, err
	}
	var one int
	if err := s.db.GetContext(ctx, &one, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Insert stores a metadata row. A duplicate (id, chat_id) under concurrent
// event delivery is expected and silently ignored.
func (s *Store) Insert(ctx context.Context, rec *domain.Record) error {
	query, args, err := s.sb.Insert("messages").Options("OR IGNORE").
		Columns(recordColumns...).
		Values(rec.ID, rec.FromID, rec.ChatID, rec.Class, rec.Text, rec.Media,
			rec.NoForwards, rec.SelfDestructing, rec.CreatedAt.UTC(), nullableTime(rec.EditedAt)).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert message %d/%d: %w", rec.ChatID, rec.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.log.Debug("duplicate message ignored", "msg_id", rec.ID, "chat_id", rec.ChatID)
	}
	return nil
}

// QueryByIDs resolves rows for a deletion/edit event, ordered by creation
// time ascending. With no chat scope, channel-style ids (-100…) are
// excluded: unscoped deletion updates never refer to channel messages.
func (s *Store) QueryByIDs(ctx context.Context, chatID *int64, ids []int64) ([]domain.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	b := s.sb.Select(recordColumns...).From("messages").Where(sq.Eq{"id": ids})
	if chatID != nil {
		b = b.Where(sq.Eq{"chat_id": *chatID})
	} else {
		b = b.Where(sq.NotLike{"CAST(chat_id AS TEXT)": "-100%"})
	}
	query, args, err := b.OrderBy("created_at ASC").ToSql()
	if err != nil {
		return nil, err
	}
	var rows []domain.Record
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query messages by ids: %w", err)
	}
	return rows, nil
}

// DeleteExpired evicts rows older than their class retention TTL and
// returns the number removed.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time, policy domain.RetentionPolicy) (int64, error) {
	classes := []domain.ChatClass{
		domain.ChatUser, domain.ChatChannel, domain.ChatGroup, domain.ChatBot, domain.ChatUnknown,
	}
	cond := sq.Or{}
	for _, class := range classes {
		cond = append(cond, sq.And{
			sq.Eq{"type": class},
			sq.Lt{"created_at": now.Add(-policy.ForClass(class)).UTC()},
		})
	}
	query, args, err := s.sb.Delete("messages").Where(cond).ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("deleted expired messages", "count", n)
	}
	return n, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
