// Package domain message.go holds message handles, metadata records, and the
// per-class retention policy that parameterizes eviction.
package domain

import (
	"encoding/json"
	"time"
)

// ChatClass categorizes the conversation a message belongs to. Each class
// has its own metadata retention TTL.
type ChatClass int

const (
	ChatUnknown ChatClass = 0
	ChatUser    ChatClass = 1
	ChatChannel ChatClass = 2
	ChatGroup   ChatClass = 3
	ChatBot     ChatClass = 4
)

func (c ChatClass) String() string {
	switch c {
	case ChatUser:
		return "user"
	case ChatChannel:
		return "channel"
	case ChatGroup:
		return "group"
	case ChatBot:
		return "bot"
	}
	return "unknown"
}

// Message is a live message handle as delivered by the chat-protocol
// collaborator. It is the unit the buffer downloads from.
type Message struct {
	ID         int64     `json:"id"`
	ChatID     int64     `json:"chat_id"`
	FromID     int64     `json:"from_id"`
	Class      ChatClass `json:"class"`
	Text       string    `json:"text"`
	Media      *MediaRef `json:"media,omitempty"`
	Out        bool      `json:"out"`
	NoForwards bool      `json:"noforwards"`
}

// Record is a message metadata row. Identity is the composite
// (ID, ChatID); Media holds the serialized attachment reference and is the
// authoritative signal for "was there an attachment".
type Record struct {
	ID              int64      `db:"id"`
	FromID          int64      `db:"from_id"`
	ChatID          int64      `db:"chat_id"`
	Class           ChatClass  `db:"type"`
	Text            string     `db:"msg_text"`
	Media           []byte     `db:"media"`
	NoForwards      bool       `db:"noforwards"`
	SelfDestructing bool       `db:"self_destructing"`
	CreatedAt       time.Time  `db:"created_at"`
	EditedAt        *time.Time `db:"edited_at"`
}

// HasMedia reports whether the recorded message carried an attachment.
func (r *Record) HasMedia() bool { return len(r.Media) > 0 }

// EncodeMedia serializes an attachment reference for storage in a Record.
// A nil ref encodes to nil.
func EncodeMedia(m *MediaRef) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// RetentionPolicy holds the per-class metadata TTLs and the global plaintext
// buffer TTL. Zero values are never valid; config validation rejects them.
type RetentionPolicy struct {
	User      time.Duration
	Channel   time.Duration
	Group     time.Duration
	Bot       time.Duration
	Unknown   time.Duration
	BufferTTL time.Duration
}

// ForClass returns the metadata TTL for a chat class.
func (p RetentionPolicy) ForClass(c ChatClass) time.Duration {
	switch c {
	case ChatUser:
		return p.User
	case ChatChannel:
		return p.Channel
	case ChatGroup:
		return p.Group
	case ChatBot:
		return p.Bot
	}
	return p.Unknown
}
