// Package domain media.go models attachments as a closed tagged variant so
// display-name and extension resolution stay total and testable.
package domain

import "strings"

// MediaKind enumerates the attachment variants the pipeline understands.
type MediaKind uint8

const (
	MediaNone MediaKind = iota
	MediaPhoto
	MediaDocument
	MediaContact
	MediaRoundVideo
)

// MediaRef describes an attachment carried by a message. Ref is an opaque
// handle understood only by the chat-protocol collaborator; it can expire
// independently of the message itself.
type MediaRef struct {
	Kind       MediaKind `json:"kind"`
	Ref        string    `json:"ref"`
	FileName   string    `json:"file_name,omitempty"`
	MimeType   string    `json:"mime_type,omitempty"`
	Size       int64     `json:"size"`
	TTLSeconds int       `json:"ttl_seconds,omitempty"`
}

// SelfDestructing reports whether the attachment carries an upstream
// self-destruct timer.
func (m *MediaRef) SelfDestructing() bool {
	return m != nil && m.TTLSeconds > 0
}

// DisplayName resolves the original filename for the attachment. Every
// variant yields a usable name; unknown or missing data falls back to
// DefaultFileName.
func (m *MediaRef) DisplayName() string {
	if m == nil {
		return DefaultFileName
	}
	switch m.Kind {
	case MediaPhoto:
		return "photo.jpg"
	case MediaContact:
		return "contact.vcf"
	case MediaRoundVideo:
		return "video_note.mp4"
	case MediaDocument:
		if m.FileName != "" {
			return SanitizeName(m.FileName)
		}
		if i := strings.LastIndex(m.MimeType, "/"); i >= 0 && i < len(m.MimeType)-1 {
			return "file." + m.MimeType[i+1:]
		}
	}
	return DefaultFileName
}
