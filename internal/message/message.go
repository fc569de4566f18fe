package message

import (
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderBot   Sender = "bot"
	SenderAdmin Sender = "admin"
)

// Status tracks delivery state of a message.
type Status string

const (
	StatusSending Status = "sending"
	StatusQueued  Status = "queued"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

// AttachmentKind classifies an attachment for rendering and grouping.
type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindDocument AttachmentKind = "document"
)

// Attachment is an opaque file payload carried by a message.
type Attachment struct {
	URL  string         `json:"url"`
	Name string         `json:"name"`
	Mime string         `json:"mime"`
	Kind AttachmentKind `json:"kind"`
}

// ReplyRef points at the message being replied to.
type ReplyRef struct {
	ID          string `json:"id"`
	PreviewText string `json:"previewText"`
}

// Color is the derived bubble color pair. Not authoritative; the UI may
// override it from the bot style.
type Color struct {
	Background string `json:"background"`
	Text       string `json:"text"`
}

// Message is the canonical internal message shape. All wire variants are
// normalized into this before they touch session state.
type Message struct {
	ID          string       `json:"id,omitempty"`
	TempID      string       `json:"tempId"`
	From        Sender       `json:"from"`
	Text        string       `json:"text"`
	Status      Status       `json:"status"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
	// Files is populated on grouped messages only; see GroupAttachments.
	Files   []Attachment `json:"files,omitempty"`
	ReplyTo *ReplyRef    `json:"replyTo,omitempty"`
	Color   Color        `json:"color"`
}

// MergeKey returns the identifier used to decide whether two records are the
// same logical message. TempID wins while present so a server ack can be
// matched back to its local echo.
func (m Message) MergeKey() string {
	if m.TempID != "" {
		return m.TempID
	}
	return m.ID
}

// HasServerID reports whether the message has been acknowledged by the server.
func (m Message) HasServerID() bool {
	return m.ID != ""
}

// IsAttachment reports whether the message carries at least one file.
func (m Message) IsAttachment() bool {
	return len(m.Attachments) > 0 || len(m.Files) > 0
}
