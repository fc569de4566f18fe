package message

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AttachmentMarker is the legacy text convention used by older widget builds
// to flag attachment-only messages.
const AttachmentMarker = "[file]"

// Field-name variants seen across server shapes. Both camelCase and
// PascalCase are probed for every variant.
var (
	textKeys      = []string{"text", "content", "message", "body"}
	fromKeys      = []string{"from", "sender", "role"}
	idKeys        = []string{"id", "messageId"}
	tempIDKeys    = []string{"tempId", "clientId"}
	statusKeys    = []string{"status"}
	timestampKeys = []string{"timestamp", "createdAt", "sentAt", "date"}
	fileURLKeys   = []string{"fileUrl", "filePath", "url", "path"}
	fileNameKeys  = []string{"fileName", "name"}
	mimeKeys      = []string{"mimeType", "contentType", "mime"}
	replyIDKeys   = []string{"replyToId", "quotedMessageId"}
	replyTextKeys = []string{"replyToText", "quotedText"}
)

// Normalize maps any of the known incoming wire shapes into the canonical
// Message. A record that arrives with neither id nor tempId is assigned a
// fresh random merge key so it can still participate in dedupe.
func Normalize(raw map[string]any) Message {
	m := Message{
		ID:     lookupString(raw, idKeys),
		TempID: lookupString(raw, tempIDKeys),
		Text:   lookupString(raw, textKeys),
		From:   normalizeSender(lookupString(raw, fromKeys)),
	}

	if m.ID == "" && m.TempID == "" {
		m.TempID = uuid.New().String()
	}

	m.Status = normalizeStatus(lookupString(raw, statusKeys), m.HasServerID())
	m.Timestamp = parseTimestamp(lookupString(raw, timestampKeys))
	m.Attachments = extractAttachments(raw, &m)
	m.Color = colorFor(m.From)

	if rid := lookupString(raw, replyIDKeys); rid != "" {
		m.ReplyTo = &ReplyRef{ID: rid, PreviewText: lookupString(raw, replyTextKeys)}
	}

	return m
}

// Renormalize runs a canonical Message back through normalization. It is a
// fixed point: Renormalize(Renormalize(m)) == Renormalize(m).
func Renormalize(m Message) Message {
	out := m
	out.From = normalizeSender(string(m.From))
	out.Status = normalizeStatus(string(m.Status), m.HasServerID())
	if out.ID == "" && out.TempID == "" {
		out.TempID = uuid.New().String()
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	for i := range out.Attachments {
		if out.Attachments[i].Kind == "" {
			out.Attachments[i].Kind = kindForMime(out.Attachments[i].Mime, out.Attachments[i].URL)
		}
	}
	out.Color = colorFor(out.From)
	return out
}

func lookupString(raw map[string]any, keys []string) string {
	for _, k := range keys {
		for _, variant := range []string{k, pascal(k)} {
			if v, ok := raw[variant]; ok {
				switch t := v.(type) {
				case string:
					if t != "" {
						return t
					}
				case float64:
					return fmt.Sprintf("%.0f", t)
				case int:
					return fmt.Sprintf("%d", t)
				}
			}
		}
	}
	return ""
}

func pascal(key string) string {
	return strings.ToUpper(key[:1]) + key[1:]
}

func normalizeSender(v string) Sender {
	switch strings.ToLower(v) {
	case "user", "client", "visitor":
		return SenderUser
	case "admin", "agent", "operator":
		return SenderAdmin
	default:
		return SenderBot
	}
}

func normalizeStatus(v string, acked bool) Status {
	switch strings.ToLower(v) {
	case "sending":
		return StatusSending
	case "queued":
		return StatusQueued
	case "error", "failed":
		return StatusError
	case "sent":
		return StatusSent
	default:
		// History records typically omit status; a message the server has
		// assigned an id to is by definition sent.
		if acked {
			return StatusSent
		}
		return StatusQueued
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(v string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	// Epoch timestamps arrive as bare numbers, in seconds or milliseconds.
	if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	}
	return time.Now().UTC()
}

func extractAttachments(raw map[string]any, m *Message) []Attachment {
	var out []Attachment

	if url := lookupString(raw, fileURLKeys); url != "" {
		out = append(out, Attachment{
			URL:  url,
			Name: lookupString(raw, fileNameKeys),
			Mime: lookupString(raw, mimeKeys),
			Kind: kindForMime(lookupString(raw, mimeKeys), url),
		})
	}

	if files, ok := raw["files"].([]any); ok {
		for _, f := range files {
			fm, ok := f.(map[string]any)
			if !ok {
				continue
			}
			url := lookupString(fm, fileURLKeys)
			if url == "" {
				continue
			}
			out = append(out, Attachment{
				URL:  url,
				Name: lookupString(fm, fileNameKeys),
				Mime: lookupString(fm, mimeKeys),
				Kind: kindForMime(lookupString(fm, mimeKeys), url),
			})
		}
	}

	// Malformed legacy records carry the attachment marker in their text but
	// no URL. Those stay plain text.
	if len(out) == 0 && strings.HasPrefix(m.Text, AttachmentMarker) {
		return nil
	}

	if len(out) > 0 && strings.HasPrefix(m.Text, AttachmentMarker) {
		m.Text = strings.TrimSpace(strings.TrimPrefix(m.Text, AttachmentMarker))
	}

	return out
}

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".svg"}

func kindForMime(mime, url string) AttachmentKind {
	if strings.HasPrefix(mime, "image/") {
		return KindImage
	}
	if mime == "" {
		lower := strings.ToLower(url)
		for _, ext := range imageExtensions {
			if strings.HasSuffix(lower, ext) {
				return KindImage
			}
		}
	}
	return KindDocument
}

func colorFor(from Sender) Color {
	if from == SenderUser {
		return Color{Background: "#2563eb", Text: "#ffffff"}
	}
	return Color{Background: "#f3f4f6", Text: "#111827"}
}
