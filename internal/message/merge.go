package message

import "time"

// DefaultGroupWindow is how long a run of attachments from one sender keeps
// accepting new files before a fresh group starts.
const DefaultGroupWindow = 60 * time.Second

// Dedupe collapses records sharing a merge key into one message each. Output
// order follows first-seen order of keys, never last-write order, so the
// rendered timeline stays stable across repeated merges.
func Dedupe(messages []Message) []Message {
	byKey := make(map[string]int, len(messages))
	out := make([]Message, 0, len(messages))

	for _, m := range messages {
		key := m.MergeKey()
		if idx, seen := byKey[key]; seen {
			out[idx] = pickWinner(out[idx], m)
			continue
		}
		byKey[key] = len(out)
		out = append(out, m)
	}

	return out
}

// pickWinner resolves a merge-key collision. An acknowledged record (sent,
// with a server id) beats one still in flight; otherwise the later write wins.
func pickWinner(existing, incoming Message) Message {
	incomingAcked := incoming.Status == StatusSent && incoming.HasServerID()
	existingAcked := existing.Status == StatusSent && existing.HasServerID()

	if incomingAcked {
		return incoming
	}
	if existingAcked && (incoming.Status == StatusSending || incoming.Status == StatusQueued) {
		return existing
	}
	return incoming
}

// Merge applies incoming messages onto an already-rendered sequence. Existing
// entries are updated in place (a server ack replaces its local echo at the
// echo's position) and genuinely new messages append at the end. Rendered
// messages are never reordered.
func Merge(rendered []Message, incoming ...Message) []Message {
	byKey := make(map[string]int, len(rendered))
	out := make([]Message, len(rendered))
	copy(out, rendered)
	for i, m := range out {
		byKey[m.MergeKey()] = i
	}

	for _, m := range incoming {
		if idx, seen := byKey[m.MergeKey()]; seen {
			out[idx] = pickWinner(out[idx], m)
			continue
		}
		byKey[m.MergeKey()] = len(out)
		out = append(out, m)
	}

	return out
}

// GroupAttachments replays a full history and collapses consecutive
// attachments from the same sender and kind, within the grouping window, into
// one grouped message carrying a Files list. Grouping is monotonic: the
// group's timestamp advances to the max seen, so a file never ungroups.
// Incremental updates must not call this; it is a full-replay operation only.
func GroupAttachments(history []Message, window time.Duration) []Message {
	if window <= 0 {
		window = DefaultGroupWindow
	}

	out := make([]Message, 0, len(history))
	var group *Message
	var groupKind AttachmentKind

	flush := func() {
		if group == nil {
			return
		}
		// A group of one is not a group; keep the original single-attachment
		// shape.
		if len(group.Files) == 1 {
			group.Attachments = group.Files
			group.Files = nil
		}
		out = append(out, *group)
		group = nil
	}

	for _, m := range history {
		if !m.IsAttachment() {
			flush()
			out = append(out, m)
			continue
		}

		files := m.Attachments
		if len(m.Files) > 0 {
			files = m.Files
		}
		kind := files[0].Kind

		if group != nil &&
			group.From == m.From &&
			groupKind == kind &&
			!m.Timestamp.After(group.Timestamp.Add(window)) {
			group.Files = append(group.Files, files...)
			if m.Timestamp.After(group.Timestamp) {
				group.Timestamp = m.Timestamp
			}
			continue
		}

		flush()
		g := m
		g.Files = append([]Attachment(nil), files...)
		g.Attachments = nil
		group = &g
		groupKind = kind
	}

	flush()
	return out
}
