package chat

// History owns the ordered message list for one session. It is confined to
// the session's turn goroutine: every mutation is a whole-message Append or
// the image prune below, so no locking is needed beyond that confinement.
type History struct {
	msgs []Message
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{}
}

// Append adds one complete message to the end of the history.
func (h *History) Append(msg Message) {
	h.msgs = append(h.msgs, msg)
}

// Len reports the number of messages.
func (h *History) Len() int {
	return len(h.msgs)
}

// Messages returns a snapshot of the message list for an inference call.
// The slice is a copy; the messages themselves are shared and must be
// treated as read-only by callers.
func (h *History) Messages() []Message {
	out := make([]Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// PruneImages enforces the image retention policy before an inference
// call: at most keep screenshots stay in context, and removal happens in
// multiples of minBatch so prompt prefixes stay stable between batches.
// Only image chunks inside tool results are touched; text chunks, message
// order, and every other part survive unchanged. Oldest images go first.
// Returns the number of images removed.
func (h *History) PruneImages(keep, minBatch int) int {
	if minBatch < 1 {
		minBatch = 1
	}

	var results []*ToolResult
	total := 0
	for i := range h.msgs {
		for j := range h.msgs[i].Parts {
			p := h.msgs[i].Parts[j]
			if p.Type != PartToolResult || p.ToolResult == nil {
				continue
			}
			results = append(results, p.ToolResult)
			for _, c := range p.ToolResult.Content {
				if c.Type == ChunkImage {
					total++
				}
			}
		}
	}

	excess := total - keep
	if excess <= 0 {
		return 0
	}
	excess -= excess % minBatch
	if excess == 0 {
		return 0
	}

	removed := 0
	for _, tr := range results {
		if removed == excess {
			break
		}
		var kept []Chunk
		for _, c := range tr.Content {
			if c.Type == ChunkImage && removed < excess {
				removed++
				continue
			}
			kept = append(kept, c)
		}
		tr.Content = kept
	}
	return removed
}
