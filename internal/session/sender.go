package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/deskloop/deskloop/internal/transcript"
	"github.com/deskloop/deskloop/internal/wire"
)

const eventWriteTimeout = 10 * time.Second

// Sender serializes event writes to one client connection and mirrors
// every frame to the transcript log. Events are written synchronously
// so their order on the wire matches emission order; the transcript
// copy is queued and never blocks.
type Sender struct {
	conn      *websocket.Conn
	log       transcript.Logger
	userID    string
	sessionID string

	mu sync.Mutex
}

func NewSender(conn *websocket.Conn, log transcript.Logger, userID, sessionID string) *Sender {
	if log == nil {
		log = transcript.Noop()
	}
	return &Sender{
		conn:      conn,
		log:       log,
		userID:    userID,
		sessionID: sessionID,
	}
}

// Send writes one event frame. Write failures are logged and swallowed;
// a dead transport surfaces through the read loop, which tears the
// session down.
func (s *Sender) Send(ev wire.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Event not serializable", "type", ev.Type, "error", err)
		return
	}

	s.mu.Lock()
	ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
	err = s.conn.Write(ctx, websocket.MessageText, data)
	cancel()
	s.mu.Unlock()

	if err != nil {
		slog.Debug("Event write failed", "type", ev.Type, "session_id", s.sessionID, "error", err)
	}

	s.log.Log(transcript.Event{
		UserID:     s.userID,
		SessionID:  s.sessionID,
		Direction:  "outbound",
		Frame:      ev.Type,
		ContentRaw: eventContent(ev),
	})
}

// eventContent picks the human-meaningful payload of an event for the
// transcript; screenshots are summarized, not inlined.
func eventContent(ev wire.Event) string {
	switch {
	case ev.Content != "":
		return ev.Content
	case ev.Type == wire.EventToolUse:
		return ev.Name
	case ev.Error != "":
		return ev.Error
	case ev.Output != "":
		return ev.Output
	case ev.Base64Image != "":
		return "[screenshot]"
	case ev.URL != "":
		return ev.URL
	}
	return ""
}
