package httpserver

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcdl70/pitch-perfect/internal/errs"
	"github.com/mcdl70/pitch-perfect/internal/interview"
	"github.com/mcdl70/pitch-perfect/internal/session"
)

// handleClientMessage dispatches one control message from the events socket.
func (s *Server) handleClientMessage(ctx context.Context, sess *session.Session, h *hub, ing *captureIngest, msg wsClientMessage) {
	switch msg.Type {
	case "interrupt":
		sess.Controller.Interrupt()
	case "capture_start":
		if err := ing.start(ctx, msg.SupportedTypes); err != nil {
			h.broadcast(errorMessage(err))
		}
	case "capture_cancel":
		ing.cancel()
	case "capture_stop":
		rec, err := ing.stop()
		if err != nil {
			h.broadcast(errorMessage(err))
			return
		}
		// Transcription and the dialogue round run off the read loop so a
		// new recording or an interrupt stays responsive meanwhile.
		go func() {
			if _, err := sess.Controller.SubmitRecording(context.Background(), rec); err != nil {
				h.broadcast(errorMessage(err))
			}
		}()
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is the envelope pushed to event subscribers. Exactly one of the
// payload fields is set per message.
type wsMessage struct {
	Type     string              `json:"type"` // "snapshot", "event", "audio", "capture_tick", "error"
	Snapshot *interview.Snapshot `json:"snapshot,omitempty"`
	Event    *interview.Event    `json:"event,omitempty"`
	Audio    string              `json:"audio,omitempty"` // base64 clip
	MIME     string              `json:"mime,omitempty"`
	Seconds  int                 `json:"seconds,omitempty"`
	Error    *errorBody          `json:"error,omitempty"`
}

// wsClientMessage is what the browser sends over the events socket:
// playback interrupts and recording control. Audio itself travels as binary
// frames between capture_start and capture_stop.
type wsClientMessage struct {
	Type           string   `json:"type"` // "interrupt", "capture_start", "capture_stop", "capture_cancel"
	SupportedTypes []string `json:"supported_types,omitempty"`
}

func errorMessage(err error) wsMessage {
	return wsMessage{Type: "error", Error: &errorBody{
		Kind:      string(errs.KindOf(err)),
		Message:   errs.UserMessage(err),
		Retryable: errs.Retryable(err),
	}}
}

// hub fans session messages out to every connected event socket. Writes are
// serialized under the hub lock; gorilla connections do not allow concurrent
// writers.
type hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newHub() *hub {
	return &hub{conns: make(map[*websocket.Conn]struct{})}
}

func (h *hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.Close()
}

func (h *hub) broadcast(msg wsMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteJSON(msg); err != nil {
			log.Printf("ws: dropping subscriber: %v", err)
			c.Close()
			delete(h.conns, c)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.Close()
		delete(h.conns, c)
	}
}

// mp3BytesPerSecond assumes the 128 kbit/s MP3 output the synthesis service
// returns by default. Playback happens client-side, so the server can only
// estimate how long a clip occupies the speaker.
const mp3BytesPerSecond = 16000

func estimateClipDuration(n int) time.Duration {
	d := time.Duration(n) * time.Second / mp3BytesPerSecond
	if d < 500*time.Millisecond {
		d = 500 * time.Millisecond
	}
	if d > 2*time.Minute {
		d = 2 * time.Minute
	}
	return d
}

// wsPlayer ships a synthesized clip to the event subscribers and blocks for
// its estimated play time, so the queue's speaking state tracks what the
// candidate actually hears. Interrupt cancels the wait.
type wsPlayer struct {
	h *hub
}

func (p *wsPlayer) Play(ctx context.Context, audio []byte) error {
	p.h.broadcast(wsMessage{
		Type:  "audio",
		Audio: base64.StdEncoding.EncodeToString(audio),
		MIME:  "audio/mpeg",
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(estimateClipDuration(len(audio))):
		return nil
	}
}
