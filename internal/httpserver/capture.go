package httpserver

import (
	"context"
	"sync"
	"time"

	"github.com/mcdl70/pitch-perfect/internal/audiocapture"
	"github.com/mcdl70/pitch-perfect/internal/errs"
	"github.com/mcdl70/pitch-perfect/internal/interview"
)

// wsStream adapts binary websocket frames to the capture stream contract.
type wsStream struct {
	supported []string

	mu     sync.Mutex
	frames chan []byte
	closed bool
}

func newWSStream(supported []string) *wsStream {
	return &wsStream{supported: supported, frames: make(chan []byte, 64)}
}

func (s *wsStream) Frames() <-chan []byte    { return s.frames }
func (s *wsStream) SupportedTypes() []string { return s.supported }

func (s *wsStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// push hands one frame to the buffering goroutine. Frames arriving after
// close, or while the buffer is full, are dropped.
func (s *wsStream) push(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- frame:
	default:
	}
}

// frameDevice hands out the one stream its connection already owns.
type frameDevice struct {
	stream *wsStream
}

func (d frameDevice) Open(ctx context.Context) (audiocapture.Stream, error) {
	return d.stream, nil
}

// captureIngest owns at most one live recording per events connection, fed
// by binary websocket frames between capture_start and capture_stop.
type captureIngest struct {
	limits audiocapture.Limits
	onTick func(seconds int)

	mu      sync.Mutex
	capture *audiocapture.Capture
	stream  *wsStream
}

func newCaptureIngest(limits audiocapture.Limits, onTick func(seconds int)) *captureIngest {
	return &captureIngest{limits: limits, onTick: onTick}
}

func (ci *captureIngest) start(ctx context.Context, supported []string) error {
	ci.mu.Lock()
	if ci.capture != nil {
		ci.mu.Unlock()
		return errs.New(errs.DeviceUnavailable, "capture.start", "recording already in progress")
	}
	stream := newWSStream(supported)
	capture := audiocapture.New(frameDevice{stream: stream}, ci.limits, ci.onTick)
	ci.capture = capture
	ci.stream = stream
	ci.mu.Unlock()

	if err := capture.Start(ctx); err != nil {
		ci.mu.Lock()
		ci.capture, ci.stream = nil, nil
		ci.mu.Unlock()
		return err
	}
	return nil
}

func (ci *captureIngest) push(frame []byte) {
	ci.mu.Lock()
	stream := ci.stream
	ci.mu.Unlock()
	if stream != nil {
		stream.push(frame)
	}
}

func (ci *captureIngest) stop() (interview.Recording, error) {
	ci.mu.Lock()
	capture := ci.capture
	stream := ci.stream
	ci.capture, ci.stream = nil, nil
	ci.mu.Unlock()
	if capture == nil {
		return interview.Recording{}, errs.New(errs.DeviceUnavailable, "capture.stop", "no recording in progress")
	}

	// Give the buffering goroutine a beat to drain frames already received
	// before the stop cuts it off.
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) && len(stream.frames) > 0 {
		time.Sleep(time.Millisecond)
	}
	return capture.Stop()
}

// cancel tears down an in-flight recording, discarding its buffer.
func (ci *captureIngest) cancel() {
	ci.mu.Lock()
	capture := ci.capture
	ci.capture, ci.stream = nil, nil
	ci.mu.Unlock()
	if capture != nil {
		capture.Teardown()
	}
}
