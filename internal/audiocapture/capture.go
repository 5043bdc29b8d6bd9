package audiocapture

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mcdl70/pitch-perfect/internal/errs"
	"github.com/mcdl70/pitch-perfect/internal/interview"
)

// Device abstracts the audio input source. A server deployment backs it with
// frames streamed from the browser; tests back it with a fake.
type Device interface {
	// Open acquires the exclusive input handle. Implementations classify
	// failures as errs.DeviceUnavailable, errs.PermissionDenied or
	// errs.UnsupportedEnvironment.
	Open(ctx context.Context) (Stream, error)
}

// Stream is one live capture. Frames delivers raw encoded chunks until the
// stream is closed; SupportedTypes lists the MIME types the source can emit,
// best first as far as the source knows.
type Stream interface {
	Frames() <-chan []byte
	SupportedTypes() []string
	Close() error
}

// mimePreference is the descending encoding preference for transcription
// fidelity. Uncompressed first, compressed fallbacks after.
var mimePreference = []string{
	"audio/wav",
	"audio/webm;codecs=opus",
	"audio/webm",
	"audio/mp4",
	"audio/mpeg",
	"audio/ogg",
}

// fallbackMIME labels payloads when the source supports none of the
// preferred encodings.
const fallbackMIME = "application/octet-stream"

// NegotiateMIME picks the best supported encoding from the preference list.
func NegotiateMIME(supported []string) string {
	set := make(map[string]struct{}, len(supported))
	for _, s := range supported {
		set[s] = struct{}{}
	}
	for _, want := range mimePreference {
		if _, ok := set[want]; ok {
			return want
		}
	}
	return fallbackMIME
}

// Limits are the tunable recording thresholds. Zero values take defaults.
type Limits struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	MinBytes    int
	MaxBytes    int
}

func (l Limits) withDefaults() Limits {
	if l.MinDuration == 0 {
		l.MinDuration = 1 * time.Second
	}
	if l.MaxDuration == 0 {
		l.MaxDuration = 5 * time.Minute
	}
	if l.MinBytes == 0 {
		l.MinBytes = 1024
	}
	if l.MaxBytes == 0 {
		l.MaxBytes = 25 << 20
	}
	return l
}

// Check validates a finished recording against the thresholds. A zero
// Duration means the caller could not measure one and only the byte bounds
// apply.
func (l Limits) Check(rec interview.Recording) error {
	const op = "capture.check"
	l = l.withDefaults()
	if len(rec.Data) > l.MaxBytes {
		return errs.New(errs.BadInput, op, "recording exceeds size limit")
	}
	if len(rec.Data) < l.MinBytes {
		return errs.New(errs.RecordingTooShort, op, "recording below minimum size")
	}
	if rec.Duration > 0 && rec.Duration < l.MinDuration {
		return errs.New(errs.RecordingTooShort, op, "recording below minimum duration")
	}
	return nil
}

// Capture buffers one bounded recording between Start and Stop. Exactly one
// stream is held while capturing and it is released on every exit path,
// including teardown mid-recording.
type Capture struct {
	device Device
	limits Limits
	onTick func(seconds int)

	mu        sync.Mutex
	stream    Stream
	buf       []byte
	mimeType  string
	startedAt time.Time
	elapsed   int
	done      chan struct{}
	capturing bool
	starting  bool
}

// New builds a Capture over the given device. onTick, if non-nil, receives
// the elapsed whole seconds once per second while recording.
func New(device Device, limits Limits, onTick func(seconds int)) *Capture {
	return &Capture{device: device, limits: limits.withDefaults(), onTick: onTick}
}

// Start acquires the input stream and begins buffering frames. The starting
// flag is held across the Open call so a concurrent Start cannot acquire a
// second stream and orphan the first.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.capturing || c.starting {
		c.mu.Unlock()
		return errs.New(errs.DeviceUnavailable, "capture.start", "recording already in progress")
	}
	c.starting = true
	c.mu.Unlock()

	stream, err := c.device.Open(ctx)
	if err != nil {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.starting = false
	c.stream = stream
	c.buf = nil
	c.mimeType = NegotiateMIME(stream.SupportedTypes())
	c.startedAt = time.Now()
	c.elapsed = 0
	c.done = make(chan struct{})
	c.capturing = true
	done := c.done
	c.mu.Unlock()

	log.Printf("capture: started, mime=%s", c.mimeType)

	go c.buffer(stream.Frames(), done)
	go c.tick(done)
	return nil
}

func (c *Capture) buffer(frames <-chan []byte, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			c.mu.Lock()
			if len(c.buf)+len(frame) <= c.limits.MaxBytes &&
				time.Since(c.startedAt) <= c.limits.MaxDuration {
				c.buf = append(c.buf, frame...)
			}
			c.mu.Unlock()
		}
	}
}

func (c *Capture) tick(done chan struct{}) {
	t := time.NewTicker(1 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			c.mu.Lock()
			c.elapsed++
			n := c.elapsed
			cb := c.onTick
			c.mu.Unlock()
			if cb != nil {
				cb(n)
			}
		}
	}
}

// Elapsed returns the whole seconds recorded so far.
func (c *Capture) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// IsCapturing reports whether a stream is currently held.
func (c *Capture) IsCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// Stop finalizes the recording and releases the stream unconditionally.
// A recording below the duration or byte thresholds fails with
// RecordingTooShort; the partial payload is discarded, never returned.
func (c *Capture) Stop() (interview.Recording, error) {
	c.mu.Lock()
	if !c.capturing {
		c.mu.Unlock()
		return interview.Recording{}, errs.New(errs.DeviceUnavailable, "capture.stop", "no recording in progress")
	}
	stream := c.stream
	close(c.done)
	duration := time.Since(c.startedAt)
	data := c.buf
	mime := c.mimeType
	startedAt := c.startedAt
	c.stream = nil
	c.buf = nil
	c.capturing = false
	c.mu.Unlock()

	// Release the device before validating so no error path holds the handle.
	if err := stream.Close(); err != nil {
		log.Printf("capture: stream close: %v", err)
	}

	rec := interview.Recording{
		Data:       data,
		MIMEType:   mime,
		Duration:   duration,
		CapturedAt: startedAt,
	}
	if err := c.limits.Check(rec); err != nil {
		return interview.Recording{}, err
	}
	return rec, nil
}

// Teardown aborts an in-progress recording, discarding the buffer. It is the
// component-teardown path and still guarantees the stream is released.
func (c *Capture) Teardown() {
	c.mu.Lock()
	if !c.capturing {
		c.mu.Unlock()
		return
	}
	stream := c.stream
	close(c.done)
	c.stream = nil
	c.buf = nil
	c.capturing = false
	c.mu.Unlock()
	if err := stream.Close(); err != nil {
		log.Printf("capture: teardown close: %v", err)
	}
}
