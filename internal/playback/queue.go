package playback

import (
	"context"
	"log"
	"sync"
)

// Synthesizer turns one utterance into a playable audio clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Player delivers one clip to the audio output and blocks until playback
// ends or ctx is cancelled. The queue guarantees Play is never invoked
// concurrently.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// Status of a queued utterance.
type Status string

const (
	StatusPending Status = "pending"
	StatusPlaying Status = "playing"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

type item struct {
	id     int
	text   string
	status Status
}

// ItemView is a read-only snapshot of a queued utterance.
type ItemView struct {
	ID     int
	Text   string
	Status Status
}

// Queue serializes synthesis and playback of interviewer utterances. A
// single worker goroutine advances the queue, which makes the at-most-one-
// playing invariant structural: there is no code path that plays two items
// concurrently.
type Queue struct {
	synth  Synthesizer
	player Player

	mu         sync.Mutex
	items      []*item
	nextID     int
	enabled    bool
	closed     bool
	playing    bool
	playCancel context.CancelFunc

	wake chan struct{}
	done chan struct{}
}

// New starts a queue with playback enabled.
func New(synth Synthesizer, player Player) *Queue {
	q := &Queue{
		synth:   synth,
		player:  player,
		enabled: true,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue appends a pending utterance. If nothing is playing and the queue
// is enabled, it begins playing immediately.
func (q *Queue) Enqueue(text string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.nextID++
	q.items = append(q.items, &item{id: q.nextID, text: text, status: StatusPending})
	q.mu.Unlock()
	q.poke()
}

// Enable resumes auto-advancement from the next pending item.
func (q *Queue) Enable() {
	q.mu.Lock()
	q.enabled = true
	q.mu.Unlock()
	q.poke()
}

// Disable suspends advancement without clearing the queue. The currently
// playing item, if any, finishes.
func (q *Queue) Disable() {
	q.mu.Lock()
	q.enabled = false
	q.mu.Unlock()
}

// Enabled reports whether enqueued items auto-play.
func (q *Queue) Enabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enabled
}

// IsSpeaking reports whether an utterance is mid-playback.
func (q *Queue) IsSpeaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Interrupt stops the current utterance immediately and discards all pending
// items.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	cancel := q.playCancel
	for _, it := range q.items {
		if it.status == StatusPending {
			it.status = StatusSkipped
		}
	}
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Items returns a snapshot of all queued utterances in enqueue order.
func (q *Queue) Items() []ItemView {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ItemView, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, ItemView{ID: it.id, Text: it.text, Status: it.status})
	}
	return out
}

// Close interrupts playback and stops the worker.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	cancel := q.playCancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	close(q.done)
}

func (q *Queue) poke() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			it := q.takeNext()
			if it == nil {
				break
			}
			q.process(it)
		}
	}
}

// takeNext claims the oldest pending item, marking it playing, or returns
// nil when the queue is disabled, closed or drained.
func (q *Queue) takeNext() *item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || !q.enabled {
		return nil
	}
	for _, it := range q.items {
		if it.status == StatusPending {
			it.status = StatusPlaying
			q.playing = true
			return it
		}
	}
	return nil
}

// process synthesizes and plays one item. A failure marks that item failed
// and the queue moves on; a single dropped utterance must not stall the
// interview.
func (q *Queue) process(it *item) {
	ctx, cancel := context.WithCancel(context.Background())
	q.mu.Lock()
	q.playCancel = cancel
	q.mu.Unlock()

	final := StatusDone
	audio, err := q.synth.Synthesize(ctx, it.text)
	if err != nil {
		if ctx.Err() != nil {
			final = StatusSkipped
		} else {
			log.Printf("playback: synthesis failed for item %d: %v", it.id, err)
			final = StatusFailed
		}
	} else if err := q.player.Play(ctx, audio); err != nil {
		if ctx.Err() != nil {
			final = StatusSkipped
		} else {
			log.Printf("playback: play failed for item %d: %v", it.id, err)
			final = StatusFailed
		}
	}
	cancel()

	q.mu.Lock()
	it.status = final
	q.playing = false
	q.playCancel = nil
	q.mu.Unlock()
}
