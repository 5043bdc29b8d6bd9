package interview

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mcdl70/pitch-perfect/internal/errs"
)

// State of the interview session machine.
type State string

const (
	StateInitializing      State = "initializing"
	StateAwaitingCandidate State = "awaiting_candidate"
	StateProcessingTurn    State = "processing_turn"
	StateCompleting        State = "completing"
	StateCompleted         State = "completed"
	StateErrored           State = "errored"
)

// ErrInterviewerSpeaking rejects a candidate submission while the
// interviewer's own audio is still playing. The dialogue engine's context
// assumes strict alternation, so the submission is refused rather than
// queued.
var ErrInterviewerSpeaking = errors.New("interviewer is still speaking")

// ErrInvalidState rejects an operation that is not legal in the current
// session state.
var ErrInvalidState = errors.New("operation not valid in current session state")

// errConsecutiveInterviewer guards the transcript against two interviewer
// turns in a row. The state machine prevents this structurally; the check
// exists so a future bug corrupts nothing.
var errConsecutiveInterviewer = errors.New("refusing to append consecutive interviewer turns")

// Event is pushed to the session observer on every externally visible
// change.
type Event struct {
	Type  string `json:"type"` // "turn", "state", "completed"
	State State  `json:"state"`
	Stage Stage  `json:"stage"`
	Turn  *Turn  `json:"turn,omitempty"`
}

// LastError is the retained, user-visible failure of the most recent
// operation, kept until the next successful turn so the client can offer an
// explicit retry.
type LastError struct {
	Kind      errs.Kind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// Snapshot is the serializable view of a session.
type Snapshot struct {
	State       State      `json:"state"`
	Stage       Stage      `json:"stage"`
	Turns       []Turn     `json:"turns"`
	IsSpeaking  bool       `json:"is_speaking"`
	LastError   *LastError `json:"last_error,omitempty"`
	LastInput   string     `json:"last_input,omitempty"`
	RecordID    string     `json:"record_id,omitempty"`
	Degraded    bool       `json:"degraded,omitempty"`
	Report      *Report    `json:"report,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Options configures a controller.
type Options struct {
	Analysis       JobAnalysis
	RawDescription string
	Config         SessionConfig
	RecordID       string // existing saved-configuration row, empty to insert at completion
	Owner          string
	// ClosingDelay lets the closing utterance finish playing before the
	// report is generated. Zero means the 2s default; negative disables.
	ClosingDelay time.Duration
	OnEvent      func(Event)
}

// Controller owns one interview session: the transcript, the stage, and the
// coordination of transcription, dialogue, synthesis playback, report
// generation and persistence. All mutation goes through the defined
// transitions; there is no ambient session state anywhere else.
type Controller struct {
	engine      DialogueEngine
	reporter    ReportGenerator
	store       PersistenceGateway
	transcriber Transcriber
	speaker     Speaker

	opts         Options
	closingDelay time.Duration

	mu          sync.Mutex
	state       State
	stage       Stage
	turns       []Turn
	lastErr     *LastError
	lastInput   string
	recordID    string
	degraded    bool
	report      *Report
	startedAt   time.Time
	completedAt time.Time

	completedCh chan struct{}
	finalizing  bool
}

// NewController builds a session in the Initializing state. speaker and
// transcriber may be nil for text-only sessions.
func NewController(engine DialogueEngine, reporter ReportGenerator, store PersistenceGateway, transcriber Transcriber, speaker Speaker, opts Options) *Controller {
	if speaker == nil {
		speaker = nopSpeaker{}
	}
	delay := opts.ClosingDelay
	if delay == 0 {
		delay = 2 * time.Second
	}
	if delay < 0 {
		delay = 0
	}
	return &Controller{
		engine:       engine,
		reporter:     reporter,
		store:        store,
		transcriber:  transcriber,
		speaker:      speaker,
		opts:         opts,
		closingDelay: delay,
		state:        StateInitializing,
		stage:        StageStart,
		recordID:     opts.RecordID,
		startedAt:    time.Now(),
		completedCh:  make(chan struct{}),
	}
}

// Begin runs the Initializing transition: one dialogue call with an empty
// transcript at the start stage, producing exactly one interviewer turn.
// A failed Begin leaves the session in Errored with the retryable flag set;
// re-invoking Begin is the retry.
func (c *Controller) Begin(ctx context.Context) (Turn, error) {
	c.mu.Lock()
	if c.state != StateInitializing && c.state != StateErrored {
		c.mu.Unlock()
		return Turn{}, ErrInvalidState
	}
	c.state = StateInitializing
	analysis := c.opts.Analysis
	c.mu.Unlock()

	q, err := c.engine.NextQuestion(ctx, analysis, nil, StageStart)
	if err != nil {
		c.mu.Lock()
		c.state = StateErrored
		c.lastErr = retained(err)
		c.mu.Unlock()
		c.emit(Event{Type: "state"})
		return Turn{}, err
	}

	turn := Turn{Role: RoleInterviewer, Text: q.Question, CreatedAt: time.Now(), QuestionType: q.QuestionType}
	c.mu.Lock()
	if err := c.appendInterviewerLocked(turn); err != nil {
		c.mu.Unlock()
		return Turn{}, err
	}
	c.applyStageLocked(q.NextStage)
	c.state = StateAwaitingCandidate
	c.lastErr = nil
	c.mu.Unlock()

	c.speak(q.Question)
	c.emit(Event{Type: "turn", Turn: &turn})
	return turn, nil
}

// Submit runs one ProcessingTurn cycle with typed candidate text. On
// success the transcript grows by exactly two turns. On failure nothing is
// appended, the input is preserved for resend, and the session returns to
// AwaitingCandidate.
func (c *Controller) Submit(ctx context.Context, text string) (Turn, error) {
	if strings.TrimSpace(text) == "" {
		return Turn{}, errs.New(errs.NoSpeechDetected, "session.submit", "blank candidate input")
	}
	if c.speaker.IsSpeaking() {
		return Turn{}, ErrInterviewerSpeaking
	}

	c.mu.Lock()
	if c.state != StateAwaitingCandidate {
		c.mu.Unlock()
		return Turn{}, ErrInvalidState
	}
	c.state = StateProcessingTurn
	c.lastInput = text
	analysis := c.opts.Analysis
	stage := c.stage
	candidate := Turn{Role: RoleCandidate, Text: text, CreatedAt: time.Now()}
	history := make([]Turn, len(c.turns), len(c.turns)+1)
	copy(history, c.turns)
	history = append(history, candidate)
	c.mu.Unlock()

	c.emit(Event{Type: "state"})

	q, err := c.engine.NextQuestion(ctx, analysis, history, stage)
	if err != nil {
		// The failed round is not appended; the candidate input stays
		// available for an explicit resend.
		c.mu.Lock()
		c.state = StateAwaitingCandidate
		c.lastErr = retained(err)
		c.mu.Unlock()
		c.emit(Event{Type: "state"})
		return Turn{}, err
	}

	reply := Turn{Role: RoleInterviewer, Text: q.Question, CreatedAt: time.Now(), QuestionType: q.QuestionType}
	c.mu.Lock()
	c.turns = append(c.turns, candidate)
	if err := c.appendInterviewerLocked(reply); err != nil {
		// Roll the candidate append back; the transcript must stay
		// consistent with the last fully committed turn.
		c.turns = c.turns[:len(c.turns)-1]
		c.state = StateAwaitingCandidate
		c.mu.Unlock()
		return Turn{}, err
	}
	c.applyStageLocked(q.NextStage)
	c.lastErr = nil
	c.lastInput = ""
	complete := q.InterviewComplete
	if complete {
		c.state = StateCompleting
	} else {
		c.state = StateAwaitingCandidate
	}
	c.mu.Unlock()

	c.speak(q.Question)
	c.emit(Event{Type: "turn", Turn: &candidate})
	c.emit(Event{Type: "turn", Turn: &reply})

	if complete {
		go c.finalizeAfterDelay()
	}
	return reply, nil
}

// SubmitRecording transcribes a captured recording and submits the result
// as the candidate turn. Transcription failures, including NoSpeechDetected,
// leave the transcript untouched.
func (c *Controller) SubmitRecording(ctx context.Context, rec Recording) (Turn, error) {
	if c.transcriber == nil {
		return Turn{}, errs.New(errs.UnsupportedEnvironment, "session.submit_recording", "no transcriber configured")
	}
	if c.speaker.IsSpeaking() {
		return Turn{}, ErrInterviewerSpeaking
	}
	text, err := c.transcriber.Transcribe(ctx, rec)
	if err != nil {
		c.mu.Lock()
		c.lastErr = retained(err)
		c.mu.Unlock()
		return Turn{}, err
	}
	return c.Submit(ctx, text)
}

// Interrupt stops interviewer audio playback immediately.
func (c *Controller) Interrupt() { c.speaker.Interrupt() }

// Completed closes when the session reaches the Completed state.
func (c *Controller) Completed() <-chan struct{} { return c.completedCh }

// Snapshot returns a copy of the externally visible session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	turns := make([]Turn, len(c.turns))
	copy(turns, c.turns)
	s := Snapshot{
		State:      c.state,
		Stage:      c.stage,
		Turns:      turns,
		IsSpeaking: c.speaker.IsSpeaking(),
		LastError:  c.lastErr,
		LastInput:  c.lastInput,
		RecordID:   c.recordID,
		Degraded:   c.degraded,
		Report:     c.report,
		StartedAt:  c.startedAt,
	}
	if !c.completedAt.IsZero() {
		t := c.completedAt
		s.CompletedAt = &t
	}
	return s
}

func (c *Controller) finalizeAfterDelay() {
	if c.closingDelay > 0 {
		time.Sleep(c.closingDelay)
	}
	c.finalize(context.Background())
}

// finalize runs the Completing transition: generate the report, persist the
// record, and reach Completed exactly once. A report or persistence failure
// still reaches Completed, with the record marked degraded; the user must
// always arrive at a terminal report view.
func (c *Controller) finalize(ctx context.Context) {
	c.mu.Lock()
	if c.finalizing || c.state == StateCompleted {
		c.mu.Unlock()
		return
	}
	c.finalizing = true
	c.state = StateCompleting
	analysis := c.opts.Analysis
	history := make([]Turn, len(c.turns))
	copy(history, c.turns)
	duration := time.Since(c.startedAt)
	c.mu.Unlock()

	c.emit(Event{Type: "state"})

	var rep *Report
	var score *float64
	if r, err := c.reporter.Generate(ctx, analysis, history, duration); err != nil {
		log.Printf("session: report generation failed: %v", err)
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
	} else {
		rep = &r
		score = &r.OverallScore
	}

	c.persist(ctx, history, duration, rep, score)

	c.mu.Lock()
	c.report = rep
	c.state = StateCompleted
	c.completedAt = time.Now()
	c.mu.Unlock()
	close(c.completedCh)
	c.emit(Event{Type: "completed"})
}

func (c *Controller) persist(ctx context.Context, history []Turn, duration time.Duration, rep *Report, score *float64) {
	if c.store == nil {
		return
	}
	c.mu.Lock()
	degraded := c.degraded
	recordID := c.recordID
	c.mu.Unlock()

	transcript := TranscriptRecord{
		Turns:    history,
		Config:   c.opts.Config,
		Duration: duration.Seconds(),
		Degraded: degraded,
	}

	if recordID == "" {
		id, err := c.store.SaveConfiguration(ctx, InterviewRecord{
			Owner: c.opts.Owner,
			JobDetails: JobDetails{
				RawDescription: c.opts.RawDescription,
				Analysis:       c.opts.Analysis,
			},
		})
		if err != nil {
			log.Printf("session: persisting record failed: %v", err)
			c.mu.Lock()
			c.degraded = true
			c.mu.Unlock()
			return
		}
		recordID = id
		c.mu.Lock()
		c.recordID = id
		c.mu.Unlock()
	}

	if err := c.store.AttachReport(ctx, recordID, transcript, rep, score); err != nil {
		log.Printf("session: attaching report failed: %v", err)
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
	}
}

// appendInterviewerLocked appends an interviewer turn, refusing two in a
// row. Callers hold c.mu.
func (c *Controller) appendInterviewerLocked(t Turn) error {
	if n := len(c.turns); n > 0 && c.turns[n-1].Role == RoleInterviewer {
		return errConsecutiveInterviewer
	}
	c.turns = append(c.turns, t)
	return nil
}

// applyStageLocked advances the stage monotonically. A backward or unknown
// request from the engine is ignored rather than applied; the stage never
// moves backward for the lifetime of a session. Callers hold c.mu.
func (c *Controller) applyStageLocked(next Stage) {
	if next == "" {
		return
	}
	if !next.Valid() {
		log.Printf("session: ignoring unknown stage %q", next)
		return
	}
	if next.Before(c.stage) {
		log.Printf("session: ignoring backward stage transition %s -> %s", c.stage, next)
		return
	}
	c.stage = next
}

func (c *Controller) speak(text string) {
	c.speaker.Enqueue(text)
}

func (c *Controller) emit(ev Event) {
	if c.opts.OnEvent == nil {
		return
	}
	c.mu.Lock()
	ev.State = c.state
	ev.Stage = c.stage
	c.mu.Unlock()
	c.opts.OnEvent(ev)
}

func retained(err error) *LastError {
	return &LastError{
		Kind:      errs.KindOf(err),
		Message:   errs.UserMessage(err),
		Retryable: errs.Retryable(err),
	}
}

type nopSpeaker struct{}

func (nopSpeaker) Enqueue(string)   {}
func (nopSpeaker) IsSpeaking() bool { return false }
func (nopSpeaker) Interrupt()       {}
