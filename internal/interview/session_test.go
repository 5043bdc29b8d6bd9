package interview

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcdl70/pitch-perfect/internal/errs"
)

type fakeEngine struct {
	mu      sync.Mutex
	replies []Question
	err     error
	calls   int32
}

func (f *fakeEngine) NextQuestion(ctx context.Context, analysis JobAnalysis, history []Turn, stage Stage) (Question, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return Question{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return Question{}, errors.New("fake engine exhausted")
	}
	q := f.replies[0]
	f.replies = f.replies[1:]
	return q, nil
}

func question(text string) Question {
	return Question{
		Question:           text,
		QuestionType:       "technical",
		EvaluationCriteria: []string{"depth"},
		Difficulty:         5,
		TimeAllocation:     3,
	}
}

type fakeReporter struct {
	err   error
	calls int32
}

func (f *fakeReporter) Generate(ctx context.Context, analysis JobAnalysis, history []Turn, duration time.Duration) (Report, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return Report{}, f.err
	}
	return Report{
		OverallScore:     7.5,
		Strengths:        []string{"clarity"},
		ImprovementAreas: []string{"depth"},
		Recommendation:   Hire,
		Breakdown:        []QuestionFeedback{{Question: "q", Answer: "a", Score: 7.5, Feedback: "fine"}},
	}, nil
}

type fakeStore struct {
	mu          sync.Mutex
	saveErr     error
	attachErr   error
	saved       []InterviewRecord
	attachedID  string
	attachedRep *Report
	attachedTx  TranscriptRecord
	attaches    int32
}

func (f *fakeStore) SaveConfiguration(ctx context.Context, rec InterviewRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, rec)
	return "record-1", nil
}

func (f *fakeStore) AttachReport(ctx context.Context, id string, tx TranscriptRecord, rep *Report, score *float64) error {
	atomic.AddInt32(&f.attaches, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attachedID = id
	f.attachedRep = rep
	f.attachedTx = tx
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (InterviewRecord, error) {
	return InterviewRecord{}, errors.New("not implemented")
}

func (f *fakeStore) ListByOwner(ctx context.Context) ([]InterviewRecord, error) { return nil, nil }

type fakeSpeaker struct {
	speaking   int32
	enqueued   []string
	interrupts int32
	mu         sync.Mutex
}

func (f *fakeSpeaker) Enqueue(text string) {
	f.mu.Lock()
	f.enqueued = append(f.enqueued, text)
	f.mu.Unlock()
}
func (f *fakeSpeaker) IsSpeaking() bool { return atomic.LoadInt32(&f.speaking) == 1 }
func (f *fakeSpeaker) Interrupt()       { atomic.AddInt32(&f.interrupts, 1) }

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, rec Recording) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

var testAnalysis = JobAnalysis{KeySkills: []string{"SQL"}, Difficulty: "mid", JobTitle: "Data Analyst"}

func newController(engine DialogueEngine, reporter ReportGenerator, store PersistenceGateway, tr Transcriber, sp Speaker) *Controller {
	return NewController(engine, reporter, store, tr, sp, Options{
		Analysis:     testAnalysis,
		ClosingDelay: -1,
	})
}

func TestBegin_ProducesExactlyOneInterviewerTurn(t *testing.T) {
	engine := &fakeEngine{replies: []Question{question("Tell me about your SQL background.")}}
	c := newController(engine, &fakeReporter{}, &fakeStore{}, nil, nil)

	turn, err := c.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if turn.Role != RoleInterviewer {
		t.Fatalf("role: got %s", turn.Role)
	}
	snap := c.Snapshot()
	if snap.State != StateAwaitingCandidate {
		t.Fatalf("state: got %s want awaiting_candidate", snap.State)
	}
	if len(snap.Turns) != 1 {
		t.Fatalf("transcript length after init: got %d want 1", len(snap.Turns))
	}
	if snap.Stage != StageStart {
		t.Fatalf("stage: got %s want start", snap.Stage)
	}
}

func TestBegin_FailureIsErroredAndRetryable(t *testing.T) {
	engine := &fakeEngine{err: errs.New(errs.ServiceUnavailable, "dialogue.next", "down")}
	c := newController(engine, &fakeReporter{}, &fakeStore{}, nil, nil)

	if _, err := c.Begin(context.Background()); err == nil {
		t.Fatalf("expected begin failure")
	}
	snap := c.Snapshot()
	if snap.State != StateErrored {
		t.Fatalf("state: got %s want errored", snap.State)
	}
	if snap.LastError == nil || !snap.LastError.Retryable {
		t.Fatalf("expected retained retryable error, got %+v", snap.LastError)
	}

	// Retry by re-invoking initialization.
	engine.err = nil
	engine.replies = []Question{question("Welcome back.")}
	if _, err := c.Begin(context.Background()); err != nil {
		t.Fatalf("retry begin: %v", err)
	}
	if got := c.Snapshot().State; got != StateAwaitingCandidate {
		t.Fatalf("state after retry: got %s", got)
	}
}

func TestSubmit_TranscriptGrowsByExactlyTwo(t *testing.T) {
	engine := &fakeEngine{replies: []Question{question("First?"), question("Second?")}}
	c := newController(engine, &fakeReporter{}, &fakeStore{}, nil, nil)
	if _, err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if _, err := c.Submit(context.Background(), "My answer."); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := c.Snapshot()
	if len(snap.Turns) != 3 {
		t.Fatalf("transcript length: got %d want 3", len(snap.Turns))
	}
	if snap.Turns[1].Role != RoleCandidate || snap.Turns[2].Role != RoleInterviewer {
		t.Fatalf("roles out of order: %s then %s", snap.Turns[1].Role, snap.Turns[2].Role)
	}
}

func TestSubmit_FailureAppendsNothingAndPreservesInput(t *testing.T) {
	engine := &fakeEngine{replies: []Question{question("First?")}}
	c := newController(engine, &fakeReporter{}, &fakeStore{}, nil, nil)
	if _, err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}

	engine.err = errs.New(errs.RateLimited, "dialogue.next", "429")
	callsBefore := atomic.LoadInt32(&engine.calls)
	_, err := c.Submit(context.Background(), "my careful answer")
	if !errors.Is(err, errs.RateLimited) {
		t.Fatalf("expected RateLimited, got %v", err)
	}
	if got := atomic.LoadInt32(&engine.calls) - callsBefore; got != 1 {
		t.Fatalf("dialogue must be called exactly once per submit, got %d", got)
	}

	snap := c.Snapshot()
	if len(snap.Turns) != 1 {
		t.Fatalf("failed round must not be appended, transcript length %d", len(snap.Turns))
	}
	if snap.State != StateAwaitingCandidate {
		t.Fatalf("state: got %s want awaiting_candidate", snap.State)
	}
	if snap.LastInput != "my careful answer" {
		t.Fatalf("last input not preserved: %q", snap.LastInput)
	}
	if snap.LastError == nil || !snap.LastError.Retryable {
		t.Fatalf("expected retryable retained error")
	}
}

func TestSubmit_BlankTextIsNoSpeech(t *testing.T) {
	engine := &fakeEngine{replies: []Question{question("First?")}}
	c := newController(engine, &fakeReporter{}, &fakeStore{}, nil, nil)
	if _, err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}

	callsBefore := atomic.LoadInt32(&engine.calls)
	_, err := c.Submit(context.Background(), "   ")
	if !errors.Is(err, errs.NoSpeechDetected) {
		t.Fatalf("expected NoSpeechDetected, got %v", err)
	}
	if atomic.LoadInt32(&engine.calls) != callsBefore {
		t.Fatalf("blank input must not reach the dialogue engine")
	}
	if got := len(c.Snapshot().Turns); got != 1 {
		t.Fatalf("blank input must not append a turn, transcript length %d", got)
	}
}

func TestSubmit_RejectedWhileInterviewerSpeaking(t *testing.T) {
	engine := &fakeEngine{replies: []Question{question("First?"), question("Second?")}}
	sp := &fakeSpeaker{}
	c := newController(engine, &fakeReporter{}, &fakeStore{}, nil, sp)
	if _, err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}

	atomic.StoreInt32(&sp.speaking, 1)
	before := len(c.Snapshot().Turns)
	_, err := c.Submit(context.Background(), "too early")
	if !errors.Is(err, ErrInterviewerSpeaking) {
		t.Fatalf("expected ErrInterviewerSpeaking, got %v", err)
	}
	if got := len(c.Snapshot().Turns); got != before {
		t.Fatalf("transcript changed on rejected submission: %d -> %d", before, got)
	}

	atomic.StoreInt32(&sp.speaking, 0)
	if _, err := c.Submit(context.Background(), "now"); err != nil {
		t.Fatalf("submit after speech ended: %v", err)
	}
}

func TestSubmit_StageAdvancesMonotonically(t *testing.T) {
	engine := &fakeEngine{replies: []Question{
		question("Open."),
		func() Question { q := question("Tech."); q.NextStage = StageTechnical; return q }(),
		func() Question { q := question("Back?"); q.NextStage = StageStart; return q }(),
		func() Question { q := question("Behave."); q.NextStage = StageBehavioral; return q }(),
	}}
	c := newController(engine, &fakeReporter{}, &fakeStore{}, nil, nil)
	if _, err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}

	var seen []Stage
	for _, answer := range []string{"a", "b", "c"} {
		if _, err := c.Submit(context.Background(), answer); err != nil {
			t.Fatalf("submit %q: %v", answer, err)
		}
		seen = append(seen, c.Snapshot().Stage)
	}
	if seen[0] != StageTechnical {
		t.Fatalf("stage after first transition: got %s", seen[0])
	}
	if seen[1] != StageTechnical {
		t.Fatalf("backward transition must be ignored, got %s", seen[1])
	}
	if seen[2] != StageBehavioral {
		t.Fatalf("stage after forward transition: got %s", seen[2])
	}
}

func waitCompleted(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Completed():
	case <-time.After(2 * time.Second):
		t.Fatalf("session never completed")
	}
}

func TestComplete_ReachesCompletedOnceWithReport(t *testing.T) {
	engine := &fakeEngine{replies: []Question{
		question("Open."),
		func() Question {
			q := question("Thanks, that is all.")
			q.NextStage = StageClosing
			q.InterviewComplete = true
			return q
		}(),
	}}
	store := &fakeStore{}
	c := newController(engine, &fakeReporter{}, store, nil, nil)
	if _, err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := c.Submit(context.Background(), "goodbye"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitCompleted(t, c)

	snap := c.Snapshot()
	if snap.State != StateCompleted {
		t.Fatalf("state: got %s", snap.State)
	}
	if snap.Degraded {
		t.Fatalf("unexpected degraded flag")
	}
	if snap.Report == nil || snap.Report.OverallScore != 7.5 {
		t.Fatalf("report not retained: %+v", snap.Report)
	}
	if atomic.LoadInt32(&store.attaches) != 1 {
		t.Fatalf("persistence must be called exactly once, got %d", store.attaches)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.attachedRep == nil {
		t.Fatalf("persisted report must be non-null on the happy path")
	}
	if len(store.attachedTx.Turns) != 3 {
		t.Fatalf("persisted transcript length: got %d want 3", len(store.attachedTx.Turns))
	}
}

func TestComplete_ReportFailureStillCompletesDegraded(t *testing.T) {
	engine := &fakeEngine{replies: []Question{
		question("Open."),
		func() Question { q := question("Done."); q.InterviewComplete = true; return q }(),
	}}
	store := &fakeStore{}
	reporter := &fakeReporter{err: errs.New(errs.ServiceUnavailable, "report.generate", "down")}
	c := newController(engine, reporter, store, nil, nil)
	if _, err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := c.Submit(context.Background(), "bye"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitCompleted(t, c)

	snap := c.Snapshot()
	if snap.State != StateCompleted {
		t.Fatalf("must reach completed even when report fails, got %s", snap.State)
	}
	if !snap.Degraded {
		t.Fatalf("expected degraded flag")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.attachedRep != nil {
		t.Fatalf("degraded path must persist a null report")
	}
	if !store.attachedTx.Degraded {
		t.Fatalf("persisted transcript must carry the degraded flag")
	}
}

func TestSubmitRecording_NoSpeechAppendsNothing(t *testing.T) {
	engine := &fakeEngine{replies: []Question{question("Open.")}}
	tr := &fakeTranscriber{err: errs.New(errs.NoSpeechDetected, "stt.transcribe", "blank")}
	c := newController(engine, &fakeReporter{}, &fakeStore{}, tr, nil)
	if _, err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}

	_, err := c.SubmitRecording(context.Background(), Recording{Data: []byte("x"), MIMEType: "audio/webm"})
	if !errors.Is(err, errs.NoSpeechDetected) {
		t.Fatalf("expected NoSpeechDetected, got %v", err)
	}
	if got := len(c.Snapshot().Turns); got != 1 {
		t.Fatalf("no speech must not append a turn, transcript length %d", got)
	}
}

func TestSubmitRecording_TranscribedTextBecomesCandidateTurn(t *testing.T) {
	engine := &fakeEngine{replies: []Question{question("Open."), question("Next?")}}
	tr := &fakeTranscriber{text: "I have five years of SQL."}
	c := newController(engine, &fakeReporter{}, &fakeStore{}, tr, nil)
	if _, err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if _, err := c.SubmitRecording(context.Background(), Recording{Data: []byte("x"), MIMEType: "audio/webm"}); err != nil {
		t.Fatalf("submit recording: %v", err)
	}
	snap := c.Snapshot()
	if snap.Turns[1].Text != "I have five years of SQL." {
		t.Fatalf("candidate turn text: got %q", snap.Turns[1].Text)
	}
}

func TestSpeaker_ReceivesEveryInterviewerTurn(t *testing.T) {
	engine := &fakeEngine{replies: []Question{question("Open."), question("Next?")}}
	sp := &fakeSpeaker{}
	c := newController(engine, &fakeReporter{}, &fakeStore{}, nil, sp)
	if _, err := c.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := c.Submit(context.Background(), "answer"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if len(sp.enqueued) != 2 {
		t.Fatalf("expected 2 enqueued utterances, got %d", len(sp.enqueued))
	}
}
