package interview

import (
	"context"
	"time"
)

// Role of a transcript turn.
type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
)

// Turn is one exchange unit in the transcript. Turns are append-only and
// never mutated after creation.
type Turn struct {
	Role         Role      `json:"role"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
	QuestionType string    `json:"question_type,omitempty"`
}

// Stage is the current phase of the interview. Stages only ever move forward
// through this fixed ordering for the lifetime of a session.
type Stage string

const (
	StageStart       Stage = "start"
	StageTechnical   Stage = "technical"
	StageBehavioral  Stage = "behavioral"
	StageSituational Stage = "situational"
	StageClosing     Stage = "closing"
)

var stageOrder = map[Stage]int{
	StageStart:       0,
	StageTechnical:   1,
	StageBehavioral:  2,
	StageSituational: 3,
	StageClosing:     4,
}

// Valid reports whether s is one of the five known stages.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Before reports whether s precedes other in the fixed stage ordering.
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

// Recording is a captured, bounded audio clip pending transcription. It is
// exclusively owned by the transcription call and discarded afterwards,
// never persisted.
type Recording struct {
	Data       []byte
	MIMEType   string
	Duration   time.Duration
	CapturedAt time.Time
}

// JobAnalysis is the structured read of a pasted job description that the
// dialogue engine interviews against.
type JobAnalysis struct {
	JobTitle         string   `json:"jobTitle"`
	Seniority        string   `json:"seniority"`
	KeySkills        []string `json:"keySkills"`
	Responsibilities []string `json:"responsibilities,omitempty"`
	Difficulty       string   `json:"difficulty"`
	FocusAreas       []string `json:"focusAreas,omitempty"`
}

// Empty reports whether the analysis carries no usable signal. Calling the
// dialogue engine without an analysis is a client-side precondition
// violation.
func (a JobAnalysis) Empty() bool {
	return a.JobTitle == "" && len(a.KeySkills) == 0
}

// Question is the dialogue engine's reply for one interviewer turn.
type Question struct {
	Question             string   `json:"question"`
	QuestionType         string   `json:"questionType"`
	ExpectedAnswerPoints []string `json:"expectedAnswerPoints"`
	FollowUpQuestions    []string `json:"followUpQuestions,omitempty"`
	EvaluationCriteria   []string `json:"evaluationCriteria"`
	Difficulty           int      `json:"difficulty"`
	TimeAllocation       int      `json:"timeAllocation"`
	NextStage            Stage    `json:"nextStage,omitempty"`
	InterviewComplete    bool     `json:"interviewComplete,omitempty"`
}

// Recommendation is the report's hiring verdict.
type Recommendation string

const (
	StrongHire   Recommendation = "strong_hire"
	Hire         Recommendation = "hire"
	NoHire       Recommendation = "no_hire"
	StrongNoHire Recommendation = "strong_no_hire"
)

// Valid reports whether r is one of the four known verdicts.
func (r Recommendation) Valid() bool {
	switch r {
	case StrongHire, Hire, NoHire, StrongNoHire:
		return true
	}
	return false
}

// QuestionFeedback is the per-question entry of the report breakdown.
type QuestionFeedback struct {
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Report is the structured scored feedback document for one finished
// interview. OverallScore is 0-10 at one-decimal precision.
type Report struct {
	OverallScore     float64            `json:"overallScore"`
	DimensionScores  map[string]float64 `json:"dimensionScores"`
	Strengths        []string           `json:"strengths"`
	ImprovementAreas []string           `json:"improvementAreas"`
	Recommendation   Recommendation     `json:"recommendation"`
	Breakdown        []QuestionFeedback `json:"detailedBreakdown"`
}

// JobDetails is the persisted pairing of the raw pasted description with its
// analysis.
type JobDetails struct {
	RawDescription string      `json:"raw_description"`
	Analysis       JobAnalysis `json:"analysis"`
}

// SessionConfig is the per-session knobs stored alongside the transcript.
type SessionConfig struct {
	VoiceID      string `json:"voice_id,omitempty"`
	AudioEnabled bool   `json:"audio_enabled"`
}

// TranscriptRecord is the persisted transcript plus session configuration.
type TranscriptRecord struct {
	Turns    []Turn        `json:"turns"`
	Config   SessionConfig `json:"config"`
	Duration float64       `json:"duration_seconds,omitempty"`
	Degraded bool          `json:"degraded,omitempty"`
}

// InterviewRecord is the single persisted row shape. A nil ReportData marks
// a saved configuration awaiting an interview; non-nil marks a completed one.
type InterviewRecord struct {
	ID           string           `json:"id,omitempty"`
	Owner        string           `json:"owner,omitempty"`
	CreatedAt    time.Time        `json:"created_at,omitempty"`
	JobDetails   JobDetails       `json:"job_details"`
	Transcript   TranscriptRecord `json:"transcript"`
	ReportData   *Report          `json:"report_data"`
	OverallScore *float64         `json:"overall_score"`
}

// DialogueEngine produces the next interviewer question for the current
// transcript and stage. The transcript's last element is always the
// just-submitted candidate turn (or empty at initialization).
type DialogueEngine interface {
	NextQuestion(ctx context.Context, analysis JobAnalysis, history []Turn, stage Stage) (Question, error)
}

// ReportGenerator scores the finished transcript.
type ReportGenerator interface {
	Generate(ctx context.Context, analysis JobAnalysis, history []Turn, duration time.Duration) (Report, error)
}

// Transcriber converts a bounded recording into candidate text.
type Transcriber interface {
	Transcribe(ctx context.Context, rec Recording) (string, error)
}

// PersistenceGateway stores and retrieves interview records. Row isolation
// by owning identity is the gateway's concern.
type PersistenceGateway interface {
	SaveConfiguration(ctx context.Context, rec InterviewRecord) (string, error)
	AttachReport(ctx context.Context, id string, transcript TranscriptRecord, report *Report, score *float64) error
	Get(ctx context.Context, id string) (InterviewRecord, error)
	ListByOwner(ctx context.Context) ([]InterviewRecord, error)
}

// Speaker is the slice of the playback queue the controller needs: enqueue
// interviewer utterances and know whether one is mid-play.
type Speaker interface {
	Enqueue(text string)
	IsSpeaking() bool
	Interrupt()
}
