package dialogue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcdl70/pitch-perfect/internal/errs"
	"github.com/mcdl70/pitch-perfect/internal/interview"
	"github.com/mcdl70/pitch-perfect/internal/llm"
)

const systemPrompt = `You are an experienced interviewer conducting a structured job interview.
You are given the job analysis, the conversation so far, and the current
interview stage (one of: start, technical, behavioral, situational, closing).
Ask exactly one question per reply, grounded in the job's key skills.
Respond with a JSON object with these fields:
question (string), questionType (string), expectedAnswerPoints (string array),
followUpQuestions (string array, optional), evaluationCriteria (string array),
difficulty (integer 1-10), timeAllocation (integer minutes),
nextStage (string, only when the interview should move to the next stage),
interviewComplete (boolean, true only when the closing stage is finished).
Never move to an earlier stage. Keep the question conversational and concise.`

// Engine asks the chat model for the next interviewer question.
type Engine struct {
	chat *llm.Client
}

// New builds a dialogue engine over the shared chat transport.
func New(chat *llm.Client) *Engine {
	return &Engine{chat: chat}
}

// NextQuestion returns the next interviewer turn for the given transcript
// and stage. The transcript's last element is the just-submitted candidate
// turn, or the transcript is empty at initialization. A missing job
// analysis is rejected before any network call.
func (e *Engine) NextQuestion(ctx context.Context, analysis interview.JobAnalysis, history []interview.Turn, stage interview.Stage) (interview.Question, error) {
	const op = "dialogue.next"
	if analysis.Empty() {
		return interview.Question{}, errs.New(errs.BadInput, op, "job analysis missing")
	}
	if !stage.Valid() {
		return interview.Question{}, errs.New(errs.BadInput, op, "unknown stage "+string(stage))
	}

	var q interview.Question
	if err := e.chat.CompleteJSON(ctx, op, systemPrompt, buildUserPrompt(analysis, history, stage), &q); err != nil {
		return interview.Question{}, err
	}
	if err := validate(op, q); err != nil {
		return interview.Question{}, err
	}
	return q, nil
}

// buildUserPrompt serializes the analysis, history and stage for the model.
// History is rendered with role labels so the model sees strict alternation.
func buildUserPrompt(analysis interview.JobAnalysis, history []interview.Turn, stage interview.Stage) string {
	var b strings.Builder
	analysisJSON, _ := json.Marshal(analysis)
	b.WriteString("Job analysis:\n")
	b.Write(analysisJSON)
	b.WriteString("\n\nCurrent stage: ")
	b.WriteString(string(stage))
	b.WriteString("\n\nConversation so far:\n")
	if len(history) == 0 {
		b.WriteString("(none - open the interview with a short greeting and a first question)\n")
	}
	for _, t := range history {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(string(t.Role)))
		b.WriteString("] ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// validate enforces the required response fields. An answer that parses but
// misses them is incomplete data, not something to patch with defaults.
func validate(op string, q interview.Question) error {
	switch {
	case strings.TrimSpace(q.Question) == "":
		return errs.New(errs.IncompleteResult, op, "response missing question")
	case strings.TrimSpace(q.QuestionType) == "":
		return errs.New(errs.IncompleteResult, op, "response missing questionType")
	case len(q.EvaluationCriteria) == 0:
		return errs.New(errs.IncompleteResult, op, "response missing evaluationCriteria")
	case q.Difficulty < 1 || q.Difficulty > 10:
		return errs.New(errs.IncompleteResult, op, fmt.Sprintf("difficulty %d out of range", q.Difficulty))
	case q.TimeAllocation <= 0:
		return errs.New(errs.IncompleteResult, op, "timeAllocation must be positive")
	case q.NextStage != "" && !q.NextStage.Valid():
		return errs.New(errs.IncompleteResult, op, "unknown nextStage "+string(q.NextStage))
	}
	return nil
}
