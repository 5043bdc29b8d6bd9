package analysis

import (
	"context"
	"strings"

	"github.com/mcdl70/pitch-perfect/internal/errs"
	"github.com/mcdl70/pitch-perfect/internal/interview"
	"github.com/mcdl70/pitch-perfect/internal/llm"
)

const systemPrompt = `You analyze pasted job descriptions for interview preparation.
Respond with a JSON object with these fields:
jobTitle (string), seniority (string: junior, mid or senior),
keySkills (string array, most important first), responsibilities (string array),
difficulty (string: junior, mid or senior), focusAreas (string array of
interview focus areas derived from the role).
Extract only what the description supports; do not invent skills.`

// MaxDescriptionLength bounds the pasted job description.
const MaxDescriptionLength = 20000

// Analyzer turns a raw job description into the structured analysis the
// dialogue engine interviews against.
type Analyzer struct {
	chat *llm.Client
}

// New builds an analyzer over the shared chat transport.
func New(chat *llm.Client) *Analyzer {
	return &Analyzer{chat: chat}
}

// Analyze extracts the job analysis from a pasted description.
func (a *Analyzer) Analyze(ctx context.Context, jobDescription string) (interview.JobAnalysis, error) {
	const op = "analysis.analyze"
	desc := strings.TrimSpace(jobDescription)
	if desc == "" {
		return interview.JobAnalysis{}, errs.New(errs.BadInput, op, "empty job description")
	}
	if len(desc) > MaxDescriptionLength {
		return interview.JobAnalysis{}, errs.New(errs.BadInput, op, "job description too long")
	}

	var out interview.JobAnalysis
	if err := a.chat.CompleteJSON(ctx, op, systemPrompt, "Job description:\n"+desc, &out); err != nil {
		return interview.JobAnalysis{}, err
	}
	if out.Empty() {
		return interview.JobAnalysis{}, errs.New(errs.IncompleteResult, op, "analysis missing title and skills")
	}
	if out.Difficulty == "" {
		out.Difficulty = "mid"
	}
	return out, nil
}
