package report

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mcdl70/pitch-perfect/internal/errs"
	"github.com/mcdl70/pitch-perfect/internal/interview"
	"github.com/mcdl70/pitch-perfect/internal/llm"
)

const systemPrompt = `You are a hiring panel assistant scoring a finished mock interview.
You are given the job analysis, the full interview transcript, and the
interview duration in minutes. Respond with a JSON object with these fields:
overallScore (number 0-10, one decimal), dimensionScores (object mapping
dimension name to number 0-10), strengths (string array),
improvementAreas (string array), recommendation (one of: strong_hire, hire,
no_hire, strong_no_hire), detailedBreakdown (array of objects with question,
answer, score, feedback - one entry per interviewer question answered).
Score strictly against the evaluation criteria implied by the job analysis.`

// Generator scores a finished transcript into a structured report.
type Generator struct {
	chat *llm.Client
}

// New builds a report generator over the shared chat transport.
func New(chat *llm.Client) *Generator {
	return &Generator{chat: chat}
}

// Generate produces the scored feedback document for a completed interview.
func (g *Generator) Generate(ctx context.Context, analysis interview.JobAnalysis, history []interview.Turn, duration time.Duration) (interview.Report, error) {
	const op = "report.generate"
	if len(history) == 0 {
		return interview.Report{}, errs.New(errs.BadInput, op, "empty transcript")
	}

	var r interview.Report
	if err := g.chat.CompleteJSON(ctx, op, systemPrompt, buildUserPrompt(analysis, history, duration), &r); err != nil {
		return interview.Report{}, err
	}
	if err := validate(op, r); err != nil {
		return interview.Report{}, err
	}
	r.OverallScore = roundScore(r.OverallScore)
	for k, v := range r.DimensionScores {
		r.DimensionScores[k] = roundScore(v)
	}
	return r, nil
}

func buildUserPrompt(analysis interview.JobAnalysis, history []interview.Turn, duration time.Duration) string {
	var b strings.Builder
	analysisJSON, _ := json.Marshal(analysis)
	b.WriteString("Job analysis:\n")
	b.Write(analysisJSON)
	b.WriteString("\n\nInterview duration minutes: ")
	b.WriteString(strconv.Itoa(minutes(duration)))
	b.WriteString("\n\nTranscript:\n")
	for _, t := range history {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(string(t.Role)))
		b.WriteString("] ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func minutes(d time.Duration) int {
	m := int(math.Round(d.Minutes()))
	if m < 1 {
		m = 1
	}
	return m
}

// roundScore clamps to 0..10 and rounds to one decimal place.
func roundScore(s float64) float64 {
	if s < 0 {
		s = 0
	}
	if s > 10 {
		s = 10
	}
	return math.Round(s*10) / 10
}

func validate(op string, r interview.Report) error {
	switch {
	case r.OverallScore < 0 || r.OverallScore > 10:
		return errs.New(errs.IncompleteResult, op, "overallScore out of range")
	case !r.Recommendation.Valid():
		return errs.New(errs.IncompleteResult, op, "unknown recommendation "+string(r.Recommendation))
	case len(r.Strengths) == 0 && len(r.ImprovementAreas) == 0:
		return errs.New(errs.IncompleteResult, op, "report carries no feedback lists")
	case len(r.Breakdown) == 0:
		return errs.New(errs.IncompleteResult, op, "report missing per-question breakdown")
	}
	return nil
}
