package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mcdl70/pitch-perfect/internal/errs"
	"github.com/mcdl70/pitch-perfect/internal/interview"
	"github.com/mcdl70/pitch-perfect/internal/llm"
)

func chatReply(content string) string {
	resp := map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"choices": []map[string]any{{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": content}}},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func newGenerator(t *testing.T, handler http.HandlerFunc) (*Generator, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return New(llm.New(openai.NewClientWithConfig(cfg), "")), srv
}

var history = []interview.Turn{
	{Role: interview.RoleInterviewer, Text: "Tell me about indexing."},
	{Role: interview.RoleCandidate, Text: "B-trees, mostly."},
}

const completeReport = `{
	"overallScore": 7.8342,
	"dimensionScores": {"technical": 8.11, "communication": 7.0},
	"strengths": ["clear explanations"],
	"improvementAreas": ["go deeper on trade-offs"],
	"recommendation": "hire",
	"detailedBreakdown": [
		{"question": "Tell me about indexing.", "answer": "B-trees, mostly.", "score": 7.5, "feedback": "correct but thin"}
	]
}`

func TestGenerate_RoundsScoresToOneDecimal(t *testing.T) {
	g, srv := newGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatReply(completeReport)))
	})
	defer srv.Close()

	rep, err := g.Generate(context.Background(), interview.JobAnalysis{JobTitle: "DBA", KeySkills: []string{"SQL"}}, history, 12*time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if rep.OverallScore != 7.8 {
		t.Fatalf("overall score: got %v want 7.8", rep.OverallScore)
	}
	if rep.DimensionScores["technical"] != 8.1 {
		t.Fatalf("dimension score: got %v want 8.1", rep.DimensionScores["technical"])
	}
	if rep.Recommendation != interview.Hire {
		t.Fatalf("recommendation: got %s", rep.Recommendation)
	}
}

func TestGenerate_IncompleteReportFailsHard(t *testing.T) {
	cases := []string{
		`{"overallScore": 7.0, "strengths": ["x"], "detailedBreakdown": [{"question":"q","answer":"a","score":7,"feedback":"f"}]}`,
		`{"overallScore": 7.0, "recommendation": "maybe", "strengths": ["x"], "detailedBreakdown": [{"question":"q","answer":"a","score":7,"feedback":"f"}]}`,
		`{"overallScore": 7.0, "recommendation": "hire", "strengths": ["x"]}`,
		`{"overallScore": 42, "recommendation": "hire", "strengths": ["x"], "detailedBreakdown": [{"question":"q","answer":"a","score":7,"feedback":"f"}]}`,
	}
	for _, body := range cases {
		reply := body
		g, srv := newGenerator(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(chatReply(reply)))
		})
		_, err := g.Generate(context.Background(), interview.JobAnalysis{JobTitle: "DBA", KeySkills: []string{"SQL"}}, history, time.Minute)
		srv.Close()
		if !errors.Is(err, errs.IncompleteResult) {
			t.Fatalf("body %s: expected IncompleteResult, got %v", body, err)
		}
	}
}

func TestGenerate_EmptyTranscriptRejected(t *testing.T) {
	g, srv := newGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("empty transcript must not reach the network")
	})
	defer srv.Close()

	_, err := g.Generate(context.Background(), interview.JobAnalysis{JobTitle: "DBA"}, nil, time.Minute)
	if !errors.Is(err, errs.BadInput) {
		t.Fatalf("expected BadInput, got %v", err)
	}
}
