package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mcdl70/pitch-perfect/internal/errs"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return New(openai.NewClientWithConfig(cfg), "gpt-4o-mini")
}

func chatBody(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	return b
}

func TestCompleteJSON_DecodesReply(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(chatBody(`{"name":"go","count":3}`))
	})

	var out struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := c.CompleteJSON(context.Background(), "test.op", "system", "user", &out); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Name != "go" || out.Count != 3 {
		t.Fatalf("decoded: %+v", out)
	}
}

func TestCompleteJSON_FencedReplyStillDecodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(chatBody("```json\n{\"name\":\"go\"}\n```"))
	})

	var out struct {
		Name string `json:"name"`
	}
	if err := c.CompleteJSON(context.Background(), "test.op", "s", "u", &out); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Name != "go" {
		t.Fatalf("decoded: %+v", out)
	}
}

func TestCompleteJSON_MalformedReplyIsIncomplete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(chatBody("sorry, I cannot answer in JSON"))
	})

	var out map[string]any
	err := c.CompleteJSON(context.Background(), "test.op", "s", "u", &out)
	if !errors.Is(err, errs.IncompleteResult) {
		t.Fatalf("expected incomplete result, got %v", err)
	}
}

func TestCompleteJSON_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   errs.Kind
	}{
		{http.StatusTooManyRequests, errs.RateLimited},
		{http.StatusUnauthorized, errs.Unauthorized},
		{http.StatusInternalServerError, errs.ServiceUnavailable},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"error":{"message":"boom"}}`))
		})
		var out map[string]any
		err := c.CompleteJSON(context.Background(), "test.op", "s", "u", &out)
		if !errors.Is(err, tc.kind) {
			t.Fatalf("status %d: expected kind %s, got %v", tc.status, tc.kind, err)
		}
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct{ in, want string }{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  \n{\"a\":1}\n  ", `{"a":1}`},
	}
	for _, tc := range cases {
		if got := extractJSON(tc.in); got != tc.want {
			t.Fatalf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
