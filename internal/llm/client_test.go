package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func TestComplete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", r.Header.Get("Authorization"))
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model test-model, got %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[1].Content != "hello" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_schema" {
			t.Errorf("expected json_schema response format, got %+v", req.ResponseFormat)
		}
		if req.ResponseFormat.JSONSchema.Name != "test_shape" {
			t.Errorf("expected schema name test_shape, got %q", req.ResponseFormat.JSONSchema.Name)
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"world"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, "test-key", nil, testLogger())

	result, err := c.Complete(context.Background(), Request{
		Model: "test-model",
		Messages: []Message{
			{Role: RoleSystem, Content: "you are a test"},
			{Role: RoleUser, Content: "hello"},
		},
		Schema: &Schema{Name: "test_shape", Def: json.RawMessage(`{"type":"object"}`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "world" {
		t.Errorf("expected 'world', got %q", result)
	}
}

func TestComplete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, "test-key", nil, testLogger())

	_, err := c.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err == nil {
		t.Fatal("expected error for API error response")
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, "test-key", nil, testLogger())

	_, err := c.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestComplete_WritesAudit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"answer"}}]}`)
	}))
	defer server.Close()

	dir := t.TempDir()
	c := NewClient(server.URL, "", NewAuditLog(dir), testLogger())

	if _, err := c.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "hi"}}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read audit dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit file, got %d", len(entries))
	}

	data, err := os.ReadFile(dir + "/" + entries[0].Name())
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	var entry auditEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("parse audit file: %v", err)
	}
	if entry.Response != "answer" || entry.Model != "m" {
		t.Errorf("unexpected audit entry: %+v", entry)
	}
}

// stubBackend returns canned (response, error) pairs in order, repeating the
// last pair once exhausted.
type stubBackend struct {
	responses []string
	errs      []error
	calls     int
}

func (s *stubBackend) Complete(ctx context.Context, req Request) (string, error) {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	return s.responses[i], s.errs[i]
}

type testShape struct {
	Answer string `json:"answer"`
}

func (t *testShape) Validate() error {
	if t.Answer == "" {
		return errors.New("missing answer")
	}
	return nil
}

func TestCompleteStructured_Success(t *testing.T) {
	b := &stubBackend{responses: []string{`{"answer":"42"}`}, errs: []error{nil}}

	out, err := CompleteStructured[testShape](context.Background(), b, Request{MaxRetries: 3, Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Answer != "42" {
		t.Errorf("expected answer 42, got %q", out.Answer)
	}
	if b.calls != 1 {
		t.Errorf("expected 1 call, got %d", b.calls)
	}
}

func TestCompleteStructured_RetryExhaustion(t *testing.T) {
	b := &stubBackend{responses: []string{""}, errs: []error{errors.New("boom")}}

	start := time.Now()
	backoff := 20 * time.Millisecond
	_, err := CompleteStructured[testShape](context.Background(), b, Request{MaxRetries: 3, Backoff: backoff})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if b.calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", b.calls)
	}
	// Two backoff waits between three attempts, none after the last.
	if elapsed := time.Since(start); elapsed < 2*backoff {
		t.Errorf("expected at least %s of backoff, elapsed %s", 2*backoff, elapsed)
	}
}

func TestCompleteStructured_ParseFailureIsRetryable(t *testing.T) {
	b := &stubBackend{
		responses: []string{"not json at all", `{"answer":"ok"}`},
		errs:      []error{nil, nil},
	}

	out, err := CompleteStructured[testShape](context.Background(), b, Request{MaxRetries: 2, Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Answer != "ok" {
		t.Errorf("expected answer ok, got %q", out.Answer)
	}
	if b.calls != 2 {
		t.Errorf("expected 2 calls, got %d", b.calls)
	}
}

func TestCompleteStructured_ValidationFailureIsRetryable(t *testing.T) {
	b := &stubBackend{
		responses: []string{`{}`, `{"answer":"ok"}`},
		errs:      []error{nil, nil},
	}

	out, err := CompleteStructured[testShape](context.Background(), b, Request{MaxRetries: 2, Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Answer != "ok" {
		t.Errorf("expected answer ok, got %q", out.Answer)
	}
}
