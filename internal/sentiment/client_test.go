package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAnthropicClient_Classify(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("expected x-api-key=k, got %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("unexpected anthropic-version %q", r.Header.Get("anthropic-version"))
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"Revenue\":\"Positive\"}"}]}`))
	}))
	defer srv.Close()

	stats := NewLLMStats(time.Hour)
	c := NewAnthropicClient("k", "claude-test", 0)
	c.baseURL = srv.URL
	c.Stats = stats

	s, err := c.Classify(context.Background(), "Revenue was up.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Revenue != Positive {
		t.Errorf("expected Revenue=Positive, got %q", s.Revenue)
	}
	if gotReq.Model != "claude-test" {
		t.Errorf("expected model claude-test, got %q", gotReq.Model)
	}
	if gotReq.Temperature == nil || *gotReq.Temperature != 0 {
		t.Errorf("expected temperature 0 to be sent")
	}
	if stats.Snapshot().Calls != 1 {
		t.Errorf("expected one recorded call")
	}
}

func TestAnthropicClient_RetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", "m", 0)
	c.baseURL = srv.URL

	_, err := c.Classify(context.Background(), "x")
	var re *RetryableError
	if !errors.As(err, &re) {
		t.Fatalf("expected RetryableError, got %v", err)
	}
	if re.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", re.StatusCode)
	}
}

func TestAnthropicClient_ClientErrorNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", "m", 0)
	c.baseURL = srv.URL

	_, err := c.Classify(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	var re *RetryableError
	if errors.As(err, &re) {
		t.Errorf("expected 400 to be permanent, got %v", err)
	}
}

func TestOpenAIClient_Classify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk" {
			t.Errorf("unexpected Authorization %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"Expenses\":\"Negative\",\"Risks\":\"Positive\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk", "gpt-test", 0)
	c.baseURL = srv.URL

	s, err := c.Classify(context.Background(), "Costs rose.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Expenses != Negative || s.Uncertainty != Positive {
		t.Errorf("unexpected scores %+v", s)
	}
	if c.Model() != "gpt-test" {
		t.Errorf("expected model gpt-test, got %q", c.Model())
	}
}

func TestOpenAIClient_ParseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"no idea"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk", "m", 0)
	c.baseURL = srv.URL

	_, err := c.Classify(context.Background(), "x")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestNew(t *testing.T) {
	c, err := New("none", "", "", 0, nil)
	if err != nil || c != nil {
		t.Fatalf("expected nil classifier for none, got %v %v", c, err)
	}
	c, err = New("OpenAI", "k", "m", 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.(*OpenAIClient); !ok {
		t.Errorf("expected *OpenAIClient, got %T", c)
	}
	if _, err := New("bard", "k", "m", 0, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}
