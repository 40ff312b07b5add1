package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestComplete_NoKey(t *testing.T) {
	c := NewClient("", "model")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Complete(ctx, "", nil, "hi", Params{}); err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestComplete_HTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("not-json")) }},
		{"empty_choices", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := NewClient("key", "model")
			c.Endpoint = srv.URL
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if _, err := c.Complete(ctx, "sys", nil, "hi", Params{}); err == nil {
				t.Fatalf("expected error; got nil")
			}
		})
	}
}

func TestComplete_SendsHistoryAndReturnsReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Sure thing.  "}}]}`))
	}))
	defer srv.Close()
	c := NewClient("key", "model")
	c.Endpoint = srv.URL
	got, err := c.Complete(context.Background(), "sys", []Message{{Role: "user", Content: "hello"}}, "hi", Params{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "Sure thing." {
		t.Fatalf("expected trimmed reply, got %q", got)
	}
}

func TestClassify_YesNoAndFailure(t *testing.T) {
	answer := "Yes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` + answer + `"}}]}`))
	}))
	defer srv.Close()
	c := NewClient("key", "model")
	c.Endpoint = srv.URL

	if !c.Classify(context.Background(), "wants refund", "I want my money back") {
		t.Fatalf("expected yes classification")
	}
	answer = "No"
	if c.Classify(context.Background(), "wants refund", "what time is it") {
		t.Fatalf("expected no classification")
	}

	// provider failure degrades to false, never errors
	c.Endpoint = "http://127.0.0.1:1"
	if c.Classify(context.Background(), "anything", "anything") {
		t.Fatalf("expected false on provider failure")
	}
}
