package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func ollamaServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaGenerate(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["stream"] != false {
			t.Error("stream should be disabled")
		}
		if req["model"] != "llama3.1:8b" {
			t.Errorf("model = %v", req["model"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"response":          "4",
			"prompt_eval_count": 10,
			"eval_count":        3,
		})
	})

	o := NewOllama(srv.URL, "llama3.1:8b", time.Second)
	res, err := o.Generate(context.Background(), "What is 2+2?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "4" {
		t.Errorf("text = %q", res.Text)
	}
	if res.Tokens.Prompt != 10 || res.Tokens.Completion != 3 {
		t.Errorf("tokens = %+v", res.Tokens)
	}
	if res.Tokens.Estimated {
		t.Error("exact counts should not be flagged as estimated")
	}
}

func TestOllamaGeneratePostsToConfiguredPath(t *testing.T) {
	// The URL is used verbatim, so a server that only answers the generate
	// path must be reachable when the URL includes it.
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"response":          "4",
			"prompt_eval_count": 10,
			"eval_count":        3,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	o := NewOllama(srv.URL+"/api/generate", "llama3.1:8b", time.Second)
	res, err := o.Generate(context.Background(), "What is 2+2?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "4" {
		t.Errorf("text = %q", res.Text)
	}
}

func TestOllamaGenerateMissingCounts(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"response": "four is the answer"})
	})

	o := NewOllama(srv.URL, "llama3.1:8b", time.Second)
	res, err := o.Generate(context.Background(), "What is 2+2?")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Tokens.Estimated {
		t.Error("missing counts should be flagged as estimated")
	}
	// "What is 2+2?" is 3 words, "four is the answer" is 4.
	if got, want := res.Tokens.Prompt, 3*1.3; got != want {
		t.Errorf("prompt tokens = %v, want %v", got, want)
	}
	if got, want := res.Tokens.Completion, 4*1.3; got != want {
		t.Errorf("completion tokens = %v, want %v", got, want)
	}
}

func TestOllamaGenerateMissingResponseField(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"eval_count": 3})
	})

	o := NewOllama(srv.URL, "llama3.1:8b", time.Second)
	_, err := o.Generate(context.Background(), "hi")
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected ResponseError, got %v", err)
	}
}

func TestOllamaGenerateServerError(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	})

	o := NewOllama(srv.URL, "llama3.1:8b", time.Second)
	_, err := o.Generate(context.Background(), "hi")
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected ResponseError, got %v", err)
	}
	if respErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", respErr.StatusCode)
	}
}

func TestOllamaGenerateTimeout(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	o := NewOllama(srv.URL, "llama3.1:8b", 20*time.Millisecond)
	_, err := o.Generate(context.Background(), "hi")
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}

func TestOllamaGenerateUnreachable(t *testing.T) {
	o := NewOllama("http://127.0.0.1:1", "llama3.1:8b", 100*time.Millisecond)
	_, err := o.Generate(context.Background(), "hi")
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}
