package httptts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestSynthesize(t *testing.T) {
	t.Parallel()

	var gotReq synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/tts" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(synthesizeResponse{URL: "http://cdn.example/a1.mp3"})
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithVoice("xiaoyi"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	url, err := p.Synthesize(context.Background(), "今天天气晴朗")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if url != "http://cdn.example/a1.mp3" {
		t.Errorf("url = %q", url)
	}
	if gotReq.Text != "今天天气晴朗" || gotReq.Voice != "xiaoyi" {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestSynthesizeRetriesServerError(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(synthesizeResponse{URL: "http://cdn.example/a2.mp3"})
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	url, err := p.Synthesize(context.Background(), "你好")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if url != "http://cdn.example/a2.mp3" {
		t.Errorf("url = %q", url)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server calls = %d, want 2", got)
	}
}

func TestSynthesizeDoesNotRetryTooManyRequests(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.Synthesize(context.Background(), "你好"); err == nil {
		t.Fatal("expected error on HTTP 429")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1", got)
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	t.Parallel()
	p, _ := New("http://localhost:1")
	if _, err := p.Synthesize(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestSynthesizeMissingURL(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.Synthesize(context.Background(), "你好"); err == nil {
		t.Fatal("expected error when response lacks url")
	}
}
