package transcribe

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestTranscribe_UploadStartPoll(t *testing.T) {
	var polls atomic.Int64
	var mux *http.ServeMux
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-gladia-key"); got != "key-1" {
			t.Errorf("api key header: %q", got)
		}
		mux.ServeHTTP(w, r)
	}))
	defer ts.Close()

	mux = http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("upload not multipart: %v", err)
		}
		if _, _, err := r.FormFile("audio"); err != nil {
			t.Errorf("missing audio part: %v", err)
		}
		fmt.Fprintf(w, `{"audio_url": "%s/files/a1"}`, ts.URL)
	})
	mux.HandleFunc("/pre-recorded", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"result_url": "%s/result/j1"}`, ts.URL)
	})
	mux.HandleFunc("/result/j1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 2 {
			w.Write([]byte(`{"status": "processing"}`))
			return
		}
		w.Write([]byte(`{"status": "done", "result": {"transcription": {"full_transcript": "buy milk tomorrow"}}}`))
	})

	c := NewClient(ts.URL, "key-1", time.Millisecond, 5*time.Second)
	text, err := c.Transcribe([]byte("OGGDATA"))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "buy milk tomorrow" {
		t.Errorf("transcript: %q", text)
	}
	if polls.Load() < 2 {
		t.Errorf("expected at least 2 polls, got %d", polls.Load())
	}
}

func TestTranscribe_JobErrorSurfaces(t *testing.T) {
	var mux *http.ServeMux
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
	}))
	defer ts.Close()

	mux = http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"audio_url": "%s/files/a1"}`, ts.URL)
	})
	mux.HandleFunc("/pre-recorded", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"result_url": "%s/result/j1"}`, ts.URL)
	})
	mux.HandleFunc("/result/j1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "error", "error_message": "audio too short"}`))
	})

	c := NewClient(ts.URL, "key-1", time.Millisecond, 5*time.Second)
	_, err := c.Transcribe([]byte("x"))
	if err == nil || !strings.Contains(err.Error(), "audio too short") {
		t.Fatalf("expected job error, got %v", err)
	}
}

func TestTranscribe_StuckJobGivesUp(t *testing.T) {
	var mux *http.ServeMux
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
	}))
	defer ts.Close()

	mux = http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"audio_url": "%s/files/a1"}`, ts.URL)
	})
	mux.HandleFunc("/pre-recorded", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"result_url": "%s/result/j1"}`, ts.URL)
	})
	mux.HandleFunc("/result/j1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "queued"}`))
	})

	c := NewClient(ts.URL, "key-1", time.Microsecond, 5*time.Second)
	_, err := c.Transcribe([]byte("x"))
	if err == nil || !strings.Contains(err.Error(), "still pending") {
		t.Fatalf("expected poll bound to trip, got %v", err)
	}
}

func TestTranscribe_UploadRejectionSurfaces(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message": "bad key"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "wrong", time.Millisecond, 5*time.Second)
	if _, err := c.Transcribe([]byte("x")); err == nil {
		t.Fatal("expected upload error")
	}
}
