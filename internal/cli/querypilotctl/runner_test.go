package querypilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRunHealthCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || r.Method != http.MethodGet {
			t.Fatalf("%s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"health"}, Options{
		BaseURL: srv.URL,
		Stdout:  &stdout,
		Stderr:  io.Discard,
	})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), `"status": "ok"`) {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunGenerateSendsQuestionBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sql/generate" || r.Method != http.MethodPost {
			t.Fatalf("%s %s", r.Method, r.URL.Path)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if payload["question"] != "total sales by year" {
			t.Fatalf("question = %q", payload["question"])
		}
		_, _ = w.Write([]byte(`{"sql":"SELECT 1"}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{"generate", "total", "sales", "by", "year"}, Options{
		BaseURL: srv.URL,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
}

func TestRunSendsAPIKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-Key"); got != "k1" {
			t.Fatalf("X-API-Key = %q", got)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{"-api-key", "k1", "ready"}, Options{
		BaseURL: srv.URL,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
}

func TestRunReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error_code":"NOT_READY"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"ready"}, Options{
		BaseURL: srv.URL,
		Stdout:  io.Discard,
		Stderr:  &stderr,
	})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "503") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunRejectsUnknownCommandAndMissingArgs(t *testing.T) {
	if code := Run(context.Background(), []string{"bogus"}, Options{Stderr: io.Discard}); code != 2 {
		t.Fatalf("unknown command exit code = %d", code)
	}
	if code := Run(context.Background(), nil, Options{Stderr: io.Discard}); code != 2 {
		t.Fatalf("no command exit code = %d", code)
	}
	if code := Run(context.Background(), []string{"generate"}, Options{Stderr: io.Discard}); code != 2 {
		t.Fatalf("generate without question exit code = %d", code)
	}
	if code := Run(context.Background(), []string{"validate"}, Options{Stderr: io.Discard}); code != 2 {
		t.Fatalf("validate without sql exit code = %d", code)
	}
}
