package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func serveReadyz(t *testing.T, h *Handler) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	New(Ping("memory", func(context.Context) error { return errors.New("down") })).
		Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 regardless of checkers", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
	}{
		{"no checkers", nil, http.StatusOK, "ok"},
		{"all pass", []Checker{Ping("memory", ok), {Name: "stt_model", Check: ok, Optional: true}}, http.StatusOK, "ok"},
		{"optional fails", []Checker{Ping("memory", ok), {Name: "tts_voice", Check: down, Optional: true}}, http.StatusOK, "degraded"},
		{"required fails", []Checker{Ping("memory", down), {Name: "tts_voice", Check: ok, Optional: true}}, http.StatusServiceUnavailable, "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := serveReadyz(t, New(tt.checkers...))
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if len(body.Checks) != len(tt.checkers) {
				t.Errorf("checks = %v, want %d entries", body.Checks, len(tt.checkers))
			}
		})
	}
}

func TestReadyz_FailureMessage(t *testing.T) {
	_, body := serveReadyz(t, New(Ping("memory", func(context.Context) error {
		return errors.New("connection refused")
	})))
	if got := body.Checks["memory"]; got != "fail: connection refused" {
		t.Errorf("checks[memory] = %q", got)
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(100 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Ping("a", slow), Ping("b", slow), Ping("c", slow), Ping("d", slow))

	start := time.Now()
	code, _ := serveReadyz(t, h)
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if elapsed := time.Since(start); elapsed > 350*time.Millisecond {
		t.Errorf("readyz took %v, checks appear to run sequentially", elapsed)
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "ggml-base.en.bin")
	if err := os.WriteFile(model, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := FileExists("stt_model", model).Check(context.Background()); err != nil {
		t.Errorf("existing file: %v", err)
	}
	if err := FileExists("stt_model", filepath.Join(dir, "missing.bin")).Check(context.Background()); err == nil {
		t.Error("missing file passed")
	}
	if err := FileExists("stt_model", dir).Check(context.Background()); err == nil || !strings.Contains(err.Error(), "not a regular file") {
		t.Errorf("directory: err = %v", err)
	}
	if !FileExists("x", model).Optional {
		t.Error("FileExists checker should be optional")
	}
}

func TestExecutable(t *testing.T) {
	if err := Executable("shell", "sh").Check(context.Background()); err != nil {
		t.Errorf("sh not found: %v", err)
	}
	if err := Executable("piper", "definitely-not-a-binary-jessy").Check(context.Background()); err == nil {
		t.Error("missing binary passed")
	}
}

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()
	New().Register(mux)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}
}
