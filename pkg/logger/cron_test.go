package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestCronLoggerError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := CronLogger{Logger: zerolog.New(&buf)}
	l.Error(errors.New("boom"), "job panicked", "entry", 3, "dangling")

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if got["message"] != "job panicked" {
		t.Fatalf("message = %v, want job panicked", got["message"])
	}
	if got["error"] != "boom" {
		t.Fatalf("error = %v, want boom", got["error"])
	}
	if got["entry"] != float64(3) {
		t.Fatalf("entry = %v, want 3", got["entry"])
	}
	if _, ok := got["dangling"]; ok {
		t.Fatalf("odd trailing key should be ignored: %v", got)
	}
}

func TestCronLoggerInfoIsDebugLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := CronLogger{Logger: zerolog.New(&buf).Level(zerolog.InfoLevel)}
	l.Info("wake", "now", "x")

	if buf.Len() != 0 {
		t.Fatalf("info from cron should be debug level, got %q", buf.String())
	}
}
