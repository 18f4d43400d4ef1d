package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevelFromString("INFO")

	SetLevelFromString("warn")
	Debug("debug %d", 1)
	Info("info %d", 2)
	Warn("warn %d", 3)
	Error("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("messages below WARN leaked: %q", out)
	}
	if !strings.Contains(out, "[WARN] warn 3") || !strings.Contains(out, "[ERROR] error 4") {
		t.Errorf("expected WARN and ERROR lines, got %q", out)
	}
}

func TestSetLevelFromStringDefaultsToInfo(t *testing.T) {
	defer SetLevelFromString("INFO")
	SetLevelFromString("DEBUG")
	if Level() != LogLevelDebug {
		t.Fatalf("Level() = %v, want debug", Level())
	}
	SetLevelFromString("verbose")
	if Level() != LogLevelInfo {
		t.Fatalf("Level() = %v, want info for unknown input", Level())
	}
}

func TestSetupRotatesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "panel.log")
	if err := os.WriteFile(path, []byte("previous session\n"), 0644); err != nil {
		t.Fatal(err)
	}
	var extra bytes.Buffer
	if err := Setup(path, &extra); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() {
		Close()
		SetOutput(os.Stderr)
	}()

	Info("hello %s", "file")
	Close()

	old, err := os.ReadFile(path + ".old")
	if err != nil {
		t.Fatalf("rotated file missing: %v", err)
	}
	if string(old) != "previous session\n" {
		t.Errorf("rotated content = %q", old)
	}
	cur, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(cur), "[INFO] hello file") {
		t.Errorf("log file missing message: %q", cur)
	}
	if !strings.Contains(extra.String(), "[INFO] hello file") {
		t.Errorf("extra writer missing message: %q", extra.String())
	}
}

func TestWriterForwardsAtLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	w := Writer(LogLevelInfo)
	w.Write([]byte("127.0.0.1 - - \"GET /health HTTP/1.1\" 200 2\n"))
	if !strings.Contains(buf.String(), "[INFO] 127.0.0.1") {
		t.Errorf("got %q", buf.String())
	}
	if strings.HasSuffix(buf.String(), "\n\n") {
		t.Errorf("trailing newline was not trimmed: %q", buf.String())
	}
}
