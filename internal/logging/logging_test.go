package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anyon.log")
	logger, err := New(Config{Level: "info", Format: "json", OutputPath: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Debug("hidden")
	logger.Info("checkpoint created", Project("p1"), Session("s1"), Err(errors.New("boom")))
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{`"msg":"checkpoint created"`, `"project_id":"p1"`, `"session_id":"s1"`, `"error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug entry written at info level")
	}
}

func TestSetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anyon.log")
	if err := Init(Config{Level: "info", Format: "json", OutputPath: path}); err != nil {
		t.Fatal(err)
	}
	defer SetLevel("info")

	SetLevel("debug")
	L().Debug("visible")
	SetLevel("bogus") // ignored
	L().Debug("still visible")
	SetLevel("error")
	L().Warn("dropped")
	Sync()

	data, _ := os.ReadFile(path)
	out := string(data)
	if !strings.Contains(out, "visible") || !strings.Contains(out, "still visible") {
		t.Errorf("debug entries missing:\n%s", out)
	}
	if strings.Contains(out, "dropped") {
		t.Error("warn entry written at error level")
	}
}
