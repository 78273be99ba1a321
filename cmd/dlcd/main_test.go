package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckAnchorMath(t *testing.T) {
	for i := 0; i < 4; i++ {
		if err := checkAnchorMath(); err != nil {
			t.Fatalf("checkAnchorMath() error = %v", err)
		}
	}
}

func TestLogOutput(t *testing.T) {
	w, closeLog, err := logOutput("")
	if err != nil || w != os.Stderr {
		t.Fatalf("logOutput(\"\") = %v, %v; want stderr", w, err)
	}
	closeLog()

	path := filepath.Join(t.TempDir(), "dlcd.log")
	w, closeLog, err = logOutput(path)
	if err != nil {
		t.Fatalf("logOutput(%s) error = %v", path, err)
	}
	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello\n" {
		t.Errorf("log file = %q, %v", data, err)
	}
}
