package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"bogus":   InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Output: &buf})

	logger.Component("rpc").Debug("request", "method", "dlc_signCet")

	out := buf.String()
	if !strings.Contains(out, "rpc") || !strings.Contains(out, "dlc_signCet") {
		t.Errorf("component output missing prefix or fields: %q", out)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Output: &buf})
	logger.Info("hidden")
	logger.Component("ws").Info("also hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: "json", Output: &buf})
	logger.With("contract", "abc").Info("built")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if entry["contract"] != "abc" {
		t.Errorf("missing field in %v", entry)
	}
}

func TestContractLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: "json", Output: &buf})
	logger.Component("monitor").Contract(strings.Repeat("ab", 32)).Info("funded")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if entry["contract"] != strings.Repeat("ab", 8) {
		t.Errorf("contract field = %v, want 16 hex chars", entry["contract"])
	}
}
