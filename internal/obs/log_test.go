package obs

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogrWritesThroughSharedLogger(t *testing.T) {
	l := Logger()
	orig := l.Writer()
	var buf bytes.Buffer
	l.SetOutput(&buf)
	defer l.SetOutput(orig)

	Logr("session").Info("state changed", "authenticated", true)

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v (%q)", err, line)
	}
	if entry["msg"] != "state changed" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["logger"] != "session" {
		t.Fatalf("unexpected logger name: %v", entry["logger"])
	}
	if entry["authenticated"] != true {
		t.Fatalf("missing key/value pair: %v", entry)
	}
}
