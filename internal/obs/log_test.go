package obs

import (
	"encoding/json"
	"testing"
)

func TestEncodeEntryStampsServiceAndTimestamp(t *testing.T) {
	data, err := encodeEntry(map[string]any{"method": "GET", "status": 200})
	if err != nil {
		t.Fatalf("encodeEntry: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["service"] != serviceName {
		t.Fatalf("service = %v, want %q", out["service"], serviceName)
	}
	if ts, ok := out["ts"].(string); !ok || ts == "" {
		t.Fatalf("ts = %v, want a timestamp", out["ts"])
	}
	if out["method"] != "GET" {
		t.Fatalf("method = %v", out["method"])
	}
}

func TestEncodeEntryKeepsCallerTimestamp(t *testing.T) {
	data, err := encodeEntry(map[string]any{"ts": "2026-01-02T03:04:05Z"})
	if err != nil {
		t.Fatalf("encodeEntry: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["ts"] != "2026-01-02T03:04:05Z" {
		t.Fatalf("ts = %q", out["ts"])
	}
}
