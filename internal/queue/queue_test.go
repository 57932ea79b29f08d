package queue

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNotice_RoundTrip(t *testing.T) {
	in := Notice{
		Host:      "web-1",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Notice
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Host != in.Host || !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestNotice_WireFieldNames(t *testing.T) {
	data, err := json.Marshal(Notice{Host: "web-1", Timestamp: time.Unix(0, 0).UTC()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"host", "timestamp"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("wire format missing %q field: %s", key, data)
		}
	}
}
