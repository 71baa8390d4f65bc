package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSyncRunSummaryRendersInline(t *testing.T) {
	run := SyncRun{
		ID:        "run-1",
		StartedAt: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		Status:    "SUCCESS",
		Summary:   json.RawMessage(`{"counts":{"synced":2}}`),
	}
	b, err := json.Marshal(run)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"summary":{"counts":{"synced":2}}`) {
		t.Fatalf("summary must render as a JSON object, got %s", b)
	}
}
