package sysstatus

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMonitorCollectsOnStart(t *testing.T) {
	m := NewMonitor(testLogger())
	m.Start(20 * time.Millisecond)
	defer m.Stop()

	time.Sleep(10 * time.Millisecond)

	snap := m.Latest()
	if snap.CollectedAt.IsZero() {
		t.Fatal("expected a snapshot to be collected on start")
	}
}

func TestMonitorCollectsPeriodically(t *testing.T) {
	m := NewMonitor(testLogger())
	m.Start(15 * time.Millisecond)
	defer m.Stop()

	first := m.Latest()
	time.Sleep(60 * time.Millisecond)
	second := m.Latest()

	if !second.CollectedAt.After(first.CollectedAt) {
		t.Fatal("expected a later snapshot after waiting past the tick interval")
	}
}

func TestMonitorJSON(t *testing.T) {
	m := NewMonitor(testLogger())
	m.Start(20 * time.Millisecond)
	defer m.Stop()

	time.Sleep(10 * time.Millisecond)

	body, err := m.JSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("failed to unmarshal JSON body: %v", err)
	}
	if snap.CollectedAt.IsZero() {
		t.Fatal("expected non-zero collected_at in JSON body")
	}
}

func TestMonitorStopStopsCollection(t *testing.T) {
	m := NewMonitor(testLogger())
	m.Start(10 * time.Millisecond)
	time.Sleep(15 * time.Millisecond)
	m.Stop()

	after := m.Latest()
	time.Sleep(40 * time.Millisecond)
	stillAfter := m.Latest()

	if !after.CollectedAt.Equal(stillAfter.CollectedAt) {
		t.Fatal("expected no further collection after Stop")
	}
}
