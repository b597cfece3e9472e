package logwriter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"robomon/internal/match"
	"robomon/internal/telemetry"

	logx "robomon/pkg/logx"
)

func testFrame(robotID string, n uint64) *telemetry.Frame {
	return &telemetry.Frame{
		RobotID: robotID,
		System: telemetry.SystemStatus{
			TimestampMS: int64(1756500000000 + n),
			FrameNumber: n,
		},
		Decision: telemetry.DecisionStatus{
			GameState: telemetry.GameStatePlaying,
			Role:      "striker",
		},
	}
}

func startWriter(t *testing.T, cfg Config) (*Writer, func()) {
	t.Helper()
	w := New(cfg, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	return w, func() {
		if err := w.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Run: %v", err)
		}
	}
}

func TestAppendAndTail(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, stop := startWriter(t, Config{Dir: dir, FlushInterval: 10 * time.Millisecond})

	recv := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := uint64(1); i <= 5; i++ {
		w.Append("20260830_120000", testFrame("r1", i), recv)
	}

	var got []json.RawMessage
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		got, err = w.TailRecords("20260830_120000", "r1", 3)
		if err == nil && len(got) == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(got) != 3 {
		t.Fatalf("tail = %d records, want 3", len(got))
	}
	var rec struct {
		LogTimestamp time.Time `json:"log_timestamp"`
		RobotID      string    `json:"robot_id"`
		System       struct {
			FrameNumber uint64 `json:"frame_number"`
		} `json:"system"`
	}
	if err := json.Unmarshal(got[2], &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// Oldest first; last of the tail is the newest record.
	if rec.System.FrameNumber != 5 || rec.RobotID != "r1" || !rec.LogTimestamp.Equal(recv) {
		t.Fatalf("record = %+v", rec)
	}
	stop()
}

func TestEndMatchWritesMetadata(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, stop := startWriter(t, Config{Dir: dir, FlushInterval: 10 * time.Millisecond})

	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := uint64(1); i <= 3; i++ {
		w.Append("20260830_120000", testFrame("r1", i), start.Add(time.Duration(i)*time.Second))
	}
	w.Append("20260830_120000", testFrame("r2", 1), start.Add(time.Second))
	w.EndMatch(match.Summary{
		MatchID:   "20260830_120000",
		StartTime: start,
		EndTime:   start.Add(time.Minute),
		Robots:    []string{"r1", "r2"},
	})

	mdPath := filepath.Join(dir, "match_20260830_120000", "match_metadata.json")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(mdPath); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	b, err := os.ReadFile(mdPath)
	if err != nil {
		t.Fatalf("metadata not written: %v", err)
	}
	var md struct {
		MatchID         string            `json:"match_id"`
		DurationSeconds float64           `json:"duration_seconds"`
		Robots          []string          `json:"robots"`
		RecordCounts    map[string]uint64 `json:"record_counts"`
	}
	if err := json.Unmarshal(b, &md); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if md.MatchID != "20260830_120000" || md.DurationSeconds != 60 {
		t.Fatalf("metadata = %+v", md)
	}
	if md.RecordCounts["r1"] != 3 || md.RecordCounts["r2"] != 1 {
		t.Fatalf("record counts = %v", md.RecordCounts)
	}

	robots, err := w.ListRobots("20260830_120000")
	if err != nil {
		t.Fatalf("ListRobots: %v", err)
	}
	if len(robots) != 2 || robots[0] != "r1" || robots[1] != "r2" {
		t.Fatalf("robots = %v", robots)
	}
	stop()
}

func TestCloseFinalizesPendingEnds(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := New(Config{Dir: dir, FlushInterval: 10 * time.Millisecond}, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	w.Append("m1", testFrame("r1", 1), start)
	// Register the end directly without letting the marker drain first.
	w.mu.Lock()
	w.pendingEnds["m1"] = match.Summary{
		MatchID: "m1", StartTime: start, EndTime: start.Add(time.Second), Robots: []string{"r1"},
	}
	w.mu.Unlock()

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "match_m1", "match_metadata.json")); err != nil {
		t.Fatalf("metadata missing after Close: %v", err)
	}
}

func TestDropOldestUnderOverflow(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Tiny queue with no consumer running yet: pushes must not block.
	w := New(Config{Dir: dir, QueueSize: 4}, nil, logx.Nop())
	for i := uint64(1); i <= 10; i++ {
		w.Append("m1", testFrame("r1", i), time.Now())
	}
	if got := w.Stats(); got.Dropped != 6 || got.QueueLen != 4 {
		t.Fatalf("stats = %+v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The 4 surviving records are the newest ones (7..10).
	got, err := w.TailRecords("m1", "r1", 100)
	if err != nil {
		t.Fatalf("TailRecords: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("records = %d, want 4", len(got))
	}
}

func TestTailMissingLog(t *testing.T) {
	t.Parallel()
	w := New(Config{Dir: t.TempDir()}, nil, logx.Nop())
	if _, err := w.TailRecords("nope", "r1", 10); err != ErrNoLog {
		t.Fatalf("err = %v, want ErrNoLog", err)
	}
}
