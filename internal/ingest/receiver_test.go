package ingest

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"robomon/internal/logwriter"
	"robomon/internal/match"
	"robomon/internal/statetable"
	"robomon/internal/telemetry"

	logx "robomon/pkg/logx"
)

func newTestReceiver(t *testing.T) (*Receiver, *statetable.Table, *match.Tracker, *logwriter.Writer) {
	t.Helper()
	table := statetable.New(statetable.DefaultOnlineTimeout)
	tracker := match.New(match.Config{}, logx.Nop())
	writer := logwriter.New(logwriter.Config{Dir: t.TempDir(), QueueSize: 100}, nil, logx.Nop())
	r, err := New(Config{Listen: "127.0.0.1:0", Codec: "json"}, table, tracker, writer, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, table, tracker, writer
}

func framePayload(t *testing.T, robotID string, gs telemetry.GameState) []byte {
	t.Helper()
	b, err := json.Marshal(telemetry.Frame{
		RobotID: robotID,
		System:  telemetry.SystemStatus{TimestampMS: time.Now().UnixMilli(), FrameNumber: 1},
		Decision: telemetry.DecisionStatus{
			GameState: gs,
			Role:      "keeper",
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestHandlePacket(t *testing.T) {
	t.Parallel()
	r, table, tracker, _ := newTestReceiver(t)
	now := time.Now()

	r.handlePacket(framePayload(t, "r1", telemetry.GameStatePlaying), nil, now)
	if st := r.Stats(); st.Received != 1 || st.Accepted != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if _, ok := table.Get("r1", now); !ok {
		t.Fatal("state table not updated")
	}
	if _, ok := tracker.ActiveID(); !ok {
		t.Fatal("playing frame should open a match")
	}
}

func TestHandlePacketMalformed(t *testing.T) {
	t.Parallel()
	r, table, _, _ := newTestReceiver(t)
	now := time.Now()

	r.handlePacket([]byte("{not json"), nil, now)
	r.handlePacket([]byte(`{"robot_id":"r1","decision":{"game_state":99}}`), nil, now)
	st := r.Stats()
	if st.ParseErrors != 2 || st.Accepted != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if table.Len() != 0 {
		t.Fatal("rejected packets must not touch the state table")
	}
}

func TestHandlePacketMissingID(t *testing.T) {
	t.Parallel()
	r, table, _, _ := newTestReceiver(t)
	r.handlePacket(framePayload(t, "", telemetry.GameStateInitial), nil, time.Now())
	st := r.Stats()
	if st.MissingID != 1 || st.Accepted != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if table.Len() != 0 {
		t.Fatal("id-less packets must not touch the state table")
	}
}

func TestReceiveOverLoopback(t *testing.T) {
	t.Parallel()
	r, table, _, _ := newTestReceiver(t)
	if err := r.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	conn, err := net.Dial("udp", r.conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(framePayload(t, "r9", telemetry.GameStateReady)); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := table.Get("r9", time.Now()); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := table.Get("r9", time.Now()); !ok {
		t.Fatal("datagram not processed")
	}

	cancel()
	r.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestOpenBadAddr(t *testing.T) {
	t.Parallel()
	r, err := New(Config{Listen: "not-an-addr"}, statetable.New(0), match.New(match.Config{}, logx.Nop()), nil, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Open(); err == nil {
		t.Fatal("expected bind error")
	}
}
