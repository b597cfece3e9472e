package maintenance

import (
	"testing"

	"robomon/internal/broadcast"
	"robomon/internal/ingest"
	"robomon/internal/logwriter"
	"robomon/internal/match"
	"robomon/internal/statetable"

	logx "robomon/pkg/logx"
)

func newService(t *testing.T, cfg Config) *Service {
	t.Helper()
	table := statetable.New(statetable.DefaultOnlineTimeout)
	tracker := match.New(match.Config{}, logx.Nop())
	writer := logwriter.New(logwriter.Config{Dir: t.TempDir()}, nil, logx.Nop())
	receiver, err := ingest.New(ingest.Config{Listen: "127.0.0.1:0"}, table, tracker, writer, logx.Nop())
	if err != nil {
		t.Fatalf("ingest.New: %v", err)
	}
	mgr := broadcast.NewManager(broadcast.ManagerConfig{}, logx.Nop())
	return New(cfg, table, tracker, writer, receiver, mgr, logx.Nop())
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := newService(t, Config{SweepSchedule: "@every 1h", StatsSchedule: "@every 1h"})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	s.Stop() // idempotent
}

func TestBadSchedule(t *testing.T) {
	t.Parallel()
	s := newService(t, Config{SweepSchedule: "not a schedule"})
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatal("expected schedule parse error")
	}
}
