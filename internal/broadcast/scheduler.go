package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"robomon/internal/match"
	"robomon/internal/statetable"

	logx "robomon/pkg/logx"
)

// DefaultInterval is the snapshot broadcast period.
const DefaultInterval = 500 * time.Millisecond

// Scheduler samples the state table at a fixed interval and pushes the
// encoded snapshot to every subscriber through the manager.
type Scheduler struct {
	log     logx.Logger
	table   *statetable.Table
	tracker *match.Tracker
	mgr     *Manager

	mu       sync.Mutex
	interval time.Duration

	sent atomic.Uint64
}

func NewScheduler(interval time.Duration, table *statetable.Table, tracker *match.Tracker, mgr *Manager, log logx.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		log:      log,
		table:    table,
		tracker:  tracker,
		mgr:      mgr,
		interval: interval,
	}
}

// SetInterval adjusts the broadcast period (config hot reload). Takes effect
// on the next tick.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

// Snapshot builds and encodes the current state of the fleet. It is also
// used to serve a fresh snapshot to a subscriber right after connect.
func (s *Scheduler) Snapshot() ([]byte, error) {
	now := time.Now()
	msg := SnapshotMessage{
		Type:      MessageTypeSnapshot,
		Timestamp: now,
		Robots:    s.table.Snapshot(now),
	}
	if sum, ok := s.tracker.Current(); ok {
		msg.Match = &sum
	}
	return json.Marshal(msg)
}

// Sent returns the number of snapshots broadcast so far.
func (s *Scheduler) Sent() uint64 { return s.sent.Load() }

// Run broadcasts snapshots until ctx is done. Ticks with no subscribers or
// no robots are skipped entirely; no snapshot is built or encoded.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	interval := s.interval
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.mgr.Count() > 0 && s.table.Len() > 0 {
				b, err := s.Snapshot()
				if err != nil {
					s.log.Error("encode snapshot", logx.Err(err))
				} else {
					s.mgr.Broadcast(b)
					s.sent.Add(1)
				}
			}
			s.mu.Lock()
			next := s.interval
			s.mu.Unlock()
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}
