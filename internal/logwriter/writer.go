// Package logwriter persists accepted telemetry to per-match, per-robot
// JSON Lines files through a bounded queue so slow disks never stall ingest.
package logwriter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"robomon/internal/match"
	"robomon/internal/queue"
	"robomon/internal/storage"
	"robomon/internal/telemetry"

	logx "robomon/pkg/logx"
)

const (
	DefaultQueueSize     = 10000
	DefaultFlushInterval = time.Second

	// flushEvery forces a flush after this many records even under
	// continuous load, bounding data loss on crash.
	flushEvery = 100
)

type Config struct {
	Dir           string
	QueueSize     int
	FlushInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.QueueSize <= 0 {
		out.QueueSize = DefaultQueueSize
	}
	if out.FlushInterval <= 0 {
		out.FlushInterval = DefaultFlushInterval
	}
	return out
}

// item is one queued unit of work: either a frame to append or, when end is
// set, a request to finalize a match. End markers ride the same queue so they
// are processed after every frame enqueued before the match ended.
type item struct {
	matchID string
	frame   *telemetry.Frame
	recv    time.Time
	end     *match.Summary
}

// record is the on-disk line format: the frame fields flattened plus the
// receive-side timestamp.
type record struct {
	LogTimestamp time.Time `json:"log_timestamp"`
	*telemetry.Frame
}

type stream struct {
	f *os.File
	w *bufio.Writer
}

// Writer drains the queue on a single goroutine; all file handles are owned
// by that goroutine plus TailRecords, synchronized by mu.
type Writer struct {
	cfg   Config
	log   logx.Logger
	store storage.Store // may be nil

	q    *queue.Bounded[item]
	done chan struct{}

	mu      sync.Mutex
	streams map[string]map[string]*stream // matchID -> robotID -> stream
	counts  map[string]map[string]uint64  // matchID -> robotID -> records written
	// pendingEnds survives end markers evicted from a full queue: Close()
	// finalizes every match with a recorded summary.
	pendingEnds map[string]match.Summary

	appended  uint64
	written   uint64
	sinceSync int
}

func New(cfg Config, store storage.Store, log logx.Logger) *Writer {
	cfg = cfg.withDefaults()
	return &Writer{
		cfg:         cfg,
		log:         log,
		store:       store,
		q:           queue.NewBounded[item](cfg.QueueSize),
		done:        make(chan struct{}),
		streams:     map[string]map[string]*stream{},
		counts:      map[string]map[string]uint64{},
		pendingEnds: map[string]match.Summary{},
	}
}

// Append enqueues one frame for the given match. It never blocks; when the
// queue is full the oldest queued item is discarded.
func (w *Writer) Append(matchID string, f *telemetry.Frame, recv time.Time) {
	if matchID == "" || f == nil || f.RobotID == "" {
		return
	}
	w.mu.Lock()
	w.appended++
	w.mu.Unlock()
	if w.q.Push(item{matchID: matchID, frame: f, recv: recv}) {
		w.log.Warn("log queue full; dropped oldest record",
			logx.String("match_id", matchID),
			logx.Uint64("drops", w.q.Drops()),
		)
	}
}

// EndMatch schedules finalization of a match: remaining queued frames are
// written first, then streams close and metadata is written.
func (w *Writer) EndMatch(sum match.Summary) {
	if sum.MatchID == "" {
		return
	}
	w.mu.Lock()
	w.pendingEnds[sum.MatchID] = sum
	w.mu.Unlock()
	s := sum
	w.q.Push(item{matchID: sum.MatchID, end: &s})
}

// Run drains the queue until ctx is done or Close() is called.
func (w *Writer) Run(ctx context.Context) error {
	defer close(w.done)
	stop := context.AfterFunc(ctx, w.q.Close)
	defer stop()

	for {
		it, ok := w.q.Pop(w.cfg.FlushInterval)
		if !ok {
			// Timeout (idle) or closed-and-drained; either way push buffered
			// bytes to disk.
			w.flushAll()
			if w.q.Closed() && w.q.Len() == 0 {
				return nil
			}
			continue
		}
		w.handle(it)
	}
}

// Close stops intake, waits for the drain to finish, finalizes every match
// with a pending end, and closes all remaining streams.
func (w *Writer) Close() error {
	w.q.Close()
	<-w.done

	w.mu.Lock()
	pend := make([]match.Summary, 0, len(w.pendingEnds))
	for _, s := range w.pendingEnds {
		pend = append(pend, s)
	}
	w.mu.Unlock()
	for _, s := range pend {
		w.finalize(s)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for mid, robots := range w.streams {
		for rid, st := range robots {
			if err := w.closeStream(st); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close %s/%s: %w", mid, rid, err)
			}
		}
		delete(w.streams, mid)
	}
	return firstErr
}

func (w *Writer) handle(it item) {
	if it.end != nil {
		w.finalize(*it.end)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	st, err := w.streamLocked(it.matchID, it.frame.RobotID)
	if err != nil {
		w.log.Error("open log stream", logx.Err(err),
			logx.String("match_id", it.matchID),
			logx.String("robot_id", it.frame.RobotID),
		)
		return
	}
	b, err := json.Marshal(record{LogTimestamp: it.recv, Frame: it.frame})
	if err != nil {
		w.log.Error("encode log record", logx.Err(err), logx.String("robot_id", it.frame.RobotID))
		return
	}
	b = append(b, '\n')
	if _, err := st.w.Write(b); err != nil {
		w.log.Error("write log record", logx.Err(err), logx.String("match_id", it.matchID))
		return
	}
	w.written++
	w.counts[it.matchID][it.frame.RobotID]++
	w.sinceSync++
	if w.sinceSync >= flushEvery {
		w.flushLocked()
	}
}

func (w *Writer) streamLocked(matchID, robotID string) (*stream, error) {
	robots := w.streams[matchID]
	if robots == nil {
		robots = map[string]*stream{}
		w.streams[matchID] = robots
		w.counts[matchID] = map[string]uint64{}
	}
	if st, ok := robots[robotID]; ok {
		return st, nil
	}
	dir := w.matchDir(matchID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "robot_"+robotID+".jsonl"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	st := &stream{f: f, w: bufio.NewWriterSize(f, 64<<10)}
	robots[robotID] = st
	return st, nil
}

func (w *Writer) matchDir(matchID string) string {
	return filepath.Join(w.cfg.Dir, "match_"+matchID)
}

func (w *Writer) flushAll() {
	w.mu.Lock()
	w.flushLocked()
	w.mu.Unlock()
}

func (w *Writer) flushLocked() {
	for _, robots := range w.streams {
		for _, st := range robots {
			if err := st.w.Flush(); err != nil {
				w.log.Error("flush log stream", logx.Err(err))
			}
		}
	}
	w.sinceSync = 0
}

func (w *Writer) closeStream(st *stream) error {
	ferr := st.w.Flush()
	cerr := st.f.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}

// finalize closes a match's streams and writes match_metadata.json next to
// them. It is idempotent: a marker processed after Close() already finalized
// the match is a no-op.
func (w *Writer) finalize(sum match.Summary) {
	w.mu.Lock()
	if _, still := w.pendingEnds[sum.MatchID]; !still {
		w.mu.Unlock()
		return
	}
	delete(w.pendingEnds, sum.MatchID)

	robots := w.streams[sum.MatchID]
	delete(w.streams, sum.MatchID)
	counts := w.counts[sum.MatchID]
	delete(w.counts, sum.MatchID)
	w.mu.Unlock()

	for rid, st := range robots {
		if err := w.closeStream(st); err != nil {
			w.log.Error("close log stream", logx.Err(err),
				logx.String("match_id", sum.MatchID), logx.String("robot_id", rid))
		}
	}

	if err := w.writeMetadata(sum, counts); err != nil {
		w.log.Error("write match metadata", logx.Err(err), logx.String("match_id", sum.MatchID))
	}

	if w.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.store.RecordMatch(ctx, storage.MatchRecord{
			MatchID:   sum.MatchID,
			StartTime: sum.StartTime,
			EndTime:   sum.EndTime,
			Robots:    sum.Robots,
		})
		cancel()
		if err != nil {
			w.log.Error("index match", logx.Err(err), logx.String("match_id", sum.MatchID))
		}
	}

	w.log.Info("match log finalized",
		logx.String("match_id", sum.MatchID),
		logx.Int("robots", len(sum.Robots)),
		logx.Duration("duration", sum.EndTime.Sub(sum.StartTime)),
	)
}

type metadata struct {
	MatchID         string            `json:"match_id"`
	StartTime       time.Time         `json:"start_time"`
	EndTime         time.Time         `json:"end_time"`
	DurationSeconds float64           `json:"duration_seconds"`
	Robots          []string          `json:"robots"`
	RecordCounts    map[string]uint64 `json:"record_counts"`
}

func (w *Writer) writeMetadata(sum match.Summary, counts map[string]uint64) error {
	dir := w.matchDir(sum.MatchID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	md := metadata{
		MatchID:         sum.MatchID,
		StartTime:       sum.StartTime,
		EndTime:         sum.EndTime,
		DurationSeconds: sum.EndTime.Sub(sum.StartTime).Seconds(),
		Robots:          sum.Robots,
		RecordCounts:    counts,
	}
	if md.RecordCounts == nil {
		md.RecordCounts = map[string]uint64{}
	}
	b, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}
	// tmp+rename so a crash never leaves half-written metadata
	tmp := filepath.Join(dir, ".match_metadata.json.tmp")
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, "match_metadata.json"))
}

// Stats is a point-in-time view of writer throughput.
type Stats struct {
	Appended    uint64 `json:"appended"`
	Written     uint64 `json:"written"`
	Dropped     uint64 `json:"dropped"`
	QueueLen    int    `json:"queue_len"`
	QueueCap    int    `json:"queue_cap"`
	OpenStreams int    `json:"open_streams"`
}

func (w *Writer) Stats() Stats {
	w.mu.Lock()
	open := 0
	for _, robots := range w.streams {
		open += len(robots)
	}
	s := Stats{
		Appended:    w.appended,
		Written:     w.written,
		OpenStreams: open,
	}
	w.mu.Unlock()
	s.Dropped = w.q.Drops()
	s.QueueLen = w.q.Len()
	s.QueueCap = w.q.Cap()
	return s
}

// RecordCount returns how many records have been written for one robot in
// one match so far.
func (w *Writer) RecordCount(matchID, robotID string) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts[matchID][robotID]
}

var ErrNoLog = errors.New("no log for robot in match")

// TailRecords returns the last n records of one robot's log in the given
// match, oldest first. Buffered data is flushed before reading so callers
// see everything already handled by the writer goroutine.
func (w *Writer) TailRecords(matchID, robotID string, n int) ([]json.RawMessage, error) {
	if n <= 0 {
		n = 100
	}
	w.mu.Lock()
	if robots := w.streams[matchID]; robots != nil {
		if st, ok := robots[robotID]; ok {
			if err := st.w.Flush(); err != nil {
				w.mu.Unlock()
				return nil, err
			}
		}
	}
	path := filepath.Join(w.matchDir(matchID), "robot_"+robotID+".jsonl")
	w.mu.Unlock()

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoLog
		}
		return nil, err
	}
	lines := bytes.Split(bytes.TrimSpace(b), []byte{'\n'})
	if len(lines) == 1 && len(lines[0]) == 0 {
		return nil, nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]json.RawMessage, 0, len(lines))
	for _, ln := range lines {
		if len(ln) == 0 {
			continue
		}
		out = append(out, json.RawMessage(bytes.Clone(ln)))
	}
	return out, nil
}

// ListRobots returns the robot ids with a log file in the given match dir,
// sorted. Useful for inspecting finished matches on disk.
func (w *Writer) ListRobots(matchID string) ([]string, error) {
	ents, err := os.ReadDir(w.matchDir(matchID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || len(name) < len("robot_.jsonl") {
			continue
		}
		if name[:6] == "robot_" && filepath.Ext(name) == ".jsonl" {
			ids = append(ids, name[6:len(name)-len(".jsonl")])
		}
	}
	sort.Strings(ids)
	return ids, nil
}
