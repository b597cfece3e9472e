// Package maintenance runs the daemon's housekeeping jobs on cron
// schedules: the match inactivity sweep and the periodic stats report.
package maintenance

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"robomon/internal/broadcast"
	"robomon/internal/ingest"
	"robomon/internal/logwriter"
	"robomon/internal/match"
	"robomon/internal/statetable"

	logx "robomon/pkg/logx"
)

const (
	DefaultSweepSchedule = "@every 5s"
	DefaultStatsSchedule = "@every 10s"
)

type Config struct {
	SweepSchedule string
	StatsSchedule string
}

// Service owns the cron runner. Jobs are read-only except for the sweep,
// which may end an inactive match through the tracker.
type Service struct {
	cfg    Config
	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron

	table    *statetable.Table
	tracker  *match.Tracker
	writer   *logwriter.Writer
	receiver *ingest.Receiver
	mgr      *broadcast.Manager
}

func New(cfg Config, table *statetable.Table, tracker *match.Tracker, writer *logwriter.Writer, receiver *ingest.Receiver, mgr *broadcast.Manager, log logx.Logger) *Service {
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.StatsSchedule == "" {
		cfg.StatsSchedule = DefaultStatsSchedule
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		table:    table,
		tracker:  tracker,
		writer:   writer,
		receiver: receiver,
		mgr:      mgr,
	}
}

// Start registers the jobs and launches the cron runner.
func (s *Service) Start() error {
	c := cron.New(cron.WithParser(s.parser))
	if _, err := c.AddFunc(s.cfg.SweepSchedule, s.sweep); err != nil {
		return fmt.Errorf("sweep schedule %q: %w", s.cfg.SweepSchedule, err)
	}
	if _, err := c.AddFunc(s.cfg.StatsSchedule, s.report); err != nil {
		return fmt.Errorf("stats schedule %q: %w", s.cfg.StatsSchedule, err)
	}
	c.Start()
	s.c = c
	s.log.Debug("maintenance jobs scheduled",
		logx.String("sweep", s.cfg.SweepSchedule),
		logx.String("stats", s.cfg.StatsSchedule),
	)
	return nil
}

// Stop halts the runner and waits for any in-flight job.
func (s *Service) Stop() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

func (s *Service) sweep() {
	if s.tracker.CheckInactivity() {
		s.log.Info("match ended by inactivity sweep")
	}
}

func (s *Service) report() {
	now := time.Now()
	online := 0
	for _, e := range s.table.Snapshot(now) {
		if e.Online {
			online++
		}
	}
	ist := s.receiver.Stats()
	wst := s.writer.Stats()
	bst := s.mgr.Stats()
	fields := []logx.Field{
		logx.Int("robots", s.table.Len()),
		logx.Int("online", online),
		logx.Uint64("received", ist.Received),
		logx.Uint64("accepted", ist.Accepted),
		logx.Uint64("parse_errors", ist.ParseErrors),
		logx.Uint64("written", wst.Written),
		logx.Uint64("log_drops", wst.Dropped),
		logx.Int("log_queue", wst.QueueLen),
		logx.Int("subscribers", bst.Sessions),
	}
	if id, ok := s.tracker.ActiveID(); ok {
		fields = append(fields, logx.String("match_id", id))
	}
	s.log.Info("monitor stats", fields...)
}
