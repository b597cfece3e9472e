// Package httpapi serves the monitoring surface: REST queries over the
// live state and match logs, plus the websocket subscription endpoint.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"robomon/internal/broadcast"
	"robomon/internal/ingest"
	"robomon/internal/logwriter"
	"robomon/internal/match"
	"robomon/internal/statetable"
	"robomon/internal/storage"

	logx "robomon/pkg/logx"
)

const DefaultListen = "127.0.0.1:8080"

type Config struct {
	Listen string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server wires the query layer over the live components. All handlers are
// read-only; mutation happens only through the telemetry pipeline.
type Server struct {
	cfg Config
	log logx.Logger

	table    *statetable.Table
	tracker  *match.Tracker
	writer   *logwriter.Writer
	receiver *ingest.Receiver
	mgr      *broadcast.Manager
	sch      *broadcast.Scheduler
	store    storage.Store // may be nil

	// runtimeStats, when set, contributes goroutine diagnostics to /health.
	runtimeStats func() any

	echo *echo.Echo
}

func NewServer(
	cfg Config,
	table *statetable.Table,
	tracker *match.Tracker,
	writer *logwriter.Writer,
	receiver *ingest.Receiver,
	mgr *broadcast.Manager,
	sch *broadcast.Scheduler,
	store storage.Store,
	log logx.Logger,
) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	s := &Server{
		cfg:      cfg,
		log:      log,
		table:    table,
		tracker:  tracker,
		writer:   writer,
		receiver: receiver,
		mgr:      mgr,
		sch:      sch,
		store:    store,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.Server.IdleTimeout = cfg.IdleTimeout

	e.GET("/health", s.handleHealth)
	e.GET("/api/robots", s.handleRobots)
	e.GET("/api/robots/:robot_id", s.handleRobot)
	e.GET("/api/current_match", s.handleCurrentMatch)
	e.GET("/api/current_match/robots", s.handleCurrentMatchRobots)
	e.GET("/api/current_match/logs/:robot_id", s.handleCurrentMatchLogs)
	e.GET("/api/matches", s.handleMatches)
	e.GET("/api/stats", s.handleStats)
	e.GET("/ws", s.handleWS)

	s.echo = e
	return s
}

// Start runs the HTTP listener until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http listener started", logx.String("addr", s.cfg.Listen))
	err := s.echo.Start(s.cfg.Listen)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// SetRuntimeStats installs a diagnostics provider (goroutine snapshot).
// Must be called before Start.
func (s *Server) SetRuntimeStats(fn func() any) { s.runtimeStats = fn }

func (s *Server) handleHealth(c echo.Context) error {
	body := map[string]any{
		"status":   "ok",
		"robots":   s.table.Len(),
		"sessions": s.mgr.Stats().Sessions,
		"ingest":   s.receiver.Stats(),
	}
	if s.runtimeStats != nil {
		body["runtime"] = s.runtimeStats()
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleRobots(c echo.Context) error {
	now := time.Now()
	entries := s.table.Snapshot(now)
	online := 0
	for _, e := range entries {
		if e.Online {
			online++
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"timestamp": now,
		"online":    online,
		"robots":    entries,
	})
}

func (s *Server) handleRobot(c echo.Context) error {
	id := c.Param("robot_id")
	entry, ok := s.table.Get(id, time.Now())
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown robot: "+id)
	}
	return c.JSON(http.StatusOK, entry)
}

func (s *Server) handleCurrentMatch(c echo.Context) error {
	sum, ok := s.tracker.Current()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no match observed yet")
	}
	now := time.Now()
	body := map[string]any{
		"active":           sum.Active,
		"match_id":         sum.MatchID,
		"start_time":       sum.StartTime,
		"duration_seconds": sum.Duration(now).Seconds(),
		"robot_count":      len(sum.Robots),
		"robots":           sum.Robots,
	}
	if !sum.Active {
		body["end_time"] = sum.EndTime
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleCurrentMatchRobots(c echo.Context) error {
	sum, ok := s.tracker.Current()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no match observed yet")
	}
	type robotLog struct {
		RobotID string `json:"robot_id"`
		Records uint64 `json:"records"`
	}
	out := make([]robotLog, 0, len(sum.Robots))
	for _, rid := range sum.Robots {
		out = append(out, robotLog{RobotID: rid, Records: s.writer.RecordCount(sum.MatchID, rid)})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"match_id": sum.MatchID,
		"active":   sum.Active,
		"robots":   out,
	})
}

func (s *Server) handleCurrentMatchLogs(c echo.Context) error {
	sum, ok := s.tracker.Current()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no match observed yet")
	}
	id := c.Param("robot_id")
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 10000 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be 1..10000")
		}
		limit = n
	}
	recs, err := s.writer.TailRecords(sum.MatchID, id, limit)
	if err != nil {
		if errors.Is(err, logwriter.ErrNoLog) {
			return echo.NewHTTPError(http.StatusNotFound, "no log for robot: "+id)
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"match_id": sum.MatchID,
		"robot_id": id,
		"records":  recs,
	})
}

func (s *Server) handleMatches(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusNotFound, "match history is not enabled")
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be 1..1000")
		}
		limit = n
	}
	recs, err := s.store.ListMatches(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []storage.MatchRecord{}
	}
	return c.JSON(http.StatusOK, map[string]any{"matches": recs})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"ingest":    s.receiver.Stats(),
		"writer":    s.writer.Stats(),
		"broadcast": s.mgr.Stats(),
		"snapshots": s.sch.Sent(),
		"robots":    s.table.Len(),
	})
}
