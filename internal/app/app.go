// Package app assembles the daemon: it loads configuration, constructs the
// telemetry pipeline end to end, and owns startup and shutdown ordering.
package app

import (
	"context"
	"fmt"
	"time"

	"robomon/internal/broadcast"
	"robomon/internal/config"
	"robomon/internal/httpapi"
	"robomon/internal/ingest"
	"robomon/internal/logwriter"
	"robomon/internal/maintenance"
	"robomon/internal/match"
	"robomon/internal/runtime/supervisor"
	"robomon/internal/statetable"
	"robomon/internal/storage"

	logx "robomon/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	table    *statetable.Table
	tracker  *match.Tracker
	writer   *logwriter.Writer
	receiver *ingest.Receiver
	mgr      *broadcast.Manager
	sch      *broadcast.Scheduler
	http     *httpapi.Server
	maint    *maintenance.Service
	store    storage.Store // may be nil
}

// durations is the resolved (parsed, defaulted) view of every duration
// string in the config.
type durations struct {
	robotTimeout       time.Duration
	inactivityTimeout  time.Duration
	reactivationWindow time.Duration
	flushInterval      time.Duration
	broadcastInterval  time.Duration
	heartbeatInterval  time.Duration
	clientTimeout      time.Duration
	retryBase          time.Duration
	httpRead           time.Duration
	httpWrite          time.Duration
	httpIdle           time.Duration
	storageBusy        time.Duration
}

func resolveDurations(cfg *config.Config) (durations, error) {
	var d durations
	var err error
	parse := func(path, raw string, def time.Duration) time.Duration {
		if err != nil {
			return 0
		}
		var v time.Duration
		v, err = config.ParseDurationOrDefault(path, raw, def)
		return v
	}
	d.robotTimeout = parse("monitor.robot_timeout", cfg.Monitor.RobotTimeout, config.DefaultRobotTimeout)
	d.inactivityTimeout = parse("match.inactivity_timeout", cfg.Match.InactivityTimeout, config.DefaultInactivityTimeout)
	d.flushInterval = parse("match.flush_interval", cfg.Match.FlushInterval, config.DefaultFlushInterval)
	d.broadcastInterval = parse("broadcast.interval", cfg.Broadcast.Interval, config.DefaultBroadcastInterval)
	d.heartbeatInterval = parse("broadcast.heartbeat_interval", cfg.Broadcast.HeartbeatInterval, config.DefaultHeartbeatInterval)
	d.clientTimeout = parse("broadcast.client_timeout", cfg.Broadcast.ClientTimeout, config.DefaultClientTimeout)
	d.retryBase = parse("broadcast.retry_base", cfg.Broadcast.RetryBase, config.DefaultRetryBase)
	if err != nil {
		return d, err
	}
	// Zero is meaningful for these: disabled window, no server timeout.
	if d.reactivationWindow, err = config.ParseDurationField("match.reactivation_window", cfg.Match.ReactivationWindow); err != nil {
		return d, err
	}
	if cfg.Match.ReactivationWindow == "" {
		d.reactivationWindow = config.DefaultReactivationWindow
	}
	if d.httpRead, err = config.ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout); err != nil {
		return d, err
	}
	if d.httpWrite, err = config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout); err != nil {
		return d, err
	}
	if d.httpIdle, err = config.ParseDurationField("http.idle_timeout", cfg.HTTP.IdleTimeout); err != nil {
		return d, err
	}
	if cfg.Storage != nil {
		if d.storageBusy, err = config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return d, err
		}
	}
	return d, nil
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	d, err := resolveDurations(cfg)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	var store storage.Store
	if cfg.Storage != nil {
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: d.storageBusy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logs.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	table := statetable.New(d.robotTimeout)
	tracker := match.New(match.Config{
		InactivityTimeout:  d.inactivityTimeout,
		ReactivationWindow: d.reactivationWindow,
	}, log.With(logx.String("comp", "match")))

	writer := logwriter.New(logwriter.Config{
		Dir:           cfg.Match.LogDir,
		QueueSize:     cfg.Match.QueueSize,
		FlushInterval: d.flushInterval,
	}, store, log.With(logx.String("comp", "logwriter")))
	tracker.OnEnd(writer.EndMatch)

	receiver, err := ingest.New(ingest.Config{
		Listen:     cfg.Ingest.Listen,
		Multicast:  cfg.Ingest.Multicast,
		Interface:  cfg.Ingest.Interface,
		Codec:      cfg.Ingest.Codec,
		ReadBuffer: cfg.Ingest.ReadBuffer,
	}, table, tracker, writer, log.With(logx.String("comp", "ingest")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	mgr := broadcast.NewManager(broadcast.ManagerConfig{
		HeartbeatInterval: d.heartbeatInterval,
		ClientTimeout:     d.clientTimeout,
		Session: broadcast.SessionConfig{
			QueueSize:   cfg.Broadcast.SessionQueueSize,
			RetryMax:    cfg.Broadcast.RetryMax,
			RetryBase:   d.retryBase,
			MaxFailures: cfg.Broadcast.MaxFailures,
			RatePerSec:  cfg.Broadcast.RatePerSec,
		},
	}, log.With(logx.String("comp", "broadcast")))
	sch := broadcast.NewScheduler(d.broadcastInterval, table, tracker, mgr,
		log.With(logx.String("comp", "broadcast")))

	httpSrv := httpapi.NewServer(httpapi.Config{
		Listen:       cfg.HTTP.Listen,
		ReadTimeout:  d.httpRead,
		WriteTimeout: d.httpWrite,
		IdleTimeout:  d.httpIdle,
	}, table, tracker, writer, receiver, mgr, sch, store,
		log.With(logx.String("comp", "http")))

	maint := maintenance.New(maintenance.Config{
		SweepSchedule: cfg.Maintenance.SweepSchedule,
		StatsSchedule: cfg.Maintenance.StatsSchedule,
	}, table, tracker, writer, receiver, mgr, log.With(logx.String("comp", "maintenance")))

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logs,
		table:    table,
		tracker:  tracker,
		writer:   writer,
		receiver: receiver,
		mgr:      mgr,
		sch:      sch,
		http:     httpSrv,
		maint:    maint,
		store:    store,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.http.SetRuntimeStats(func() any { return a.sup.GetSnapshot() })

	// A bind failure must fail startup, not retry in the background.
	if err := a.receiver.Open(); err != nil {
		return err
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		_, err := resolveDurations(cfg)
		return err
	})

	a.sup.Go("logwriter.drain", a.writer.Run)
	a.sup.Go("ingest.receive", a.receiver.Run)
	a.sup.Go("broadcast.heartbeat", a.mgr.Run)
	a.sup.Go("broadcast.schedule", a.sch.Run)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("http.serve", func(c context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- a.http.Start() }()
		select {
		case err := <-errCh:
			return err
		case <-c.Done():
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.http.Shutdown(sctx)
			return <-errCh
		}
	})

	if err := a.maint.Start(); err != nil {
		return err
	}

	// hot reload fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.apply(newCfg)
			}
		}
	})

	a.log.Info("monitor started", logx.String("config", a.cfgPath))
	return nil
}

// apply pushes a committed config into the live components. The validator
// already accepted it, so duration parses cannot fail here.
func (a *App) apply(cfg *config.Config) {
	d, err := resolveDurations(cfg)
	if err != nil {
		a.log.Warn("config apply skipped", logx.Err(err))
		return
	}

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a.table.SetOnlineTimeout(d.robotTimeout)
	a.tracker.Apply(match.Config{
		InactivityTimeout:  d.inactivityTimeout,
		ReactivationWindow: d.reactivationWindow,
	})
	a.sch.SetInterval(d.broadcastInterval)
	a.mgr.Apply(broadcast.ManagerConfig{
		HeartbeatInterval: d.heartbeatInterval,
		ClientTimeout:     d.clientTimeout,
		Session: broadcast.SessionConfig{
			QueueSize:   cfg.Broadcast.SessionQueueSize,
			RetryMax:    cfg.Broadcast.RetryMax,
			RetryBase:   d.retryBase,
			MaxFailures: cfg.Broadcast.MaxFailures,
			RatePerSec:  cfg.Broadcast.RatePerSec,
		},
	})
	a.log.Info("config applied")
}

// Stop shuts the daemon down in dependency order: stop intake first, end
// the active match, then drain and close the writer last so every queued
// record reaches disk.
func (a *App) Stop(ctx context.Context) error {
	a.maint.Stop()
	_ = a.receiver.Close()

	// End marker goes into the write queue before the supervisor stops the
	// drain loop, so frames already queued are written first.
	if a.tracker.ForceEnd() {
		a.log.Info("active match closed on shutdown")
	}

	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			a.log.Warn("supervisor stop", logx.Err(err))
		}
	}

	if err := a.writer.Close(); err != nil {
		a.log.Warn("log writer close", logx.Err(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
	}
	a.log.Info("monitor stopped")
	return a.logs.Close()
}
