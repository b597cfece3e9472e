package broadcast

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"robomon/internal/queue"

	logx "robomon/pkg/logx"
)

const (
	DefaultSessionQueueSize = 10
	DefaultRetryMax         = 3
	DefaultRetryBase        = 100 * time.Millisecond
	DefaultMaxFailures      = 3
)

// SessionConfig tunes one subscriber's delivery behavior.
type SessionConfig struct {
	QueueSize   int
	RetryMax    int           // retries per message after the first attempt
	RetryBase   time.Duration // backoff doubles from this per retry
	MaxFailures int           // consecutive message failures before deactivation
	RatePerSec  int           // 0 disables rate limiting
}

func (c *SessionConfig) withDefaults() SessionConfig {
	out := *c
	if out.QueueSize <= 0 {
		out.QueueSize = DefaultSessionQueueSize
	}
	if out.RetryMax <= 0 {
		out.RetryMax = DefaultRetryMax
	}
	if out.RetryBase <= 0 {
		out.RetryBase = DefaultRetryBase
	}
	if out.MaxFailures <= 0 {
		out.MaxFailures = DefaultMaxFailures
	}
	return out
}

// Session is one subscriber. Messages flow through a bounded drop-oldest
// queue into a dedicated sender goroutine; a stalling transport only ever
// costs that subscriber its oldest pending snapshots.
type Session struct {
	ID string

	cfg    SessionConfig
	log    logx.Logger
	sender Sender
	q      *queue.Bounded[[]byte]

	limiter *rate.Limiter // nil when unlimited

	active   atomic.Bool
	lastSeen atomic.Int64 // unix nanos
	done     chan struct{}
}

func newSession(cfg SessionConfig, sender Sender, log logx.Logger) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		ID:     uuid.NewString(),
		cfg:    cfg,
		log:    log,
		sender: sender,
		q:      queue.NewBounded[[]byte](cfg.QueueSize),
		done:   make(chan struct{}),
	}
	if cfg.RatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.active.Store(true)
	s.Touch()
	return s
}

// Touch records subscriber activity (pong, inbound message).
func (s *Session) Touch() { s.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen returns the time of the last observed subscriber activity.
func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

func (s *Session) Active() bool { return s.active.Load() }

// Drops returns how many queued messages this session has lost to overflow.
func (s *Session) Drops() uint64 { return s.q.Drops() }

// Enqueue hands one encoded message to the session. It never blocks and
// reports false when the session is no longer active.
func (s *Session) Enqueue(data []byte) bool {
	if !s.active.Load() {
		return false
	}
	if s.q.Push(data) {
		s.log.Debug("session queue full; dropped oldest message",
			logx.String("session_id", s.ID),
			logx.Uint64("drops", s.q.Drops()),
		)
	}
	return true
}

// deactivate stops intake and wakes the sender goroutine so it can exit.
func (s *Session) deactivate() {
	if s.active.CompareAndSwap(true, false) {
		s.q.Close()
	}
}

// run is the sender loop. It exits when the session is deactivated or the
// subscriber keeps failing.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.deactivate()

	consecutive := 0
	for {
		msg, ok := s.q.Pop(time.Second)
		if !ok {
			if s.q.Closed() || ctx.Err() != nil {
				return
			}
			continue
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
		}
		if err := s.sendWithRetry(ctx, msg); err != nil {
			consecutive++
			s.log.Warn("session send failed",
				logx.String("session_id", s.ID),
				logx.Int("consecutive", consecutive),
				logx.Err(err),
			)
			if consecutive >= s.cfg.MaxFailures {
				s.log.Info("session deactivated after repeated send failures",
					logx.String("session_id", s.ID))
				return
			}
			continue
		}
		consecutive = 0
	}
}

// sendWithRetry attempts one message with exponential backoff between tries.
func (s *Session) sendWithRetry(ctx context.Context, msg []byte) error {
	var err error
	backoff := s.cfg.RetryBase
	for attempt := 0; ; attempt++ {
		err = s.sender.Send(msg)
		if err == nil {
			return nil
		}
		if attempt >= s.cfg.RetryMax || ctx.Err() != nil {
			return err
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		backoff *= 2
	}
}
