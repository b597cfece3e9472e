// Package match tracks the lifecycle of activity sessions ("matches").
//
// The tracker is the single authority on match identity: the log writer and
// the HTTP layer ask it for the current match and never derive match ids
// themselves. A match starts on an INITIAL->READY game-state transition (or
// on the first frame at READY or later when nothing is active), collects
// participants while active, and ends either on a FINISHED transition or
// when the periodic inactivity sweep finds no traffic for the configured
// timeout.
package match

import (
	"sort"
	"sync"
	"time"

	"robomon/internal/telemetry"
	logx "robomon/pkg/logx"
)

type Status int

const (
	StatusIdle Status = iota
	StatusActive
	StatusEnded
)

// Transition reports what Observe did with a frame.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionStarted
	TransitionReactivated
	TransitionEnded
)

type Config struct {
	// InactivityTimeout ends an active match after this much silence.
	InactivityTimeout time.Duration
	// ReactivationWindow: a frame arriving this soon after a match ended
	// reopens the same match id instead of starting a new one. This
	// tolerates brief network gaps without splitting one session into two.
	// An explicit INITIAL->READY transition always starts a new match.
	ReactivationWindow time.Duration
}

const (
	DefaultInactivityTimeout  = 60 * time.Second
	DefaultReactivationWindow = 5 * time.Minute
)

func (c *Config) withDefaults() Config {
	out := *c
	if out.InactivityTimeout <= 0 {
		out.InactivityTimeout = DefaultInactivityTimeout
	}
	if out.ReactivationWindow <= 0 {
		out.ReactivationWindow = DefaultReactivationWindow
	}
	return out
}

// Summary is a read-only view of a match.
type Summary struct {
	MatchID   string    `json:"match_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitzero"`
	Robots    []string  `json:"robots"`
	Active    bool      `json:"active"`
}

func (s Summary) Duration(now time.Time) time.Duration {
	if s.Active {
		return now.Sub(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

type current struct {
	id           string
	startTime    time.Time
	endTime      time.Time
	participants map[string]struct{}
	status       Status
	lastActivity time.Time
}

type Tracker struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	cur            *current
	lastGameStates map[string]telemetry.GameState
	lastID         string

	onEnd []func(Summary)

	now func() time.Time
}

func New(cfg Config, log logx.Logger) *Tracker {
	return &Tracker{
		cfg:            cfg.withDefaults(),
		log:            log,
		lastGameStates: map[string]telemetry.GameState{},
		now:            time.Now,
	}
}

// Apply updates the timeout knobs (config hot reload).
func (t *Tracker) Apply(cfg Config) {
	t.mu.Lock()
	t.cfg = cfg.withDefaults()
	t.mu.Unlock()
}

// OnEnd registers a hook fired once per match end, after the participant
// set is frozen. Hooks run outside the tracker lock, in registration order.
func (t *Tracker) OnEnd(fn func(Summary)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.onEnd = append(t.onEnd, fn)
	t.mu.Unlock()
}

// Observe feeds one accepted frame's game state into the state machine.
func (t *Tracker) Observe(robotID string, gs telemetry.GameState) Transition {
	t.mu.Lock()

	now := t.now()
	last, seen := t.lastGameStates[robotID]
	t.lastGameStates[robotID] = gs

	tr := TransitionNone
	explicitStart := seen && last == telemetry.GameStateInitial && gs == telemetry.GameStateReady

	if t.cur == nil || t.cur.status != StatusActive {
		if explicitStart || gs >= telemetry.GameStateReady {
			if t.cur != nil && t.cur.status == StatusEnded && !explicitStart &&
				now.Sub(t.cur.endTime) <= t.cfg.ReactivationWindow {
				t.cur.status = StatusActive
				t.cur.endTime = time.Time{}
				tr = TransitionReactivated
				t.log.Info("match reactivated", logx.String("match_id", t.cur.id), logx.String("robot_id", robotID))
			} else {
				t.startLocked(now)
				tr = TransitionStarted
				t.log.Info("match started", logx.String("match_id", t.cur.id), logx.String("robot_id", robotID))
			}
		}
	}

	var ended *Summary
	if t.cur != nil && t.cur.status == StatusActive {
		t.cur.lastActivity = now
		t.cur.participants[robotID] = struct{}{}

		if gs == telemetry.GameStateFinished && (!seen || last != telemetry.GameStateFinished) {
			s := t.endLocked(now)
			ended = &s
			tr = TransitionEnded
			t.log.Info("match ended", logx.String("match_id", s.MatchID), logx.Int("robots", len(s.Robots)))
		}
	}

	hooks := t.onEnd
	t.mu.Unlock()

	if ended != nil {
		for _, fn := range hooks {
			fn(*ended)
		}
	}
	return tr
}

// CheckInactivity ends the current match when no frame has arrived for the
// inactivity timeout. It is driven by a periodic sweep, so a match ends even
// when all traffic simply stops. Reports whether a match was ended.
func (t *Tracker) CheckInactivity() bool {
	t.mu.Lock()
	now := t.now()
	if t.cur == nil || t.cur.status != StatusActive || now.Sub(t.cur.lastActivity) <= t.cfg.InactivityTimeout {
		t.mu.Unlock()
		return false
	}
	s := t.endLocked(now)
	hooks := t.onEnd
	t.mu.Unlock()

	t.log.Info("match ended on inactivity", logx.String("match_id", s.MatchID), logx.Int("robots", len(s.Robots)))
	for _, fn := range hooks {
		fn(s)
	}
	return true
}

// ForceEnd ends the current match regardless of activity (daemon shutdown),
// so metadata is still written. No-op when nothing is active.
func (t *Tracker) ForceEnd() bool {
	t.mu.Lock()
	if t.cur == nil || t.cur.status != StatusActive {
		t.mu.Unlock()
		return false
	}
	s := t.endLocked(t.now())
	hooks := t.onEnd
	t.mu.Unlock()

	t.log.Info("match force-ended", logx.String("match_id", s.MatchID))
	for _, fn := range hooks {
		fn(s)
	}
	return true
}

// Current returns the current match summary. The second result is false when
// no match has ever started; an ended match is still returned (Active=false)
// so callers can distinguish "ended" from "never existed".
func (t *Tracker) Current() (Summary, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return Summary{}, false
	}
	return t.summaryLocked(), true
}

// ActiveID returns the current match id if a match is active right now.
func (t *Tracker) ActiveID() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil || t.cur.status != StatusActive {
		return "", false
	}
	return t.cur.id, true
}

func (t *Tracker) startLocked(now time.Time) {
	start := now
	id := start.Format("20060102_150405")
	// Match ids must be unique per run; two matches within the same second
	// would collide, so bump until the id moves forward.
	for id <= t.lastID && t.lastID != "" {
		start = start.Add(time.Second)
		id = start.Format("20060102_150405")
	}
	t.lastID = id
	t.cur = &current{
		id:           id,
		startTime:    start,
		participants: map[string]struct{}{},
		status:       StatusActive,
		lastActivity: now,
	}
}

func (t *Tracker) endLocked(now time.Time) Summary {
	t.cur.status = StatusEnded
	t.cur.endTime = now
	return t.summaryLocked()
}

func (t *Tracker) summaryLocked() Summary {
	robots := make([]string, 0, len(t.cur.participants))
	for id := range t.cur.participants {
		robots = append(robots, id)
	}
	sort.Strings(robots)
	return Summary{
		MatchID:   t.cur.id,
		StartTime: t.cur.startTime,
		EndTime:   t.cur.endTime,
		Robots:    robots,
		Active:    t.cur.status == StatusActive,
	}
}
