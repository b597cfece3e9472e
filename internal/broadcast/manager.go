package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	logx "robomon/pkg/logx"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultClientTimeout     = 30 * time.Second
)

type ManagerConfig struct {
	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration
	Session           SessionConfig
}

func (c *ManagerConfig) withDefaults() ManagerConfig {
	out := *c
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if out.ClientTimeout <= 0 {
		out.ClientTimeout = DefaultClientTimeout
	}
	return out
}

// Manager is the session registry: it starts sender goroutines, fans
// broadcasts out, and evicts subscribers that stop responding.
type Manager struct {
	log logx.Logger

	mu       sync.RWMutex
	cfg      ManagerConfig
	sessions map[string]*Session
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewManager(cfg ManagerConfig, log logx.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		log:      log,
		cfg:      cfg.withDefaults(),
		sessions: map[string]*Session{},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Apply updates heartbeat knobs (config hot reload). Existing sessions keep
// their queue settings; new sessions pick up the new ones.
func (m *Manager) Apply(cfg ManagerConfig) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
}

// Add registers one subscriber and starts its sender goroutine.
func (m *Manager) Add(sender Sender) *Session {
	m.mu.Lock()
	s := newSession(m.cfg.Session, sender, m.log)
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.run(m.ctx)
		_ = sender.Close()
		m.remove(s.ID)
	}()

	m.log.Info("subscriber connected", logx.String("session_id", s.ID), logx.Int("sessions", n))
	return s
}

// Remove deactivates and unregisters a session. Safe to call more than once
// and for unknown ids.
func (m *Manager) Remove(id string) {
	m.mu.RLock()
	s := m.sessions[id]
	m.mu.RUnlock()
	if s == nil {
		return
	}
	s.deactivate()
	<-s.done
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if ok {
		m.log.Info("subscriber disconnected", logx.String("session_id", id), logx.Int("sessions", n))
	}
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Broadcast enqueues one encoded message to every active session. It never
// blocks on any subscriber.
func (m *Manager) Broadcast(data []byte) {
	m.mu.RLock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	for _, s := range targets {
		s.Enqueue(data)
	}
}

// Run drives the heartbeat loop until ctx is done, then tears every session
// down and waits for the sender goroutines.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.RLock()
	interval := m.cfg.HeartbeatInterval
	m.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case <-ticker.C:
			m.heartbeat()
			m.mu.RLock()
			next := m.cfg.HeartbeatInterval
			m.mu.RUnlock()
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// heartbeat pings every session and evicts the ones silent for longer than
// the client timeout. The ping goes out both as an application message
// (through the session queue, answered by "pong"/"heartbeat") and as a
// transport probe for clients that only speak protocol-level pong.
func (m *Manager) heartbeat() {
	m.mu.RLock()
	timeout := m.cfg.ClientTimeout
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	now := time.Now()
	ping, err := json.Marshal(PingMessage{Type: MessageTypePing, Timestamp: now})
	if err != nil {
		return
	}
	for _, s := range targets {
		if now.Sub(s.LastSeen()) > timeout {
			m.log.Info("evicting unresponsive subscriber",
				logx.String("session_id", s.ID),
				logx.Duration("silent_for", now.Sub(s.LastSeen())),
			)
			s.deactivate()
			continue
		}
		s.Enqueue(ping)
		if err := s.sender.Ping(); err != nil {
			s.log.Debug("heartbeat ping failed", logx.String("session_id", s.ID), logx.Err(err))
		}
	}
}

func (m *Manager) shutdown() {
	m.cancel()
	m.mu.RLock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.RUnlock()
	for _, s := range targets {
		s.deactivate()
	}
	m.wg.Wait()
}

// Stats is a point-in-time view of the subscriber set.
type Stats struct {
	Sessions int    `json:"sessions"`
	Drops    uint64 `json:"drops"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{Sessions: len(m.sessions)}
	for _, s := range m.sessions {
		st.Drops += s.Drops()
	}
	return st
}
