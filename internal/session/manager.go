package session

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gregnietsky/dclinabox-go/internal/config"
	"github.com/gregnietsky/dclinabox-go/internal/ptyio"
	"github.com/gregnietsky/dclinabox-go/internal/wsframe"
)

// period is the Session Manager's sweep interval (§4.8: "period ≈ 15 s").
const period = 15 * time.Second

// processRefreshEvery is "every fourth tick (≈ 60 s)".
const processRefreshEvery = 4

// Manager runs the periodic pass over all live Sessions described in
// spec.md §4.8 (component I): title updates, idle/warn policy, broadcast
// alerts, and config reload.
type Manager struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}

	store *config.Store
	node  string
	log   zerolog.Logger

	tick int

	lastIdleRaw  string
	idleCfg      config.IdleConfig
	lastAlertRaw string

	ticker *time.Ticker
	stop   chan struct{}
}

// NewManager builds a Manager backed by store; node is the local host/node
// label used in the title string ("DCLinabox: <http-host> <node>:: <user>").
func NewManager(store *config.Store, node string, log zerolog.Logger) *Manager {
	return &Manager{
		sessions: make(map[*Session]struct{}),
		store:    store,
		node:     node,
		log:      log,
		idleCfg:  config.DefaultIdleConfig(),
		stop:     make(chan struct{}),
	}
}

// Add registers a session with the manager.
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s] = struct{}{}
}

// Remove drops a session from the manager (called once the Session has
// torn down).
func (m *Manager) Remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s)
}

// Run starts the periodic sweep in a background goroutine.
func (m *Manager) Run() {
	m.ticker = time.NewTicker(period)
	go func() {
		for {
			select {
			case <-m.ticker.C:
				m.pass()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine.
func (m *Manager) Stop() {
	if m.ticker != nil {
		m.ticker.Stop()
	}
	close(m.stop)
}

func (m *Manager) snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// pass runs one sweep: it is a separate method (not inlined into Run) so
// tests can drive it deterministically without waiting on the ticker.
func (m *Manager) pass() {
	m.tick++
	now := time.Now().Unix()

	sessions := m.snapshot()

	refreshProcessNames := m.tick%processRefreshEvery == 0
	reloadMinute := m.tick%processRefreshEvery == 0 // both fire "once a minute" at 4*15s

	if reloadMinute {
		if err := m.store.Reload(); err != nil {
			m.log.Debug().Err(err).Msg("manager: config reload failed")
		}
		m.reloadIdle(sessions)
		m.reloadAlert(sessions)
	}

	for _, s := range sessions {
		if s.firstObservation() {
			if err := s.SendTitle(m.node); err != nil {
				m.log.Debug().Err(err).Str("session_id", s.ID).Msg("manager: title send failed")
			}
		} else if refreshProcessNames {
			m.refreshProcessName(s)
		}

		s.tickLogoutCountdown()
		m.applyIdlePolicy(s, now)
	}
}

func (m *Manager) refreshProcessName(s *Session) {
	pid := s.Term.Pid()
	if pid == 0 {
		return
	}
	name := ptyio.ProcessName(pid)
	if name == "" {
		return
	}
	if s.setProcessName(name) {
		if err := s.SendTitle(m.node); err != nil {
			m.log.Debug().Err(err).Str("session_id", s.ID).Msg("manager: title refresh failed")
		}
	}
}

func (m *Manager) reloadIdle(sessions []*Session) {
	raw := m.store.Idle()
	if raw == m.lastIdleRaw {
		return
	}
	m.lastIdleRaw = raw
	m.idleCfg = config.ParseIdle(raw)

	for _, s := range sessions {
		m.recomputeIdleDeadlines(s)
	}
}

// recomputeIdleDeadlines applies the manager's current idle config to one
// session, only touching the cached deadlines when they actually differ
// (§4.8: "If the derived per-session idle/warn deadlines differ from what
// the session has cached, recalculate them").
func (m *Manager) recomputeIdleDeadlines(s *Session) {
	if m.idleCfg.Disabled {
		s.setIdleState(0, 0)
		return
	}
	base := s.LastInputAt()
	idle := base + int64(m.idleCfg.IdleMins)*60
	warn := idle - int64(m.idleCfg.WarnMins)*60

	cur, curWarn, _ := s.idleState()
	if cur != idle || curWarn != warn {
		s.setIdleState(idle, warn)
	}
}

func (m *Manager) applyIdlePolicy(s *Session, now int64) {
	if m.idleCfg.Disabled {
		return
	}

	idle, warn, _ := s.idleState()
	if idle == 0 {
		m.recomputeIdleDeadlines(s)
		idle, warn, _ = s.idleState()
	}

	// Client input since the last pass pushes the deadlines forward.
	if last := s.LastInputAt(); last > 0 {
		wantIdle := last + int64(m.idleCfg.IdleMins)*60
		if wantIdle > idle {
			idle = wantIdle
			warn = idle - int64(m.idleCfg.WarnMins)*60
			s.setIdleState(idle, warn)
		}
	}

	if warn != 0 && now >= warn && now < idle {
		msg := formatWarn(m.idleCfg.WarnMsg, m.tickMinutesElapsed(idle, now))
		_ = s.SendAlert(msg)
	}
	if idle != 0 && now >= idle {
		_ = s.Conn.Close(wsframe.ClosePolicy, "idle connection")
	}
}

// tickMinutesElapsed is a small helper for the warn message's "%d minutes
// remaining" substitution.
func (m *Manager) tickMinutesElapsed(idleDeadline, now int64) int {
	remaining := (idleDeadline - now) / 60
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining)
}

func formatWarn(template string, minsRemaining int) string {
	out := make([]byte, 0, len(template)+4)
	for i := 0; i < len(template); i++ {
		if template[i] == '%' && i+1 < len(template) && template[i+1] == 'd' {
			out = append(out, strconv.Itoa(minsRemaining)...)
			i++
			continue
		}
		out = append(out, template[i])
	}
	return string(out)
}

func (m *Manager) reloadAlert(sessions []*Session) {
	raw := m.store.Alert()
	if raw == m.lastAlertRaw {
		return
	}
	m.lastAlertRaw = raw
	for _, s := range sessions {
		s.markUnalerted()
	}

	if raw == "" {
		return
	}
	for _, s := range sessions {
		_, _, alerted := s.idleState()
		if alerted {
			continue
		}
		if err := s.SendAlert(raw); err == nil {
			s.setAlerted(true)
		}
	}
}
