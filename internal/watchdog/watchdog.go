// Package watchdog implements the process-wide 1 Hz timer described in
// spec.md §4.7: it enforces per-connection close/idle/read/ping/wake
// deadlines and, when LifeSecs is positive, exits the process once no
// connections have remained for that many seconds.
package watchdog

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gregnietsky/dclinabox-go/internal/wsframe"
)

// Defaults are the process-wide fallback timer intervals (seconds; 0
// disables that class) applied to a connection that doesn't set its own.
type Defaults struct {
	ReadSecs  int64
	IdleSecs  int64
	PingSecs  int64
	CloseSecs int64
	LifeSecs  int64 // how long the process lingers with zero connections before exiting
	WakeSecs  int64
}

// entry is one tracked Connection plus the watchdog-private bookkeeping
// that doesn't belong on wsframe.Connection itself.
type entry struct {
	conn *wsframe.Connection
}

// Watchdog is the process-wide registry + 1 Hz ticker. The registry is the
// authoritative membership: a Connection is inserted on Add and removed on
// Remove (normally driven by the Connection's OnDestroy callback).
type Watchdog struct {
	mu       sync.Mutex
	conns    map[*wsframe.Connection]*entry
	defaults Defaults
	log      zerolog.Logger

	exitDeadline int64 // 0 = unset
	wakeDeadline int64
	onGlobalWake func()
	onExit       func() // overridable for tests; defaults to os.Exit(0)

	ticker *time.Ticker
	stop   chan struct{}
}

// New builds a Watchdog with the given defaults. Call Run to start the 1 Hz
// tick in a background goroutine.
func New(defaults Defaults, log zerolog.Logger) *Watchdog {
	return &Watchdog{
		conns:    make(map[*wsframe.Connection]*entry),
		defaults: defaults,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// OnExit overrides the process-exit action (tests substitute a no-op).
func (w *Watchdog) OnExit(f func()) { w.onExit = f }

// OnGlobalWake installs the global wake callback fired by the
// wake-global-deadline timer.
func (w *Watchdog) OnGlobalWake(f func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onGlobalWake = f
	if f != nil && w.defaults.WakeSecs > 0 {
		w.wakeDeadline = time.Now().Unix() + w.defaults.WakeSecs
	}
}

// Add registers a connection, applying any zero-valued timer fields from
// the process defaults, and arms its read/idle/ping deadlines.
func (w *Watchdog) Add(c *wsframe.Connection) {
	now := time.Now().Unix()

	if c.ReadSecs == 0 {
		c.ReadSecs = w.defaults.ReadSecs
	}
	if c.IdleSecs == 0 {
		c.IdleSecs = w.defaults.IdleSecs
	}
	if c.PingSecs == 0 {
		c.PingSecs = w.defaults.PingSecs
	}
	if c.CloseSecs == 0 {
		c.CloseSecs = w.defaults.CloseSecs
	}
	if c.WakeSecs == 0 {
		c.WakeSecs = w.defaults.WakeSecs
	}
	if c.ReadSecs > 0 {
		c.ReadDeadline = now + c.ReadSecs
	}
	if c.IdleSecs > 0 {
		c.IdleDeadline = now + c.IdleSecs
	}
	if c.PingSecs > 0 {
		c.PingDeadline = now + c.PingSecs
	}
	if c.WakeSecs > 0 {
		c.WakeDeadline = now + c.WakeSecs
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.conns[c] = &entry{conn: c}
	w.exitDeadline = 0
}

// Remove drops a connection from the registry. Safe to call more than once.
func (w *Watchdog) Remove(c *wsframe.Connection) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.conns, c)
}

// Len reports how many connections are currently tracked.
func (w *Watchdog) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.conns)
}

// Run starts the 1 Hz ticker in a background goroutine. Call Stop to end
// it (tests call Stop; the real process just exits via onExit).
func (w *Watchdog) Run() {
	w.ticker = time.NewTicker(time.Second)
	go func() {
		for {
			select {
			case <-w.ticker.C:
				w.tick(time.Now().Unix())
			case <-w.stop:
				return
			}
		}
	}()
}

// Stop halts the ticker goroutine.
func (w *Watchdog) Stop() {
	if w.ticker != nil {
		w.ticker.Stop()
	}
	close(w.stop)
}

// tick runs one second's worth of §4.7 bookkeeping.
func (w *Watchdog) tick(now int64) {
	w.mu.Lock()
	n := len(w.conns)

	if n == 0 {
		if w.exitDeadline == 0 && w.defaults.LifeSecs > 0 {
			w.exitDeadline = now + w.defaults.LifeSecs
		}
		if w.exitDeadline != 0 && now >= w.exitDeadline {
			w.mu.Unlock()
			w.exit()
			return
		}
	} else {
		w.exitDeadline = 0
	}

	if w.wakeDeadline != 0 && now >= w.wakeDeadline && w.onGlobalWake != nil {
		cb := w.onGlobalWake
		if w.defaults.WakeSecs > 0 {
			w.wakeDeadline += w.defaults.WakeSecs - 1
		}
		w.mu.Unlock()
		cb()
		w.mu.Lock()
	}

	conns := make([]*wsframe.Connection, 0, len(w.conns))
	for c := range w.conns {
		conns = append(conns, c)
	}
	w.mu.Unlock()

	for _, c := range conns {
		w.tickConnection(c, now)
	}
}

func (w *Watchdog) tickConnection(c *wsframe.Connection, now int64) {
	switch c.State() {
	case wsframe.StateClosed:
		if c.CloseDeadline == 0 {
			secs := c.CloseSecs
			if secs == 0 {
				secs = w.defaults.CloseSecs
			}
			c.CloseDeadline = now + secs
		}
		if now >= c.CloseDeadline {
			w.log.Info().Msg("watchdog: forcing shut of lingering closed connection")
			_ = c.ForceShut()
		}
		return
	case wsframe.StateShut:
		return
	}

	switch {
	case c.ReadDeadline != 0 && now >= c.ReadDeadline:
		_ = c.Close(wsframe.ClosePolicy, "read wait exceeded")
	case c.IdleDeadline != 0 && now >= c.IdleDeadline:
		_ = c.Close(wsframe.ClosePolicy, "idle connection")
	case c.PingDeadline != 0 && now >= c.PingDeadline:
		c.PingCounter++
		payload := fmt.Sprintf("%d %d", c.PingCounter, now)
		if err := c.Ping([]byte(payload)); err != nil {
			w.log.Debug().Err(err).Msg("watchdog: ping failed")
		}
		if c.PingSecs > 0 {
			c.PingDeadline += c.PingSecs - 1
		}
	case c.WakeDeadline != 0 && now >= c.WakeDeadline:
		if c.Callbacks.OnWake != nil {
			c.Callbacks.OnWake(c)
		}
		if c.WakeSecs > 0 {
			c.WakeDeadline += c.WakeSecs - 1
		}
	}
}

func (w *Watchdog) exit() {
	w.log.Info().Msg("watchdog: no connections remain, exiting")
	if w.onExit != nil {
		w.onExit()
		return
	}
	exitProcess()
}
