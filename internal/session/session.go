package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gregnietsky/dclinabox-go/internal/wsframe"
)

func unixNow() int64 { return time.Now().Unix() }

// Terminal is the pseudo-terminal endpoint a Session brokers bytes with
// (spec.md §1's "pseudo-terminal endpoint (read/write/resize/cancel/close)").
// *ptyio.Terminal implements it; tests substitute an in-memory fake.
type Terminal interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Resize(cols, rows uint16) error
	Size() (cols, rows uint16, err error)
	Cancel() error
	Close() error
	Pid() int
}

// Identity is the set of request-derived labels a Session carries (§3).
type Identity struct {
	HostName   string // as seen by the client (HTTP_HOST)
	RemoteUser string
	SSO        bool
}

// Session binds one wsframe.Connection to one pseudo-terminal (§3/§4.8).
type Session struct {
	ID       string
	Identity Identity
	Conn     *wsframe.Connection
	Term     Terminal

	log zerolog.Logger

	mu sync.Mutex

	clientInputCount uint64
	lastInputAt      int64

	idleDeadline int64
	warnDeadline int64
	alerted      bool

	logoutCountdown int

	processName string
	newSession  bool

	closeOnce sync.Once
	done      chan struct{}
}

// New builds a Session over an already-admitted Connection and an already
// started Terminal. Call Run to start brokering bytes.
func New(conn *wsframe.Connection, term Terminal, id Identity, log zerolog.Logger) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		Identity:   id,
		Conn:       conn,
		Term:       term,
		newSession: true,
		done:       make(chan struct{}),
	}
	s.lastInputAt = unixNow()
	s.log = log.With().Str("session_id", s.ID).Str("user", id.RemoteUser).Logger()
	conn.UserData = s
	return s
}

// Run starts the byte-brokering pumps and blocks until both directions end.
// On return the Session is fully torn down: the Connection has been closed
// (if it wasn't already) and the Terminal has been closed.
func (s *Session) Run() {
	if !s.Identity.SSO {
		// Elicit the login prompt with one unsolicited CR (§4.8).
		_, _ = s.Term.Write([]byte{'\r'})
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.pumpTerminalToClient()
	}()
	go func() {
		defer wg.Done()
		s.pumpClientToTerminal()
	}()

	wg.Wait()
	s.teardown()
}

// pumpTerminalToClient reads from the terminal and forwards raw output to
// the client as a single WebSocket message per read.
func (s *Session) pumpTerminalToClient() {
	buf := make([]byte, 8192)
	for {
		n, err := s.Term.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			s.watchForLogout(chunk)
			if werr := s.Conn.WriteMessage(append([]byte(nil), chunk...)); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// pumpClientToTerminal reads messages from the client, dispatching in-band
// control escapes (§6) and writing everything else to the terminal.
func (s *Session) pumpClientToTerminal() {
	for {
		data, _, err := s.Conn.ReadMessage(nil, 0)
		if err != nil {
			return
		}

		if code, tail, ok := SplitEscape(data); ok {
			s.handleControl(code, tail)
			continue
		}

		s.noteClientInput()
		if _, err := s.Term.Write(data); err != nil {
			return
		}
	}
}

func (s *Session) handleControl(code byte, tail []byte) {
	switch code {
	case EscResize:
		cols, rows, ok := ParseResize(tail)
		if !ok || !validResize(cols, rows) {
			return
		}
		if err := s.Term.Resize(uint16(cols), uint16(rows)); err != nil {
			s.log.Debug().Err(err).Msg("session: resize failed")
			return
		}
		actualCols, actualRows, err := s.Term.Size()
		if err != nil {
			actualCols, actualRows = uint16(cols), uint16(rows)
		}
		ack := BuildEscape(EscResize, FormatResize(int(actualCols), int(actualRows)))
		_ = s.Conn.WriteMessage(ack)
	default:
		// every other code is server->client only; a client sending one
		// is simply ignored.
	}
}

func (s *Session) noteClientInput() {
	atomic.AddUint64(&s.clientInputCount, 1)
	atomic.StoreInt64(&s.lastInputAt, unixNow())
	s.mu.Lock()
	s.logoutCountdown = 0 // any keystroke resets the countdown (§4.8)
	s.mu.Unlock()
}

// ClientInputCount returns the number of client->terminal writes observed.
// The Session Manager's idle tracking uses LastInputAt, not this count.
func (s *Session) ClientInputCount() uint64 {
	return atomic.LoadUint64(&s.clientInputCount)
}

// LastInputAt returns the unix-second timestamp of the most recent
// client->terminal write (or Session creation time, if none yet).
func (s *Session) LastInputAt() int64 {
	return atomic.LoadInt64(&s.lastInputAt)
}

func (s *Session) watchForLogout(chunk []byte) {
	if DetectLogout(chunk) {
		s.mu.Lock()
		s.logoutCountdown = 10
		s.mu.Unlock()
	}
}

// tickLogoutCountdown decrements the countdown once per Session Manager
// pass (§4.8: "Any further keystroke input resets the countdown").
func (s *Session) tickLogoutCountdown() {
	s.mu.Lock()
	if s.logoutCountdown > 0 {
		s.logoutCountdown--
	}
	s.mu.Unlock()
}

func (s *Session) logoutPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logoutCountdown > 0
}

// teardown is run exactly once, after both pumps have returned: it decides
// between the clean-logout and abrupt-terminate escapes, closes the
// terminal, and closes the Connection if the client side hadn't already.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		clean := s.logoutPending()

		if s.Conn.State() == wsframe.StateOpen {
			if clean {
				_ = s.Conn.WriteMessage(BuildEscape(EscLogout, ""))
			} else {
				_ = s.Conn.WriteMessage(BuildEscape(EscTerminate, ""))
			}
			_ = s.Conn.Close(wsframe.CloseNormal, "session ended")
		}

		_ = s.Term.Close()
		close(s.done)
	})
}

// Done returns a channel closed once teardown has completed.
func (s *Session) Done() <-chan struct{} { return s.done }

// SendAlert pushes a browser-dialog alert to the client (§4.8's broadcast
// alert / idle warning path).
func (s *Session) SendAlert(message string) error {
	if s.Conn.State() != wsframe.StateOpen {
		return errors.New("session: connection not open")
	}
	return s.Conn.WriteMessage(BuildEscape(EscAlert, message))
}

// SendTitle pushes a title update, in the
// "DCLinabox: <http-host> <node>:: <user> [\"<process-name>\"]" shape (§4.8).
func (s *Session) SendTitle(node string) error {
	proc := s.ProcessName()
	label := fmt.Sprintf("DCLinabox: %s %s:: %s", s.Identity.HostName, node, s.Identity.RemoteUser)
	if proc != "" {
		label += fmt.Sprintf(" %q", proc)
	}
	return s.Conn.WriteMessage(BuildEscape(EscTitle, label))
}

// SendVersion pushes the version-announcement escape, sent once at admit.
func (s *Session) SendVersion(version string) error {
	return s.Conn.WriteMessage(BuildEscape(EscVersion, version))
}

// SendText writes plain text straight to the client's terminal, bypassing
// the escape protocol entirely (§6's announce banner: lines of ordinary
// terminal output, not an alert dialog).
func (s *Session) SendText(text string) error {
	if s.Conn.State() != wsframe.StateOpen {
		return errors.New("session: connection not open")
	}
	return s.Conn.WriteMessage([]byte(text))
}

// ProcessName returns the last process-name snapshot taken by the Session
// Manager.
func (s *Session) ProcessName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processName
}

// setProcessName updates the snapshot, returning true if it changed.
func (s *Session) setProcessName(name string) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = name != s.processName
	s.processName = name
	return changed
}

// firstObservation reports true exactly once: the first time the Session
// Manager sees this session, then clears the flag.
func (s *Session) firstObservation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.newSession {
		s.newSession = false
		return true
	}
	return false
}

// idleState exposes the cached idle/warn deadlines and alerted flag to the
// Session Manager; zero deadlines mean "not yet computed".
func (s *Session) idleState() (idle, warn int64, alerted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleDeadline, s.warnDeadline, s.alerted
}

func (s *Session) setIdleState(idle, warn int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleDeadline, s.warnDeadline = idle, warn
}

func (s *Session) setAlerted(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerted = v
}

func (s *Session) markUnalerted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.newSession { // never un-alert a session that hasn't been observed yet
		s.alerted = false
	}
}
