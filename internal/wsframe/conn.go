package wsframe

import (
	"sync"
	"time"
)

// Role determines whether a Connection's outgoing frames are masked, and
// whether its incoming frames are required to be masked.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// ContentMode selects how text messages are represented to the caller.
// See §4.4's "content-mode transcoding" for the ascii<->UTF-8 rules.
type ContentMode int

const (
	// ContentAscii: caller I/O is opaque single-byte text; the wire still
	// carries UTF-8 `text` frames, transcoded at the boundary.
	ContentAscii ContentMode = iota
	// ContentUTF8: caller I/O is UTF-8 text, passed through as `text` frames.
	ContentUTF8
	// ContentBinary: caller I/O is opaque bytes, carried as `binary` frames.
	ContentBinary
)

// State is the Connection's monotonic lifecycle state (§4.6).
type State int

const (
	StateOpen State = iota
	StateClosed
	StateShut
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateShut:
		return "shut"
	default:
		return "unknown"
	}
}

// Standard close status codes used by this package (§7).
const (
	CloseNormal   uint16 = 1000
	CloseByeBye   uint16 = 1001
	CloseProtocol uint16 = 1002
	CloseData     uint16 = 1007
	ClosePolicy   uint16 = 1008
)

// CloseAbrupt is the "bang" sentinel: Close(CloseAbrupt, "") skips writing a
// close frame entirely and jumps straight toward shut, used for transport
// errors where there is no peer left to negotiate with.
const CloseAbrupt uint16 = 0

// Callbacks installed by the owner of a Connection (typically a Session).
type Callbacks struct {
	// OnDestroy fires once, from the goroutine that drives the connection
	// into StateShut, after transport handles are released.
	OnDestroy func(c *Connection)
	// OnMessageError is observational (§7): invoked with the detection
	// site and a formatted description; it never influences control flow.
	OnMessageError func(c *Connection, site string, err error)
	// OnPong fires when a pong frame completes a round trip.
	OnPong func(c *Connection, payload []byte)
	// OnWake fires when the wake-deadline timer expires.
	OnWake func(c *Connection)
}

// Connection is one live WebSocket peer: transport + framing state +
// lifecycle. See spec.md §3 for the full invariant list.
type Connection struct {
	Role        Role
	ContentMode ContentMode

	// AsciiSubstitute is emitted in place of an out-of-range multibyte
	// sequence when ContentMode == ContentAscii; 0 means "drop silently".
	// Exposed explicitly per SPEC_FULL.md's resolution of the ascii
	// out-of-range Open Question.
	AsciiSubstitute byte

	Transport *Transport

	FrameMax      uint32 // max payload per emitted frame before fragmentation (0 = unbounded)
	InputDataMax  uint32 // not consulted by ReadMessage: its max argument alone caps a dynamically-assembled message
	InputChunk    int    // max bytes read per payload chunk (input-mrs); 0 = default
	OutputChunk   int    // max bytes written per payload chunk (output-mrs); 0 = default

	Callbacks Callbacks
	UserData  any

	mu    sync.Mutex
	state State

	// Timers: wall-clock unix seconds; 0 = disabled. Owned by the watchdog,
	// but live here so the watchdog can treat Connection as plain state.
	ReadDeadline  int64
	IdleDeadline  int64
	PingDeadline  int64
	CloseDeadline int64
	WakeDeadline  int64

	ReadSecs  int64
	IdleSecs  int64
	PingSecs  int64
	CloseSecs int64
	WakeSecs  int64

	PingCounter uint64

	BytesIn     uint64
	BytesOut    uint64
	MessagesIn  uint64
	MessagesOut uint64

	writeMu sync.Mutex // serializes frame emission so writes land on the wire in submission order

	closeSent     bool
	closeReceived bool
	closeWaiting  bool // true once we've written our close frame and are only waiting on the peer's

	lastDynamicBuf []byte // set after a dynamically-buffered read completes, until grabbed
}

const defaultChunk = 4096

// NewConnection builds a Connection in state open, wired to t.
func NewConnection(t *Transport, role Role, mode ContentMode) *Connection {
	return &Connection{
		Role:        role,
		ContentMode: mode,
		Transport:   t,
		state:       StateOpen,
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) inputChunk() int {
	if c.InputChunk > 0 {
		return c.InputChunk
	}
	return defaultChunk
}

func (c *Connection) outputChunk() int {
	if c.OutputChunk > 0 {
		return c.OutputChunk
	}
	return defaultChunk
}

// touchReadTimers bumps read/idle deadlines forward on every successfully
// completed frame, per §4.7 ("each completed successful read... bumps
// read-deadline and idle-deadline forward by their respective intervals").
func (c *Connection) touchReadTimers(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReadSecs > 0 {
		c.ReadDeadline = now + c.ReadSecs
	}
	if c.IdleSecs > 0 {
		c.IdleDeadline = now + c.IdleSecs
	}
}

// Close begins the open->closed transition (§4.6). code==CloseAbrupt skips
// the close frame and shuts down immediately ("brutal" path); otherwise a
// close frame is written and, for the codes that expect a peer reply
// (Normal/ByeBye/Policy), the reader keeps consuming frames until the
// peer's close arrives.
func (c *Connection) Close(code uint16, reason string) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	abrupt := code == CloseAbrupt
	c.mu.Unlock()

	if abrupt {
		return c.shutdown()
	}

	if err := c.writeCloseFrame(code, reason); err != nil {
		return c.shutdown()
	}

	c.mu.Lock()
	c.closeSent = true
	switch code {
	case CloseNormal, CloseByeBye, ClosePolicy:
		c.closeWaiting = true
		c.mu.Unlock()
		return nil
	default: // PROTOCOL, DATA, and anything unusual begin shut immediately
		c.mu.Unlock()
		return c.shutdown()
	}
}

func (c *Connection) writeCloseFrame(code uint16, reason string) error {
	if len(reason) > 123 {
		reason = reason[:123]
	}
	payload := make([]byte, 0, 2+len(reason))
	if code != CloseAbrupt {
		payload = append(payload, byte(code>>8), byte(code))
		payload = append(payload, reason...)
	}
	return c.writeFrame(OpClose, payload)
}

// handlePeerClose processes an incoming close frame: replies in kind (if we
// haven't already sent our own close) and begins shutdown.
func (c *Connection) handlePeerClose(payload []byte) (code uint16, reason string) {
	if len(payload) >= 2 {
		code = uint16(payload[0])<<8 | uint16(payload[1])
		if len(payload) > 2 {
			n := len(payload) - 2
			if n > 123 {
				n = 123
			}
			reason = string(payload[2 : 2+n])
		}
	}

	c.mu.Lock()
	c.closeReceived = true
	alreadyClosed := c.state != StateOpen
	wasWaiting := c.closeWaiting
	c.state = StateClosed
	c.mu.Unlock()

	if !alreadyClosed || !wasWaiting {
		_ = c.writeFrame(OpClose, nil)
	}

	_ = c.shutdown()
	return code, reason
}

// ForceShut drives the connection directly into StateShut, bypassing the
// close-frame handshake. This is what the watchdog calls to enforce
// close-secs (§4.7): a connection that has sat in StateClosed too long must
// be shut unconditionally, which plain Close cannot do since Close only
// acts from StateOpen.
func (c *Connection) ForceShut() error {
	return c.shutdown()
}

// shutdown performs the closed->shut transition at once: it cancels reads,
// writes EOF downstream in server role, releases the transport, and calls
// OnDestroy. It does not wait for the transport's queued read/write counters
// to reach zero; in-flight I/O is unblocked by the cancel and close.
func (c *Connection) shutdown() error {
	c.mu.Lock()
	if c.state == StateShut {
		c.mu.Unlock()
		return nil
	}
	c.state = StateShut
	c.mu.Unlock()

	c.Transport.CancelReads()
	if c.Role == RoleServer {
		_ = c.Transport.PostWriteOf()
	}
	err := c.Transport.Close()

	if c.Callbacks.OnDestroy != nil {
		c.Callbacks.OnDestroy(c)
	}
	return err
}

// writeFrame emits a single complete (fin=1) frame, masking it if this
// connection is in the client role. Used directly for control frames;
// MessageWriter handles fragmentation of data frames.
func (c *Connection) writeFrame(op Opcode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	masked := c.Role == RoleClient
	var key [4]byte
	out := payload
	if masked {
		key = NewMaskKey()
		out = make([]byte, len(payload))
		MaskInto(out, payload, key, 0)
	}

	hdr := EncodeHeader(op, true, masked, key, len(payload))
	if len(payload) <= maxControlPayload {
		buf := append(hdr, out...)
		_, err := c.Transport.Write(buf)
		return err
	}
	if _, err := c.Transport.Write(hdr); err != nil {
		return err
	}
	_, err := c.Transport.Write(out)
	return err
}

// Ping emits a ping frame. payload should be <=125 bytes (§6's heartbeat
// format: "<counter> <unix-seconds>").
func (c *Connection) Ping(payload []byte) error {
	if c.State() != StateOpen {
		return nil
	}
	return c.writeFrame(OpPing, payload)
}

func (c *Connection) pong(payload []byte) error {
	return c.writeFrame(OpPong, payload)
}

func (c *Connection) reportError(site string, err error) {
	if c.Callbacks.OnMessageError != nil {
		c.Callbacks.OnMessageError(c, site, err)
	}
}

func now() int64 { return time.Now().Unix() }
