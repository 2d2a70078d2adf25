package wsframe

import (
	"io"
	"sync/atomic"
	"time"
)

// deadliner is implemented by transports (e.g. *net.TCPConn) that can
// unblock an in-flight read, used by CancelReads.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// halfCloser is implemented by transports that can signal end-of-output
// without tearing down the read side (e.g. *net.TCPConn.CloseWrite).
type halfCloser interface {
	CloseWrite() error
}

// Transport owns the two byte pipes backing one Connection: an input and an
// output stream, which may be the same underlying object (e.g. one
// net.Conn) or two independent half-duplex pipes (as the CGI harness
// hands over). It tracks how many reads/writes are currently in flight so
// §5's queued-input/queued-output invariants are observable, and exposes
// cancellation/half-close for the shutdown sequence in §4.6.
type Transport struct {
	in  io.ReadCloser
	out io.WriteCloser

	queuedInput  int32
	queuedOutput int32
}

// NewTransport builds a Transport over one input and one output pipe. If in
// and out are the same object (a single bidirectional connection), pass it
// for both.
func NewTransport(in io.ReadCloser, out io.WriteCloser) *Transport {
	return &Transport{in: in, out: out}
}

// QueuedInput returns the number of reads currently posted but not yet
// completed. Never negative.
func (t *Transport) QueuedInput() int32 { return atomic.LoadInt32(&t.queuedInput) }

// QueuedOutput returns the number of writes currently posted but not yet
// completed. Never negative.
func (t *Transport) QueuedOutput() int32 { return atomic.LoadInt32(&t.queuedOutput) }

// Read fills buf from the input pipe, looping internally only as much as
// io.Reader's contract requires (short reads are the caller's problem to
// accumulate, mirroring the transport's indifference to WebSocket framing).
func (t *Transport) Read(buf []byte) (int, error) {
	atomic.AddInt32(&t.queuedInput, 1)
	defer atomic.AddInt32(&t.queuedInput, -1)
	return t.in.Read(buf)
}

// ReadFull reads exactly len(buf) bytes, looping through as many short
// reads as the underlying transport delivers.
func (t *Transport) ReadFull(buf []byte) (int, error) {
	atomic.AddInt32(&t.queuedInput, 1)
	defer atomic.AddInt32(&t.queuedInput, -1)
	return io.ReadFull(t.in, buf)
}

// Write pushes buf to the output pipe in full or returns an error.
func (t *Transport) Write(buf []byte) (int, error) {
	atomic.AddInt32(&t.queuedOutput, 1)
	defer atomic.AddInt32(&t.queuedOutput, -1)
	return writeFull(t.out, buf)
}

func writeFull(w io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// PostWriteOf signals end-of-output to the downstream pipe. Used only by
// the server-role shutdown sequence (§4.6); a transport that cannot
// half-close is left alone, since Close() will follow shortly anyway.
func (t *Transport) PostWriteOf() error {
	if hc, ok := t.out.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return nil
}

// CancelReads aborts any outstanding read on the input pipe. Transports
// that don't support read deadlines (e.g. a plain io.Pipe) are left to
// unblock via Close instead.
func (t *Transport) CancelReads() {
	if dl, ok := t.in.(deadliner); ok {
		_ = dl.SetReadDeadline(time.Now())
	}
}

// Close releases both pipe handles (once, when they are the same object).
// Close is attempted on both; the input side's error is returned if there
// is one, otherwise the output side's.
func (t *Transport) Close() error {
	errIn := t.in.Close()
	var errOut error
	if io.Closer(t.out) != io.Closer(t.in) {
		errOut = t.out.Close()
	}
	if errIn != nil {
		return errIn
	}
	return errOut
}
