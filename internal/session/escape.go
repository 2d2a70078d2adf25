// Package session implements the Session (spec.md §3/§4.8, component H)
// and Session Manager (component I): binding one wsframe.Connection to one
// pseudo-terminal, brokering bytes between them, multiplexing the in-band
// control escape sequence, and running the periodic management pass.
package session

import (
	"bytes"
	"fmt"
)

// Magic is the fixed prefix shared by every in-band control message (§6):
// CR, STX, the ASCII word "DCLinabox", ETX, CR, backslash — 14 bytes,
// followed by a single ASCII digit code as the 15th byte (spec.md §6 labels
// this the "11-byte magic prefix", counting only the literal word plus its
// surrounding control bytes; the wire format matches the explicit byte list
// there, reproduced verbatim below).
var Magic = []byte{0x0D, 0x02, 'D', 'C', 'L', 'i', 'n', 'a', 'b', 'o', 'x', 0x03, 0x0D, 0x5C}

// Escape codes, the single ASCII digit immediately following Magic (§6).
const (
	EscVersion     = '1' // S->C: version announcement
	EscTitle       = '2' // S->C: set terminal title
	EscTerminate   = '3' // S->C: process terminated abruptly
	EscResize      = '4' // C->S request / S->C ack: <cols>x<rows>
	EscLogout      = '5' // S->C: clean logout
	EscAlert       = '6' // S->C: alert (browser dialog)
)

// BuildEscape assembles one in-band control message: magic + code + tail.
func BuildEscape(code byte, tail string) []byte {
	buf := make([]byte, 0, len(Magic)+1+len(tail))
	buf = append(buf, Magic...)
	buf = append(buf, code)
	buf = append(buf, tail...)
	return buf
}

// SplitEscape reports whether b begins with the magic prefix and, if so,
// returns the code byte and the tail payload.
func SplitEscape(b []byte) (code byte, tail []byte, ok bool) {
	if len(b) < len(Magic)+1 || !bytes.HasPrefix(b, Magic) {
		return 0, nil, false
	}
	return b[len(Magic)], b[len(Magic)+1:], true
}

// ParseResize parses a `<cols>x<rows>` decimal tail, used both for the
// client's resize request and the server's ack.
func ParseResize(tail []byte) (cols, rows int, ok bool) {
	var c, r int
	n, err := fmt.Sscanf(string(tail), "%dx%d", &c, &r)
	if err != nil || n != 2 {
		return 0, 0, false
	}
	return c, r, true
}

// FormatResize renders a `<cols>x<rows>` tail.
func FormatResize(cols, rows int) string {
	return fmt.Sprintf("%dx%d", cols, rows)
}

// Resize clamp bounds, per §4.8 ("cols clamped to [48, 511], rows to
// [10, 255]; out-of-range silently ignored").
const (
	minCols = 48
	maxCols = 511
	minRows = 10
	maxRows = 255
)

// validResize reports whether (cols, rows) falls in the accepted range;
// out-of-range requests are silently ignored rather than clamped in place,
// matching §4.8's literal wording.
func validResize(cols, rows int) bool {
	return cols >= minCols && cols <= maxCols && rows >= minRows && rows <= maxRows
}
