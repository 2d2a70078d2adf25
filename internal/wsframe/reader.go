package wsframe

import (
	"errors"
	"fmt"
	"io"
)

// ErrOverflow is returned when a message would exceed ReadMessage's cap: the
// max argument for a dynamically-assembled message, len(buf) otherwise.
var ErrOverflow = errors.New("message exceeds input-data-max")

// messageState is the in-progress reassembly of one message (§3 "Message").
// Its UTF-8 DFA state belongs to the message, not any one frame: it
// persists across fragment boundaries.
type messageState struct {
	opcode    Opcode
	utf8State uint32
	count     uint32
}

// ReadMessage reads exactly one message (§4.4). If buf is non-nil, it is
// filled in place (dynamic buffering is not used) and max is ignored; if
// buf is nil, the connection grows its own buffer up to max bytes (0 means
// the 2^32-1 ceiling). The returned slice aliases the caller's buf, or the
// connection's dynamic buffer (retrievable again, or reclaimed by the next
// call, unless Grab is used first).
//
// Ping/pong/close frames are consumed transparently: pings are answered
// with a pong and reading continues; pongs invoke the OnPong callback and
// reading continues; a close frame ends the read with io.EOF after running
// the close handshake.
func (c *Connection) ReadMessage(buf []byte, max uint32) ([]byte, Opcode, error) {
	if max == 0 {
		max = maxPayloadLen
	}

	var msg messageState
	var dynBuf []byte
	fixed := buf != nil

	headerScratch := make([]byte, 14)

	for {
		hdr, err := c.readHeader(headerScratch)
		if err != nil {
			return nil, 0, err
		}

		switch hdr.Opcode {
		case OpPing:
			payload, err := c.readControlPayload(hdr)
			if err != nil {
				return nil, 0, err
			}
			c.touchReadTimers(now())
			if err := c.pong(payload); err != nil {
				return nil, 0, err
			}
			continue

		case OpPong:
			payload, err := c.readControlPayload(hdr)
			if err != nil {
				return nil, 0, err
			}
			c.touchReadTimers(now())
			if c.Callbacks.OnPong != nil {
				c.Callbacks.OnPong(c, payload)
			}
			continue

		case OpClose:
			payload, err := c.readControlPayload(hdr)
			if err != nil {
				return nil, 0, err
			}
			c.handlePeerClose(payload)
			return nil, OpClose, io.EOF

		case OpText, OpBinary:
			if msg.count != 0 || dynBuf != nil {
				// a data frame with a non-continuation opcode while a
				// message is already in progress is a protocol error
				perr := &ProtocolError{Reason: "data frame opcode while message in progress"}
				_ = c.Close(CloseProtocol, perr.Reason)
				c.reportError("ReadMessage", perr)
				return nil, 0, perr
			}
			msg.opcode = hdr.Opcode
			if msg.opcode == OpText {
				msg.utf8State = Utf8Accept
			}

		case OpContinuation:
			if msg.count == 0 && dynBuf == nil {
				perr := &ProtocolError{Reason: "continuation frame with no message in progress"}
				_ = c.Close(CloseProtocol, perr.Reason)
				c.reportError("ReadMessage", perr)
				return nil, 0, perr
			}

		default:
			perr := &ProtocolError{Reason: fmt.Sprintf("unknown opcode 0x%x", byte(hdr.Opcode))}
			_ = c.Close(CloseProtocol, perr.Reason)
			return nil, 0, perr
		}

		// Data frame: read payload into the destination buffer.
		if fixed {
			if uint64(msg.count)+hdr.PayloadLen > uint64(len(buf)) {
				_ = c.completeOverflow()
				return nil, 0, ErrOverflow
			}
		} else if uint64(msg.count)+hdr.PayloadLen > uint64(max) {
			_ = c.completeOverflow()
			return nil, 0, ErrOverflow
		}

		var dst []byte
		if fixed {
			dst = buf[msg.count : uint64(msg.count)+hdr.PayloadLen]
		} else {
			dynBuf = append(dynBuf, make([]byte, hdr.PayloadLen)...)
			dst = dynBuf[msg.count:]
		}

		if err := c.readPayload(hdr, dst, &msg); err != nil {
			return nil, 0, err
		}
		msg.count += uint32(hdr.PayloadLen)
		c.touchReadTimers(now())

		if !hdr.Fin {
			continue
		}

		if msg.opcode == OpText && msg.utf8State != Utf8Accept {
			perr := &ProtocolError{Reason: "UTF-8 illegal"}
			_ = c.Close(CloseData, perr.Reason)
			c.reportError("ReadMessage", perr)
			return nil, 0, perr
		}

		c.mu.Lock()
		c.BytesIn += uint64(msg.count)
		c.MessagesIn++
		c.mu.Unlock()

		var result []byte
		if fixed {
			result = buf[:msg.count]
		} else {
			result = dynBuf[:msg.count]
			c.lastDynamicBuf = result
		}

		if msg.opcode == OpText {
			result = c.transcodeIn(result)
		}

		return result, msg.opcode, nil
	}
}

// readHeader reads and decodes one frame header, looping through short
// reads as necessary (§4.3 "transports can short-read").
func (c *Connection) readHeader(scratch []byte) (Header, error) {
	serverRole := c.Role == RoleServer

	if _, err := c.Transport.ReadFull(scratch[:2]); err != nil {
		return Header{}, c.transportError(err)
	}

	need := HeaderLen(scratch[0], scratch[1]) - 2
	if need > 0 {
		if _, err := c.Transport.ReadFull(scratch[2 : 2+need]); err != nil {
			return Header{}, c.transportError(err)
		}
	}

	hdr, _, ok, err := DecodeHeader(scratch[:2+need], serverRole)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			_ = c.Close(CloseProtocol, perr.Reason)
			c.reportError("readHeader", perr)
		}
		return Header{}, err
	}
	if !ok {
		// HeaderLen precomputed the exact length we read, so this should
		// not happen; treat it defensively as a short read.
		return Header{}, io.ErrUnexpectedEOF
	}
	return hdr, nil
}

// readControlPayload reads a control frame's (<=125 byte) payload, applying
// the mask if present.
func (c *Connection) readControlPayload(hdr Header) ([]byte, error) {
	payload := make([]byte, hdr.PayloadLen)
	if hdr.PayloadLen > 0 {
		if _, err := c.Transport.ReadFull(payload); err != nil {
			return nil, c.transportError(err)
		}
		if hdr.Masked {
			MaskInto(payload, payload, hdr.MaskKey, 0)
		}
	}
	return payload, nil
}

// readPayload reads hdr.PayloadLen bytes into dst in chunks of at most
// input-mrs, unmasking (and, for text messages, UTF-8-validating) each
// chunk as it arrives so illegal UTF-8 fast-fails without buffering the
// rest of the message.
func (c *Connection) readPayload(hdr Header, dst []byte, msg *messageState) error {
	chunk := c.inputChunk()
	cursor := 0
	for cursor < len(dst) {
		n := len(dst) - cursor
		if n > chunk {
			n = chunk
		}
		region := dst[cursor : cursor+n]
		if _, err := c.Transport.ReadFull(region); err != nil {
			return c.transportError(err)
		}

		if hdr.Masked {
			MaskInto(region, region, hdr.MaskKey, cursor)
		}

		if msg.opcode == OpText {
			for _, b := range region {
				msg.utf8State = Utf8Feed(msg.utf8State, b)
				if msg.utf8State == Utf8Reject {
					perr := &ProtocolError{Reason: "UTF-8 illegal"}
					_ = c.Close(CloseData, perr.Reason)
					c.reportError("readPayload", perr)
					return perr
				}
			}
		}

		cursor += n
	}
	return nil
}

func (c *Connection) completeOverflow() error {
	return c.Close(CloseData, "message too large")
}

// transportError maps a transport-level failure to the "brutal" abrupt
// close path (§7): no close frame, straight to shut.
func (c *Connection) transportError(err error) error {
	if err == nil {
		return nil
	}
	_ = c.Close(CloseAbrupt, "")
	c.reportError("transport", err)
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return err
}

// Grab transfers ownership of the most recently assembled dynamic buffer to
// the caller. It must be called at most once per message that used dynamic
// buffering; calling it with nothing to grab is a usage bug.
func (c *Connection) Grab() []byte {
	if c.lastDynamicBuf == nil {
		panic("wsframe: Grab called with no dynamic buffer to grab")
	}
	b := c.lastDynamicBuf
	c.lastDynamicBuf = nil
	return b
}

// transcodeIn applies the read-direction half of §4.4's content-mode
// transcoding: in ContentAscii mode, 2-byte UTF-8 sequences whose code
// point fits in 8 bits collapse to one byte; anything else multibyte is
// substituted or dropped per AsciiSubstitute. ContentUTF8/ContentBinary
// pass bytes through unchanged.
func (c *Connection) transcodeIn(b []byte) []byte {
	if c.ContentMode != ContentAscii {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); {
		r := b[i]
		switch {
		case r < 0x80:
			out = append(out, r)
			i++
		case r&0xE0 == 0xC0 && i+1 < len(b):
			cp := (rune(r&0x1F) << 6) | rune(b[i+1]&0x3F)
			if cp <= 0xFF {
				out = append(out, byte(cp))
			} else if c.AsciiSubstitute != 0 {
				out = append(out, c.AsciiSubstitute)
			}
			i += 2
		case r&0xF0 == 0xE0 && i+2 < len(b):
			if c.AsciiSubstitute != 0 {
				out = append(out, c.AsciiSubstitute)
			}
			i += 3
		case r&0xF8 == 0xF0 && i+3 < len(b):
			if c.AsciiSubstitute != 0 {
				out = append(out, c.AsciiSubstitute)
			}
			i += 4
		default:
			// structurally invalid despite passing the front-end
			// validator: cannot happen for text messages (DFA already
			// rejected it), but guard defensively for binary-as-ascii use.
			out = append(out, r)
			i++
		}
	}
	return out
}
