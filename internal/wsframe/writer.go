package wsframe

import "errors"

// ErrNotOpen is returned by WriteMessage when the connection is
// not in state open; §4.6 forbids writing data frames once closed.
var ErrNotOpen = errors.New("wsframe: connection is not open")

// WriteMessage sends data as one logical message, splitting it into frames
// of at most FrameMax payload bytes (§4.5). The opcode is derived from the
// connection's content-mode: binary mode emits `binary` frames, ascii/utf8
// emit `text` frames (after the write-direction half of §4.4's transcoding).
// The caller's slice is never mutated, even when masking (client role).
func (c *Connection) WriteMessage(data []byte) error {
	if c.State() != StateOpen {
		return ErrNotOpen
	}

	op := OpBinary
	wire := data
	if c.ContentMode != ContentBinary {
		op = OpText
		wire = c.transcodeOut(data)
	}
	return c.writeFragmented(op, wire)
}

// transcodeOut applies the write-direction half of §4.4's ascii
// transcoding: bytes >= 0x80 are emitted as 2-byte UTF-8 sequences. UTF-8
// and binary modes pass bytes through unchanged.
func (c *Connection) transcodeOut(b []byte) []byte {
	if c.ContentMode != ContentAscii {
		return b
	}
	needsWork := false
	for _, x := range b {
		if x >= 0x80 {
			needsWork = true
			break
		}
	}
	if !needsWork {
		return b
	}
	out := make([]byte, 0, len(b))
	for _, x := range b {
		if x < 0x80 {
			out = append(out, x)
			continue
		}
		out = append(out, 0xC0|(x>>6), 0x80|(x&0x3F))
	}
	return out
}

// writeFragmented splits wire into frames of at most FrameMax bytes and
// serializes them onto the transport in order. Frames whose payload is
// <=125 bytes are coalesced with their header into a single transport
// write; larger frames write the header then stream the payload in
// chunks of at most output-mrs.
func (c *Connection) writeFragmented(op Opcode, wire []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	frameMax := int(c.FrameMax)
	if frameMax <= 0 {
		frameMax = len(wire)
		if frameMax == 0 {
			frameMax = 1
		}
	}

	masked := c.Role == RoleClient
	first := true
	offset := 0
	total := len(wire)

	for {
		end := offset + frameMax
		if end > total {
			end = total
		}
		fin := end == total
		payload := wire[offset:end]

		frameOp := op
		if !first {
			frameOp = OpContinuation
		}

		if err := c.writeOneFrame(frameOp, payload, fin, masked); err != nil {
			_ = c.Close(CloseAbrupt, "")
			c.reportError("WriteMessage", err)
			return err
		}

		first = false
		offset = end
		if fin {
			break
		}
	}

	c.mu.Lock()
	c.BytesOut += uint64(total)
	c.MessagesOut++
	c.mu.Unlock()
	return nil
}

// writeOneFrame emits a single frame, masking into a scratch buffer (never
// mutating payload) when masked is set.
func (c *Connection) writeOneFrame(op Opcode, payload []byte, fin, masked bool) error {
	var key [4]byte
	out := payload
	if masked {
		key = NewMaskKey()
		out = make([]byte, len(payload))
		MaskInto(out, payload, key, 0)
	}

	hdr := EncodeHeader(op, fin, masked, key, len(payload))
	if len(payload) <= maxControlPayload {
		buf := append(hdr, out...)
		_, err := c.Transport.Write(buf)
		return err
	}

	if _, err := c.Transport.Write(hdr); err != nil {
		return err
	}

	chunk := c.outputChunk()
	for off := 0; off < len(out); off += chunk {
		end := off + chunk
		if end > len(out) {
			end = len(out)
		}
		if _, err := c.Transport.Write(out[off:end]); err != nil {
			return err
		}
	}
	return nil
}
