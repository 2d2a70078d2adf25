package wsframe

import (
	"io"
	"net"
	"testing"
)

// pipePair returns two Connections joined by a net.Pipe: one in the server
// role, one in the client role, each ready for ReadMessage/WriteMessage.
func pipePair(t *testing.T) (server, client *Connection) {
	t.Helper()
	a, b := net.Pipe()
	server = NewConnection(NewTransport(a, a), RoleServer, ContentUTF8)
	client = NewConnection(NewTransport(b, b), RoleClient, ContentUTF8)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return server, client
}

// sendRawFrame builds one frame (masking it if masked is true, with the fixed
// key 11 22 33 44 so tests can predict the wire bytes) and writes it in a
// single conn.Write call.
func sendRawFrame(t *testing.T, conn net.Conn, op Opcode, fin bool, payload []byte, masked bool) {
	t.Helper()
	var key [4]byte
	wire := payload
	if masked {
		key = [4]byte{0x11, 0x22, 0x33, 0x44}
		wire = make([]byte, len(payload))
		MaskInto(wire, payload, key, 0)
	}
	hdr := EncodeHeader(op, fin, masked, key, len(payload))
	raw := append(append([]byte{}, hdr...), wire...)
	if _, err := conn.Write(raw); err != nil {
		t.Fatalf("sendRawFrame: %v", err)
	}
}

// readRawFrame decodes exactly one frame from r, unmasking its payload if
// masked, for tests that need to observe what a Connection wrote.
func readRawFrame(t *testing.T, r io.Reader) (Header, []byte) {
	t.Helper()
	first2 := make([]byte, 2)
	if _, err := io.ReadFull(r, first2); err != nil {
		t.Fatalf("readRawFrame: header: %v", err)
	}
	need := HeaderLen(first2[0], first2[1]) - 2
	rest := make([]byte, need)
	if need > 0 {
		if _, err := io.ReadFull(r, rest); err != nil {
			t.Fatalf("readRawFrame: header tail: %v", err)
		}
	}
	hdr, _, ok, err := DecodeHeader(append(first2, rest...), false)
	if err != nil || !ok {
		t.Fatalf("readRawFrame: decode: ok=%v err=%v", ok, err)
	}
	payload := make([]byte, hdr.PayloadLen)
	if hdr.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			t.Fatalf("readRawFrame: payload: %v", err)
		}
		if hdr.Masked {
			MaskInto(payload, payload, hdr.MaskKey, 0)
		}
	}
	return hdr, payload
}
