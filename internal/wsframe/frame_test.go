package wsframe

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestDecodeHeaderMinimalTextFrame is boundary scenario B1: a masked,
// fin=1, text frame with a 5-byte payload.
func TestDecodeHeaderMinimalTextFrame(t *testing.T) {
	t.Parallel()

	raw := []byte{0x81, 0x85, 0x37, 0xFA, 0x21, 0x3D, 0x7F, 0x9F, 0x4D, 0x51, 0x58}
	hdr, n, ok, err := DecodeHeader(raw, true)
	if err != nil {
		t.Fatalf("DecodeHeader returned error: %v", err)
	}
	if !ok {
		t.Fatalf("DecodeHeader reported incomplete header on a full buffer")
	}
	want := Header{
		Fin:        true,
		Opcode:     OpText,
		Masked:     true,
		MaskKey:    [4]byte{0x37, 0xFA, 0x21, 0x3D},
		PayloadLen: 5,
	}
	if diff := cmp.Diff(want, hdr); diff != "" {
		t.Fatalf("decoded header mismatch (-want +got):\n%s", diff)
	}
	if n != 6 {
		t.Fatalf("consumed %d header bytes, want 6", n)
	}

	payload := raw[n : n+int(hdr.PayloadLen)]
	unmasked := make([]byte, len(payload))
	MaskInto(unmasked, payload, hdr.MaskKey, 0)
	if string(unmasked) != "Hello" {
		t.Fatalf("unmasked payload = %q, want %q", unmasked, "Hello")
	}
}

// TestDecodeHeader16BitLength is B2: a 256-byte payload encoded with the
// 16-bit extended length field.
func TestDecodeHeader16BitLength(t *testing.T) {
	t.Parallel()

	key := [4]byte{0x01, 0x02, 0x03, 0x04}
	payload := bytes.Repeat([]byte{'A'}, 256)
	masked := make([]byte, len(payload))
	MaskInto(masked, payload, key, 0)

	hdr := EncodeHeader(OpText, true, true, key, len(payload))
	raw := append(append([]byte{}, hdr...), masked...)

	decoded, n, ok, err := DecodeHeader(raw, true)
	if err != nil || !ok {
		t.Fatalf("DecodeHeader failed: ok=%v err=%v", ok, err)
	}
	want := Header{
		Fin:        true,
		Opcode:     OpText,
		Masked:     true,
		MaskKey:    key,
		PayloadLen: 256,
	}
	if diff := cmp.Diff(want, decoded); diff != "" {
		t.Fatalf("decoded header mismatch (-want +got):\n%s", diff)
	}

	got := raw[n : n+int(decoded.PayloadLen)]
	unmasked := make([]byte, len(got))
	MaskInto(unmasked, got, decoded.MaskKey, 0)
	if !bytes.Equal(unmasked, payload) {
		t.Fatalf("round-tripped payload mismatch")
	}
}

func TestDecodeHeaderIncompleteBuffer(t *testing.T) {
	t.Parallel()

	// Only the first byte of a two-byte header: must report ok=false, not error.
	_, _, ok, err := DecodeHeader([]byte{0x81}, true)
	if err != nil {
		t.Fatalf("unexpected error on short buffer: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false on an incomplete header")
	}
}

func TestDecodeHeaderRejectsReservedBits(t *testing.T) {
	t.Parallel()
	_, _, _, err := DecodeHeader([]byte{0x81 | 0x40, 0x80, 0, 0, 0, 0}, true)
	if err == nil {
		t.Fatalf("expected a protocol error for a set RSV1 bit")
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("error %v is not a *ProtocolError", err)
	}
}

func TestDecodeHeaderRejectsUnknownOpcode(t *testing.T) {
	t.Parallel()
	_, _, _, err := DecodeHeader([]byte{0x80 | 0x03, 0x80, 0, 0, 0, 0}, true)
	if err == nil {
		t.Fatalf("expected a protocol error for an unknown opcode")
	}
}

func TestDecodeHeaderRejectsFragmentedControlFrame(t *testing.T) {
	t.Parallel()
	// fin=0, opcode=ping (control)
	_, _, _, err := DecodeHeader([]byte{0x09, 0x80, 0, 0, 0, 0}, true)
	if err == nil {
		t.Fatalf("expected a protocol error for a fragmented control frame")
	}
}

func TestDecodeHeaderRejectsOversizedControlFrame(t *testing.T) {
	t.Parallel()
	// fin=1, opcode=ping, masked, length=126 (control frames must be <=125)
	hdr := []byte{0x89, 0x80 | 126, 0, 126, 0, 0, 0, 0}
	_, _, _, err := DecodeHeader(hdr, true)
	if err == nil {
		t.Fatalf("expected a protocol error for an oversized control frame")
	}
}

func TestDecodeHeaderRejectsUnmaskedServerBound(t *testing.T) {
	t.Parallel()
	_, _, _, err := DecodeHeader([]byte{0x81, 0x05}, true)
	if err == nil {
		t.Fatalf("expected a protocol error for an unmasked frame in server role")
	}
}

func TestDecodeHeaderAllowsUnmaskedClientBound(t *testing.T) {
	t.Parallel()
	hdr, _, ok, err := DecodeHeader([]byte{0x81, 0x05, 'h', 'e', 'l', 'l', 'o'}, false)
	if err != nil || !ok {
		t.Fatalf("unexpected failure in client role: ok=%v err=%v", ok, err)
	}
	if hdr.Masked {
		t.Fatalf("expected Masked=false")
	}
}

func TestDecodeHeaderRejectsOversizedLength(t *testing.T) {
	t.Parallel()
	hdr := []byte{0x82, 127, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	_, _, _, err := DecodeHeader(hdr, false)
	if err == nil {
		t.Fatalf("expected a protocol error for a length >= 2^32")
	}
}

// TestFrameEncodeDecodeRoundTrip is testable property #1: re-encoding a
// decoded frame and re-decoding it yields the identical logical frame.
func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		op      Opcode
		fin     bool
		masked  bool
		payload []byte
	}{
		{"small text unmasked", OpText, true, false, []byte("hi")},
		{"small binary masked", OpBinary, true, true, []byte{1, 2, 3}},
		{"fragment", OpText, false, true, []byte("partial")},
		{"empty close", OpClose, true, true, nil},
		{"exactly 125", OpBinary, true, false, bytes.Repeat([]byte{9}, 125)},
		{"126 needs 16-bit length", OpBinary, true, true, bytes.Repeat([]byte{9}, 126)},
		{"65536 needs 64-bit length", OpBinary, true, false, bytes.Repeat([]byte{7}, 65536)},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var key [4]byte
			wire := tc.payload
			if tc.masked {
				key = NewMaskKey()
				wire = make([]byte, len(tc.payload))
				MaskInto(wire, tc.payload, key, 0)
			}

			hdr := EncodeHeader(tc.op, tc.fin, tc.masked, key, len(tc.payload))
			raw := append(append([]byte{}, hdr...), wire...)

			serverRole := tc.masked // DecodeHeader requires masked frames in server role
			decoded, n, ok, err := DecodeHeader(raw, serverRole)
			if err != nil || !ok {
				t.Fatalf("decode failed: ok=%v err=%v", ok, err)
			}
			want := Header{
				Fin:        tc.fin,
				Opcode:     tc.op,
				Masked:     tc.masked,
				MaskKey:    key,
				PayloadLen: uint64(len(tc.payload)),
			}
			if diff := cmp.Diff(want, decoded); diff != "" {
				t.Fatalf("decoded header mismatch (-want +got):\n%s", diff)
			}

			gotPayload := raw[n : n+int(decoded.PayloadLen)]
			if tc.masked {
				unmasked := make([]byte, len(gotPayload))
				MaskInto(unmasked, gotPayload, decoded.MaskKey, 0)
				gotPayload = unmasked
			}
			if !bytes.Equal(gotPayload, tc.payload) {
				t.Fatalf("payload round-trip mismatch")
			}
		})
	}
}

// TestMaskInvolution is testable property #3: unmasking with the same key
// is the XOR involution of masking.
func TestMaskInvolution(t *testing.T) {
	t.Parallel()

	key := NewMaskKey()
	original := []byte("the quick brown fox jumps over the lazy dog, 0123456789")

	masked := make([]byte, len(original))
	MaskInto(masked, original, key, 0)

	roundTripped := make([]byte, len(masked))
	MaskInto(roundTripped, masked, key, 0)

	if !bytes.Equal(roundTripped, original) {
		t.Fatalf("mask/unmask round trip mismatch")
	}
}

// TestMaskIntoDoesNotMutateSource checks the writer's documented guarantee
// that masking never touches the caller's original buffer.
func TestMaskIntoDoesNotMutateSource(t *testing.T) {
	t.Parallel()

	src := []byte("do not touch me")
	srcCopy := append([]byte{}, src...)
	dst := make([]byte, len(src))

	MaskInto(dst, src, NewMaskKey(), 0)

	if !bytes.Equal(src, srcCopy) {
		t.Fatalf("MaskInto mutated its source buffer")
	}
}

func TestNewMaskKeyVaries(t *testing.T) {
	t.Parallel()
	a := NewMaskKey()
	b := NewMaskKey()
	if a == b {
		t.Fatalf("two consecutive mask keys were identical: %v", a)
	}
}

