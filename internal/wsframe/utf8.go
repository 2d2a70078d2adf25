package wsframe

// Incremental UTF-8 validation, in the spirit of Bjoern Hoehrmann's
// byte-class/transition DFA (http://bjoern.hoehrmann.de/utf-8/decoder/dfa/):
// the validator consumes one byte at a time and keeps only a small integer
// state, so a caller can fast-fail mid-message without buffering the whole
// thing. States beyond Accept/Reject track how many continuation bytes are
// still owed and, for the four lead bytes whose next byte has a narrowed
// legal range (E0, ED, F0, F4), that range; the lead bytes that can only
// start an overlong or out-of-range sequence (C0/C1, F5-FF) are rejected
// at once.

const (
	// Utf8Accept is the state after a complete, legal code point (or at the
	// very start of a message).
	Utf8Accept uint32 = 0
	// Utf8Reject is the irrecoverable error state.
	Utf8Reject uint32 = 1
)

const (
	tail1 uint32 = iota + 2 // one more plain continuation byte (0x80-0xBF) owed
	tail2                   // two more plain continuation bytes owed
	tail3                   // three more plain continuation bytes owed
	e0Second                // after 0xE0: next byte must be 0xA0-0xBF, then one plain tail
	edSecond                // after 0xED: next byte must be 0x80-0x9F, then one plain tail
	f0Second                // after 0xF0: next byte must be 0x90-0xBF, then two plain tails
	f4Second                // after 0xF4: next byte must be 0x80-0x8F, then two plain tails
)

// Utf8Feed advances the DFA by one byte. Pass Utf8Accept as the initial
// state (or the state returned by the previous call) and check the return
// value for Utf8Reject after every byte; the caller must not wait for the
// end of the message to notice corruption.
func Utf8Feed(state uint32, b byte) uint32 {
	switch state {
	case Utf8Accept:
		switch {
		case b <= 0x7F:
			return Utf8Accept
		case b >= 0xC2 && b <= 0xDF:
			return tail1
		case b == 0xE0:
			return e0Second
		case b == 0xED:
			return edSecond
		case b >= 0xE1 && b <= 0xEC, b >= 0xEE && b <= 0xEF:
			return tail2
		case b == 0xF0:
			return f0Second
		case b == 0xF4:
			return f4Second
		case b >= 0xF1 && b <= 0xF3:
			return tail3
		default: // 0x80-0xBF (stray continuation), 0xC0-0xC1 (overlong lead), 0xF5-0xFF
			return Utf8Reject
		}

	case tail1:
		if isCont(b) {
			return Utf8Accept
		}
		return Utf8Reject

	case tail2:
		if isCont(b) {
			return tail1
		}
		return Utf8Reject

	case tail3:
		if isCont(b) {
			return tail2
		}
		return Utf8Reject

	case e0Second:
		if b >= 0xA0 && b <= 0xBF {
			return tail1
		}
		return Utf8Reject

	case edSecond:
		if b >= 0x80 && b <= 0x9F {
			return tail1
		}
		return Utf8Reject

	case f0Second:
		if b >= 0x90 && b <= 0xBF {
			return tail2
		}
		return Utf8Reject

	case f4Second:
		if b >= 0x80 && b <= 0x8F {
			return tail2
		}
		return Utf8Reject

	default: // Utf8Reject or any unrecognised state is a terminal error
		return Utf8Reject
	}
}

func isCont(b byte) bool {
	return b >= 0x80 && b <= 0xBF
}

// Utf8FeedBytes runs Utf8Feed over every byte of s starting from state,
// short-circuiting (and returning immediately) on rejection.
func Utf8FeedBytes(state uint32, s []byte) uint32 {
	for _, b := range s {
		state = Utf8Feed(state, b)
		if state == Utf8Reject {
			return state
		}
	}
	return state
}
