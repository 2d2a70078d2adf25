package session

import "testing"

func TestDetectLogoutMatchesKnownPatterns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{"54-byte form with seconds/hundredths", "\r  SYSTEM       logged out at 21-JUL-2012 22:03:31.08\r"},
		{"48-byte form without seconds", "\r  SYSTEM       logged out at 21-JUL-2012 22:03\r"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if !DetectLogout([]byte(tc.in)) {
				t.Fatalf("DetectLogout(%q) = false, want true", tc.in)
			}
		})
	}
}

func TestDetectLogoutRejectsWrongLength(t *testing.T) {
	t.Parallel()
	// The real 54-byte pattern with one trailing byte appended: no longer
	// 48 or 54 bytes, so the heuristic must not match at all (§9 flags
	// this length check as brittle, not something to relax).
	in := "\r  SYSTEM       logged out at 21-JUL-2012 22:03:31.08\r!"
	if DetectLogout([]byte(in)) {
		t.Fatalf("expected length mismatch to reject")
	}
}

func TestDetectLogoutRejectsOrdinaryOutput(t *testing.T) {
	t.Parallel()
	tests := []string{
		"",
		"just some regular terminal output that happens to be decently long",
		"\r  SYSTEM       logged inn at 21-JUL-2012 22:03:31.08\r", // same length/shape, wrong text
	}
	for _, in := range tests {
		if DetectLogout([]byte(in)) {
			t.Fatalf("DetectLogout(%q) = true, want false", in)
		}
	}
}
