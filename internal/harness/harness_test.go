package harness

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gregnietsky/dclinabox-go/internal/config"
	"github.com/gregnietsky/dclinabox-go/internal/wsframe"
)

// fakeWatchdog satisfies watchdogRegistry without pulling in the real
// ticker; ServeHTTP's rejection paths below never reach it, but Gateway
// requires a non-nil registry to construct.
type fakeWatchdog struct{}

func (fakeWatchdog) Add(*wsframe.Connection)    {}
func (fakeWatchdog) Remove(*wsframe.Connection) {}

func newTestGateway(t *testing.T, enable string) *Gateway {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/dclinabox.toml"
	if enable != "" {
		// Written to the store file rather than set with t.Setenv, which
		// panics in tests that call t.Parallel.
		if err := os.WriteFile(path, []byte(fmt.Sprintf("enable = %q\n", enable)), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	store, err := config.Open(path)
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}
	return &Gateway{
		Store:    store,
		Watchdog: fakeWatchdog{},
		Log:      zerolog.Nop(),
	}
}

func upgradeRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	r.Header.Set("Sec-Websocket-Version", SupportedVersion)
	r.RemoteAddr = "203.0.113.9:54321"
	return r
}

func TestServeHTTPRejectsNonUpgradeRequest(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, "*")
	w := httptest.NewRecorder()
	g.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestServeHTTPRejectsMissingKey(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, "*")
	r := upgradeRequest()
	r.Header.Del("Sec-WebSocket-Key")
	w := httptest.NewRecorder()
	g.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestServeHTTPRejectsUnsupportedVersion(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, "*")
	r := upgradeRequest()
	r.Header.Set("Sec-Websocket-Version", "8")
	w := httptest.NewRecorder()
	g.ServeHTTP(w, r)
	if w.Code != http.StatusUpgradeRequired {
		t.Fatalf("status = %d, want 426", w.Code)
	}
	if got := w.Header().Get("Sec-Websocket-Version"); got != SupportedVersion {
		t.Fatalf("Sec-Websocket-Version header = %q, want %q", got, SupportedVersion)
	}
}

func TestServeHTTPRejectsUndefinedEnable(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, "") // no DCLINABOX_ENABLE set, empty store file
	w := httptest.NewRecorder()
	g.ServeHTTP(w, upgradeRequest())
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestServeHTTPRejectsAddressNotInACL(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, "198.51.100.1,ws:")
	w := httptest.NewRecorder()
	g.ServeHTTP(w, upgradeRequest()) // RemoteAddr is 203.0.113.9, not in the ACL
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestServeHTTPRejectsCleartextWithoutWSToken(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, "203.0.113.9") // matches the address, but no ws: token
	w := httptest.NewRecorder()
	g.ServeHTTP(w, upgradeRequest()) // httptest request has r.TLS == nil
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (TLS required)", w.Code)
	}
}

func TestServeHTTPAllowsCleartextWithWSToken(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, "203.0.113.9,ws:")
	w := httptest.NewRecorder()
	// httptest.ResponseRecorder is not an http.Hijacker, so admission falls
	// through to the 500 "Websocket upgrade not supported" branch; reaching
	// that branch (rather than one of the earlier 403s) is itself proof the
	// ACL/TLS checks above it passed.
	g.ServeHTTP(w, upgradeRequest())
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 (non-hijackable recorder past the ACL gate)", w.Code)
	}
}

func TestIsUpgradeRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, upgrade, connection string
		want                      bool
	}{
		{"exact match", "websocket", "Upgrade", true},
		{"case insensitive", "WebSocket", "upgrade", true},
		{"multi-value connection header", "websocket", "keep-alive, Upgrade", true},
		{"wrong upgrade value", "h2c", "Upgrade", false},
		{"missing connection token", "websocket", "keep-alive", false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("Upgrade", tc.upgrade)
			r.Header.Set("Connection", tc.connection)
			if got := isUpgradeRequest(r); got != tc.want {
				t.Fatalf("isUpgradeRequest() = %v, want %v", got, tc.want)
			}
		})
	}
}
