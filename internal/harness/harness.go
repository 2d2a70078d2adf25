// Package harness stands in for the out-of-scope CGI invocation harness
// (spec.md §1: "the CGI invocation harness that hands the gateway two
// half-duplex byte pipes and a map of request attributes"). It performs the
// WebSocket upgrade handshake the core itself never does, in the same
// hijack-the-connection style as the teacher repo's startServer/
// handleConnection, then builds the session.Attrs subset of the §6 request
// attributes and hands off to internal/session.Admit.
package harness

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gregnietsky/dclinabox-go/internal/config"
	"github.com/gregnietsky/dclinabox-go/internal/session"
	"github.com/gregnietsky/dclinabox-go/internal/wsframe"
)

// wsGUID is the fixed GUID RFC 6455 mixes into Sec-WebSocket-Key to compute
// Sec-WebSocket-Accept.
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// SupportedVersion is the only Sec-WebSocket-Version this gateway accepts.
const SupportedVersion = "13"

// watchdogRegistry is the slice of *watchdog.Watchdog's API this package
// depends on, kept as a local interface so harness tests can substitute a
// fake registry without pulling in the real 1 Hz ticker.
type watchdogRegistry interface {
	Add(*wsframe.Connection)
	Remove(*wsframe.Connection)
}

// Gateway wires an HTTP listener to the session/config/watchdog layers.
type Gateway struct {
	Store        *config.Store
	Manager      *session.Manager
	Watchdog     watchdogRegistry
	Log          zerolog.Logger
	DefaultShell string
}

// ServeHTTP implements the admission sequence in spec.md §6/§7/§8 (S2, S3):
// validate the upgrade request, consult the ACL, perform the handshake,
// hijack the connection, and admit a Session.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isUpgradeRequest(r) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Use WebSocket upgrade"))
		return
	}

	key := r.Header.Get("Sec-WebSocket-Key")
	version := r.Header.Get("Sec-Websocket-Version")
	if key == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if version != SupportedVersion {
		w.Header().Set("Sec-Websocket-Version", SupportedVersion)
		w.WriteHeader(http.StatusUpgradeRequired)
		_, _ = fmt.Fprintf(w, "Status: 426 Upgrade Required\r\nSec-Websocket-Version: %s\r\n\r\n", SupportedVersion)
		return
	}

	enableValue, defined := g.Store.Enable()
	if !defined {
		w.WriteHeader(http.StatusForbidden)
		_, _ = fmt.Fprintf(w, "Status: 403 %q undefined\r\n\r\n", config.EnvPrefix+"_ENABLE")
		return
	}
	acl := config.ParseACL(enableValue)

	remoteHost, _, _ := net.SplitHostPort(r.RemoteAddr)
	if remoteHost == "" {
		remoteHost = r.RemoteAddr
	}
	if !acl.Allow(remoteHost) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = fmt.Fprintf(w, "Status: 403 access denied\r\n\r\n")
		return
	}
	if r.TLS == nil && !acl.AllowsCleartext() {
		w.WriteHeader(http.StatusForbidden)
		_, _ = fmt.Fprintf(w, "Status: 403 TLS required\r\n\r\n")
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Websocket upgrade not supported", http.StatusInternalServerError)
		return
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		http.Error(w, "Hijack failed", http.StatusInternalServerError)
		return
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	accept := sha1.Sum([]byte(key + wsGUID))
	acceptKey := base64.StdEncoding.EncodeToString(accept[:])
	_, _ = rw.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	_, _ = rw.WriteString("Upgrade: websocket\r\n")
	_, _ = rw.WriteString("Connection: Upgrade\r\n")
	_, _ = rw.WriteString(fmt.Sprintf("Sec-WebSocket-Accept: %s\r\n\r\n", acceptKey))
	if err := rw.Flush(); err != nil {
		_ = conn.Close()
		return
	}

	g.admit(conn, rw.Reader, r)
}

func isUpgradeRequest(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, part := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(part), "upgrade") {
			return true
		}
	}
	return false
}

func (g *Gateway) admit(conn net.Conn, buffered *bufio.Reader, r *http.Request) {
	transport := wsframe.NewTransport(readerCloser{buffered, conn}, conn)
	wsConn := wsframe.NewConnection(transport, wsframe.RoleServer, wsframe.ContentUTF8)
	wsConn.Callbacks.OnMessageError = func(_ *wsframe.Connection, site string, err error) {
		g.Log.Debug().Str("site", site).Err(err).Msg("harness: connection error")
	}
	wsConn.Callbacks.OnDestroy = func(c *wsframe.Connection) {
		g.Watchdog.Remove(c)
	}
	g.Watchdog.Add(wsConn)

	attrs := session.Attrs{
		HTTPHost:     r.Host,
		AuthRealm:    firstNonEmpty(r.Header.Get("WWW-Authenticate-Realm"), r.Header.Get("X-Auth-Realm")),
		RemoteUser:   r.Header.Get("X-Remote-User"),
		DefaultShell: g.DefaultShell,
	}

	if _, err := session.Admit(wsConn, attrs, g.Store, g.Manager, g.Log); err != nil {
		g.Log.Error().Err(err).Msg("harness: admit failed")
		// §7: the browser gets an in-band alert with a human-readable host
		// error message whenever terminal creation fails, before the socket
		// drops; there's no Session yet to hang SendAlert off of, so build
		// the escape directly.
		_ = wsConn.WriteMessage(session.BuildEscape(session.EscAlert, "terminal creation failed: "+err.Error()))
		_ = wsConn.Close(wsframe.CloseNormal, "terminal creation failed")
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// readerCloser pairs a buffered reader (which may already hold bytes read
// past the handshake) with the underlying connection's Close and read
// deadline, so the Transport's input side drains any data bufio.Reader
// already consumed before handing off, while still letting
// Transport.CancelReads unblock an in-flight read via SetReadDeadline.
type readerCloser struct {
	r *bufio.Reader
	c net.Conn
}

func (rc readerCloser) Read(p []byte) (int, error)       { return rc.r.Read(p) }
func (rc readerCloser) Close() error                     { return rc.c.Close() }
func (rc readerCloser) SetReadDeadline(t time.Time) error { return rc.c.SetReadDeadline(t) }
