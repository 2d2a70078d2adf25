package session

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gregnietsky/dclinabox-go/internal/config"
	"github.com/gregnietsky/dclinabox-go/internal/ptyio"
	"github.com/gregnietsky/dclinabox-go/internal/wsframe"
)

// Version is sent as the version-announcement escape on every admit.
const Version = "dclinabox-go/1.0"

// Attrs is the subset of request attributes (§6) the session layer needs;
// the harness builds this from the CGI-equivalent request attribute map.
type Attrs struct {
	HTTPHost     string
	AuthRealm    string
	RemoteUser   string
	DefaultShell string
}

// Admit performs the admission sequence described in §4.8 ("Terminal
// plumbing"): resolve SSO, open the pseudo-terminal (spawning a shell for
// SSO, or a login-prompting terminal otherwise), build the Session, push
// the version escape (and configured announce lines, for SSO admits),
// register it with mgr, and start Run in a new goroutine. It returns the
// Session immediately; Run's completion is observed via Session.Done.
func Admit(conn *wsframe.Connection, attrs Attrs, store *config.Store, mgr *Manager, log zerolog.Logger) (*Session, error) {
	sso := config.ParseSSO(store.SSO())
	localUser, matched := sso.Resolve(attrs.AuthRealm, attrs.RemoteUser)

	var term *ptyio.Terminal
	var err error
	identity := Identity{HostName: attrs.HTTPHost, RemoteUser: attrs.RemoteUser}

	if matched {
		term, err = ptyio.SpawnSSO(attrs.DefaultShell, localUser)
		if err != nil {
			return nil, fmt.Errorf("session: sso spawn: %w", err)
		}
		identity.SSO = true
		identity.RemoteUser = localUser
	} else {
		term, err = ptyio.SpawnLogin(attrs.DefaultShell)
		if err != nil {
			return nil, fmt.Errorf("session: login spawn: %w", err)
		}
	}

	s := New(conn, term, identity, log)

	if err := s.SendVersion(Version); err != nil {
		return s, err
	}
	if identity.SSO {
		for _, line := range store.Announce() {
			_ = s.SendText(line + "\r\n")
		}
	}

	mgr.Add(s)
	go func() {
		s.Run()
		mgr.Remove(s)
	}()

	return s, nil
}
