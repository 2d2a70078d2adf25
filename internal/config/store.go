// Package config implements the named-value configuration lookup described
// in spec.md §6: `*_ENABLE`, `*_SSO`, `*_ANNOUNCE`, `*_ALERT`, `*_IDLE`.
// The original system reads these as VMS logical names; this port backs
// them with a TOML file (resolved via github.com/tzrikka/xdg, parsed with
// github.com/BurntSushi/toml, the same pairing cmd/timpani/main.go uses for
// its own config file), overridable by an environment variable of the same
// name for parity with the CGI request-attribute model the original runs
// under.
package config

import (
	"os"
	"sync"

	"github.com/BurntSushi/toml"
)

// file is the on-disk shape of the TOML config file.
type file struct {
	Enable   string   `toml:"enable"`
	SSO      []string `toml:"sso"`
	Announce []string `toml:"announce"`
	Alert    string   `toml:"alert"`
	Idle     string   `toml:"idle"`
}

// Store is a reloadable named-value configuration source. It is safe for
// concurrent use; the Session Manager's periodic pass (§4.8) calls Reload
// once a minute from its own goroutine while request handlers call the
// Get* accessors concurrently.
type Store struct {
	path string
	mu   sync.RWMutex
	f    file
}

// EnvPrefix is prepended to the logical names below to form the
// environment-variable override name, e.g. Enable() checks
// DCLINABOX_ENABLE before falling back to the TOML file's `enable` key.
const EnvPrefix = "DCLINABOX"

// Open loads the store from path. A missing file is not created; every
// logical name stays undefined until one exists (see Reload).
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the backing TOML file. A missing file is not an error:
// it just means every logical name is undefined until one is created.
func (s *Store) Reload() error {
	var f file
	if _, err := os.Stat(s.path); err == nil {
		if _, err := toml.DecodeFile(s.path, &f); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.f = f
	s.mu.Unlock()
	return nil
}

// Enable returns the `*_ENABLE` value and whether it is defined at all
// (an undefined ENABLE means the gateway must refuse every admission, per
// §6/§7's "If undefined, the gateway replies 403").
func (s *Store) Enable() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := os.LookupEnv(EnvPrefix + "_ENABLE"); ok {
		return v, true
	}
	return s.f.Enable, s.f.Enable != ""
}

// SSO returns the `*_SSO` multi-valued mapping (0..127 entries per §6).
func (s *Store) SSO() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := os.LookupEnv(EnvPrefix + "_SSO"); ok {
		return []string{v}
	}
	return s.f.SSO
}

// Announce returns the `*_ANNOUNCE` banner lines.
func (s *Store) Announce() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := os.LookupEnv(EnvPrefix + "_ANNOUNCE"); ok {
		return []string{v}
	}
	return s.f.Announce
}

// Alert returns the current `*_ALERT` broadcast value (empty = no alert).
func (s *Store) Alert() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := os.LookupEnv(EnvPrefix + "_ALERT"); ok {
		return v
	}
	return s.f.Alert
}

// Idle returns the raw `*_IDLE` value (`<idle-mins>,<warn-mins>,<warn-message>`).
func (s *Store) Idle() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := os.LookupEnv(EnvPrefix + "_IDLE"); ok {
		return v
	}
	return s.f.Idle
}
