// Package ptyio adapts github.com/creack/pty + os/exec into the
// pseudo-terminal endpoint the Session layer expects (read/write/resize/
// cancel/close, §3 "Session"/§4.8 "Terminal plumbing"). Pty creation and
// privilege assumption are themselves out of scope per spec.md §1, but a
// runnable repo needs a concrete implementation to hand to Session.
package ptyio

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/creack/pty"
)

// Terminal is one pseudo-terminal endpoint bound to a shell process.
type Terminal struct {
	ptmx *os.File
	cmd  *exec.Cmd
}

// defaultCols/Rows are the initial page size, inside the clamp range of
// §4.8's resize handler.
const (
	defaultCols = 80
	defaultRows = 24
)

// SpawnLogin opens a pseudo-terminal running the host's default login
// shell, for the case where no single-sign-on rule matched the request
// (§4.8: "otherwise open a login-prompting terminal").
func SpawnLogin(shellPath string) (*Terminal, error) {
	if shellPath == "" {
		shellPath = "/bin/login"
	}
	cmd := exec.Command(shellPath)
	cmd.Env = os.Environ()
	return start(cmd)
}

// SpawnSSO spawns a detached interactive shell under the mapped host user
// account, for the single-sign-on admit path (§4.8, S2 in spec.md §8).
// Looking up the user and dropping privilege to it is itself an external
// collaborator's job in the original system; here it's done directly with
// os/user + a syscall.Credential, which is the idiomatic Go equivalent.
func SpawnSSO(shellPath, username string) (*Terminal, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, fmt.Errorf("ptyio: sso user lookup %q: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("ptyio: sso user %q has non-numeric uid: %w", username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("ptyio: sso user %q has non-numeric gid: %w", username, err)
	}

	if shellPath == "" {
		shellPath = "/bin/sh"
	}
	cmd := exec.Command(shellPath, "-i")
	cmd.Dir = u.HomeDir
	cmd.Env = append(os.Environ(), "HOME="+u.HomeDir, "USER="+u.Username, "LOGNAME="+u.Username)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)},
		Setsid:     true,
	}
	return start(cmd)
}

func start(cmd *exec.Cmd) (*Terminal, error) {
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: defaultCols, Rows: defaultRows})
	if err != nil {
		return nil, fmt.Errorf("ptyio: start: %w", err)
	}
	return &Terminal{ptmx: ptmx, cmd: cmd}, nil
}

// Read reads raw bytes produced by the shell.
func (t *Terminal) Read(buf []byte) (int, error) {
	return t.ptmx.Read(buf)
}

// Write sends keystrokes to the shell.
func (t *Terminal) Write(buf []byte) (int, error) {
	return t.ptmx.Write(buf)
}

// Resize sets the terminal's page size (§4.8 resize control message). cols
// and rows are expected to already be clamped by the caller per spec.md
// §4.8 ([48,511] cols, [10,255] rows); Resize itself doesn't re-clamp so
// the session layer's clamp decision is the single source of truth.
func (t *Terminal) Resize(cols, rows uint16) error {
	return pty.Setsize(t.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Size returns the terminal's current page size.
func (t *Terminal) Size() (cols, rows uint16, err error) {
	ws, err := pty.GetsizeFull(t.ptmx)
	if err != nil {
		return 0, 0, err
	}
	return ws.Cols, ws.Rows, nil
}

// Cancel unblocks an in-flight Read by closing the pty master, as Close
// does, but without reaping the shell. Sessions only ever call
// Cancel as part of tearing the whole terminal down, so this is safe.
func (t *Terminal) Cancel() error {
	return t.ptmx.Close()
}

// Close releases the pty master and waits for the shell to exit. Wait is
// run in the background so Close doesn't block a session teardown on a
// wedged child.
func (t *Terminal) Close() error {
	err := t.ptmx.Close()
	go func() { _ = t.cmd.Wait() }()
	return err
}

// Wait blocks until the shell process exits and returns its error (nil on
// a clean exit(0)).
func (t *Terminal) Wait() error {
	return t.cmd.Wait()
}

// Pid returns the shell process's PID, used by the Session Manager's
// periodic title refresh (§4.8).
func (t *Terminal) Pid() int {
	if t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}
