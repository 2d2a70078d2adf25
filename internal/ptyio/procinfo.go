package ptyio

import (
	"os"
	"strconv"
	"strings"
)

// ProcessName returns the short command name of pid (e.g. "bash", "vim"),
// used by the Session Manager's title refresh (§4.8: "refresh the process
// name and resend the title escape if changed"). Host-privilege to query
// is assumed to already have been granted by the time this is called;
// ProcessName itself just reads /proc, returning "" if unavailable (e.g.
// non-Linux, or the process already exited).
func ProcessName(pid int) string {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/comm")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
