package config

import (
	"strconv"
	"strings"
)

// IdleConfig is the parsed `*_IDLE` value: `<idle-mins>,<warn-mins>,<warn-message>`.
type IdleConfig struct {
	IdleMins   int
	WarnMins   int
	WarnMsg    string
	Disabled   bool // idle-mins < 0
}

// DefaultIdleConfig matches §6's documented default ("120,5,\"...%d...\"").
func DefaultIdleConfig() IdleConfig {
	return IdleConfig{IdleMins: 120, WarnMins: 5, WarnMsg: "This session will be disconnected in %d minutes of inactivity"}
}

// ParseIdle parses the raw `*_IDLE` value, applying defaults for
// missing/zero fields (§4.8: "defaults apply for missing/zero fields").
func ParseIdle(value string) IdleConfig {
	def := DefaultIdleConfig()
	if strings.TrimSpace(value) == "" {
		return def
	}

	parts := strings.SplitN(value, ",", 3)
	cfg := def

	if len(parts) > 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(parts[0])); err == nil {
			if n < 0 {
				cfg.Disabled = true
			} else if n != 0 {
				cfg.IdleMins = n
			}
		}
	}
	if len(parts) > 1 {
		if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil && n != 0 {
			cfg.WarnMins = n
		}
	}
	if len(parts) > 2 {
		msg := strings.TrimSpace(parts[2])
		msg = strings.Trim(msg, `"`)
		if msg != "" {
			cfg.WarnMsg = msg
		}
	}

	return cfg
}
