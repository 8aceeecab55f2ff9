package prompt

import (
	_ "embed"
	"strings"
)

//go:embed template/system.txt
var systemRaw string

// System returns the instructions sent to the realtime model when a call
// or chat session starts.
func System() string {
	return strings.TrimSpace(systemRaw)
}

// SystemOr returns override when it is set, otherwise System.
func SystemOr(override string) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	return System()
}
