// Package audit mirrors event bus traffic into durable stores.
package audit

import (
	"slices"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

// Filter passes events whose type is listed. An empty filter passes everything.
type Filter []contractx.EventType

func (f Filter) Allows(t contractx.EventType) bool {
	return len(f) == 0 || slices.Contains(f, t)
}

// ParseFilter converts configured type names into a Filter.
func ParseFilter(types []string) Filter {
	out := make(Filter, 0, len(types))
	for _, t := range types {
		if t != "" {
			out = append(out, contractx.EventType(t))
		}
	}
	return out
}

// key partitions events by call, then by agent.
func key(ev contractx.Event) string {
	if ev.CallID != "" {
		return ev.CallID
	}
	return ev.Subject()
}
