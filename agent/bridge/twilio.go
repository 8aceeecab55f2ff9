package bridge

import (
	"strconv"
	"strings"
)

// Twilio media-stream frame kinds.
const (
	twilioEventStart = "start"
	twilioEventMedia = "media"
	twilioEventMark  = "mark"
	twilioEventStop  = "stop"
	twilioEventClear = "clear"
)

type mediaMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
}

type startPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type mediaPayload struct {
	Payload   string `json:"payload"`
	Timestamp string `json:"timestamp,omitempty"`
}

type outboundMedia struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Media     *mediaPayload `json:"media,omitempty"`
}

// timestampMillis parses the media timestamp Twilio sends as a decimal string.
func (m *mediaPayload) timestampMillis() (int64, bool) {
	if m == nil {
		return 0, false
	}
	ts := strings.TrimSpace(m.Timestamp)
	if ts == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
