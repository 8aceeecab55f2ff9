package bridge

import (
	"sync"
	"time"

	statex "github.com/tanpawarit/voice-agent-orchestrator/agent/state"
	realtimex "github.com/tanpawarit/voice-agent-orchestrator/pkg/realtime"
)

type callState string

const (
	callConnecting callState = "CONNECTING"
	callActive     callState = "ACTIVE"
	callClosed     callState = "CLOSED"
)

// session is the per-call segment state reset by every start frame.
type session struct {
	streamSID              string
	caller                 string
	latestMediaTimestamp   int64
	responseStartTimestamp int64
	lastAssistantItem      string
	responseOpen           bool
}

type call struct {
	id    string
	media MediaConn
	ai    *realtimex.Session

	writeMu sync.Mutex

	mu      sync.Mutex
	state   callState
	session session
	record  *statex.CallRecord

	closed    chan struct{}
	closeOnce sync.Once
}

func newCall(id string, media MediaConn, now time.Time) *call {
	return &call{
		id:     id,
		media:  media,
		state:  callConnecting,
		record: statex.NewCallRecord(id, now),
		closed: make(chan struct{}),
	}
}

// close tears both legs down exactly once.
func (c *call) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = callClosed
		c.mu.Unlock()
		close(c.closed)
		_ = c.media.Close()
		if c.ai != nil {
			_ = c.ai.Close()
		}
	})
}

func (c *call) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// active reports whether a start frame has been seen and the call is not
// closed. Audio flows in either direction only while active.
func (c *call) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == callActive
}

// resetSession starts a new stream segment and moves the call to ACTIVE. It
// reports false once the call is closed.
func (c *call) resetSession(start *startPayload) (session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == callClosed {
		return session{}, false
	}
	c.state = callActive
	c.session = session{streamSID: start.StreamSID}
	if start.CustomParameters != nil {
		c.session.caller = start.CustomParameters["caller"]
	}
	c.record.StreamSID = c.session.streamSID
	if c.session.caller != "" {
		c.record.Caller = c.session.caller
	}
	return c.session, true
}

func (c *call) observeTimestamp(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts > c.session.latestMediaTimestamp {
		c.session.latestMediaTimestamp = ts
	}
}

// beginAudio records the assistant item being played and reports whether this
// delta opened a new turn.
func (c *call) beginAudio(itemID string) (streamSID string, opened bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.session.responseOpen {
		c.session.responseOpen = true
		c.session.responseStartTimestamp = c.session.latestMediaTimestamp
		opened = true
	}
	if itemID != "" {
		c.session.lastAssistantItem = itemID
	}
	return c.session.streamSID, opened
}

func (c *call) caller() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.caller
}

// interrupt closes the open assistant turn and returns where to truncate it.
func (c *call) interrupt() (itemID string, elapsedMs int64, streamSID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.session.responseOpen || c.session.lastAssistantItem == "" {
		return "", 0, "", false
	}
	itemID = c.session.lastAssistantItem
	elapsedMs = c.session.latestMediaTimestamp - c.session.responseStartTimestamp
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	streamSID = c.session.streamSID
	c.session.responseOpen = false
	c.session.lastAssistantItem = ""
	c.session.responseStartTimestamp = 0
	return itemID, elapsedMs, streamSID, true
}

func (c *call) endResponse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.responseOpen = false
}

func (c *call) addLine(role, content string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record.AddLine(role, content, at)
}

func (c *call) addFunctionCall(fc statex.FunctionCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record.AddFunctionCall(fc)
}

func (c *call) snapshot() *statex.CallRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.Clone()
}

func (c *call) finish(at time.Time) *statex.CallRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record.EndedAt = at.UTC()
	return c.record.Clone()
}
