package contract

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventAgentInvocation    EventType = "agent_invocation"
	EventAgentResult        EventType = "agent_result"
	EventAgentError         EventType = "agent_error"
	EventAgentStatusChanged EventType = "agent_status_changed"
	EventAgentFullList      EventType = "agent_full_list"
	EventAgentAdded         EventType = "agent_added"
	EventAgentRemoved       EventType = "agent_removed"
	EventMessage            EventType = "message"
)

// SystemFunction is the functionName used for bridge lifecycle notices.
const SystemFunction = "SYSTEM"

// Event is the wire shape pushed to observers and sinks.
type Event struct {
	Type         EventType       `json:"type"`
	FunctionName string          `json:"functionName,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	Name         string          `json:"name,omitempty"`
	Description  string          `json:"description,omitempty"`
	ContextInfo  string          `json:"contextInfo,omitempty"`
	Status       Status          `json:"status,omitempty"`
	Role         string          `json:"role,omitempty"`
	Content      string          `json:"content,omitempty"`
	CallID       string          `json:"callId,omitempty"`
	Agents       []AgentInfo     `json:"agents,omitzero"`
	Timestamp    time.Time       `json:"timestamp,omitzero"`
}

// Subject is the agent an event is about, if any.
func (e Event) Subject() string {
	if e.FunctionName != "" {
		return e.FunctionName
	}
	return e.Name
}

func InvocationEvent(name string, args json.RawMessage, status Status, at time.Time) Event {
	return Event{Type: EventAgentInvocation, FunctionName: name, Arguments: args, Status: status, Timestamp: at}
}

func ResultEvent(name string, result json.RawMessage, status Status, at time.Time) Event {
	return Event{Type: EventAgentResult, FunctionName: name, Result: result, Status: status, Timestamp: at}
}

func ErrorEvent(name string, msg string, status Status, at time.Time) Event {
	return Event{Type: EventAgentError, FunctionName: name, Error: msg, Status: status, Timestamp: at}
}

func StatusChangedEvent(name string, status Status, at time.Time) Event {
	return Event{Type: EventAgentStatusChanged, Name: name, Status: status, Timestamp: at}
}

// SystemEvent reports a bridge lifecycle notice as an invocation of SYSTEM.
func SystemEvent(callID string, msg string, at time.Time) Event {
	args, _ := json.Marshal(map[string]string{"msg": msg})
	return Event{Type: EventAgentInvocation, FunctionName: SystemFunction, Arguments: args, CallID: callID, Timestamp: at}
}

func MessageEvent(callID string, role string, content string, at time.Time) Event {
	return Event{Type: EventMessage, Role: role, Content: content, CallID: callID, Timestamp: at}
}

func FullListEvent(agents []AgentInfo) Event {
	if agents == nil {
		agents = []AgentInfo{}
	}
	return Event{Type: EventAgentFullList, Agents: agents}
}
