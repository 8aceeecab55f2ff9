package state

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// CallRecord is the persisted summary of one bridged phone call.
type CallRecord struct {
	CallID    string `json:"call_id"`
	StreamSID string `json:"stream_sid,omitempty"`
	Caller    string `json:"caller,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`

	Transcript    []TranscriptLine `json:"transcript,omitempty"`
	FunctionCalls []FunctionCall   `json:"function_calls,omitempty"`
}

type TranscriptLine struct {
	Role    string    `json:"role"` // user | assistant
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

type FunctionCall struct {
	Name      string          `json:"name"`
	CallID    string          `json:"call_id"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	At        time.Time       `json:"at"`
}

func NewCallRecord(callID string, now time.Time) *CallRecord {
	return &CallRecord{CallID: callID, StartedAt: now.UTC()}
}

func (r *CallRecord) AddLine(role, content string, at time.Time) {
	r.Transcript = append(r.Transcript, TranscriptLine{Role: role, Content: content, At: at.UTC()})
}

func (r *CallRecord) AddFunctionCall(fc FunctionCall) {
	fc.At = fc.At.UTC()
	r.FunctionCalls = append(r.FunctionCalls, fc)
}

// Clone returns a deep enough copy to hand to another goroutine.
func (r *CallRecord) Clone() *CallRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Transcript = append([]TranscriptLine(nil), r.Transcript...)
	out.FunctionCalls = append([]FunctionCall(nil), r.FunctionCalls...)
	return &out
}

func (r *CallRecord) Validate() error {
	if r == nil {
		return ErrNilCallRecord
	}
	if strings.TrimSpace(r.CallID) == "" {
		return ErrInvalidCall
	}
	if r.StartedAt.IsZero() {
		return errors.New("call record started_at is zero")
	}
	if !r.EndedAt.IsZero() && r.EndedAt.Before(r.StartedAt) {
		return errors.New("call record ended before it started")
	}
	return nil
}
