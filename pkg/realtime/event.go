package realtime

import "encoding/json"

const (
	EventTypeSessionUpdate            = "session.update"
	EventTypeInputAudioBufferAppend   = "input_audio_buffer.append"
	EventTypeConversationItemCreate   = "conversation.item.create"
	EventTypeConversationItemTruncate = "conversation.item.truncate"
	EventTypeResponseCreate           = "response.create"
)

const (
	EventTypeError                         = "error"
	EventTypeSessionCreated                = "session.created"
	EventTypeSessionUpdated                = "session.updated"
	EventTypeInputAudioBufferSpeechStarted = "input_audio_buffer.speech_started"
	EventTypeInputTranscriptionCompleted   = "conversation.item.input_audio_transcription.completed"
	EventTypeResponseTextDelta             = "response.text.delta"
	EventTypeResponseAudioDelta            = "response.audio.delta"
	EventTypeResponseAudioTranscriptDone   = "response.audio_transcript.done"
	EventTypeResponseFunctionCallArgsDone  = "response.function_call_arguments.done"
	EventTypeResponseDone                  = "response.done"
)

// SessionConfig is the body of session.update.
type SessionConfig struct {
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `json:"output_audio_format,omitempty"`
	Voice                   string         `json:"voice,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	Modalities              []string       `json:"modalities,omitempty"`
	Temperature             float64        `json:"temperature,omitempty"`
	Tools                   []Tool         `json:"tools,omitempty"`
	ToolChoice              string         `json:"tool_choice,omitempty"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
}

type TurnDetection struct {
	Type string `json:"type"`
}

type Transcription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ServerEvent is the subset of server events this module consumes.
type ServerEvent struct {
	Type       string          `json:"type"`
	EventID    string          `json:"event_id,omitzero"`
	ItemID     string          `json:"item_id,omitzero"`
	CallID     string          `json:"call_id,omitzero"`
	Name       string          `json:"name,omitzero"`
	Arguments  string          `json:"arguments,omitzero"`
	Delta      string          `json:"delta,omitzero"`
	Transcript string          `json:"transcript,omitzero"`
	Response   *Response       `json:"response,omitzero"`
	Error      *ErrorDetail    `json:"error,omitzero"`
	Raw        json.RawMessage `json:"-"`
}

type Response struct {
	ID     string       `json:"id,omitzero"`
	Status string       `json:"status,omitzero"`
	Output []OutputItem `json:"output,omitzero"`
}

type OutputItem struct {
	ID        string        `json:"id,omitzero"`
	Type      string        `json:"type"`
	Role      string        `json:"role,omitzero"`
	Name      string        `json:"name,omitzero"`
	CallID    string        `json:"call_id,omitzero"`
	Arguments string        `json:"arguments,omitzero"`
	Content   []ContentPart `json:"content,omitzero"`
}

type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitzero"`
	Transcript string `json:"transcript,omitzero"`
}

type ErrorDetail struct {
	Type    string `json:"type,omitzero"`
	Code    string `json:"code,omitzero"`
	Message string `json:"message"`
}

// FunctionCall returns output[0] of a response.done event when it is a
// function_call item. Later outputs are never inspected.
func (e *ServerEvent) FunctionCall() (OutputItem, bool) {
	if e == nil || e.Response == nil || len(e.Response.Output) == 0 {
		return OutputItem{}, false
	}
	if item := e.Response.Output[0]; item.Type == "function_call" {
		return item, true
	}
	return OutputItem{}, false
}

// Text returns the text or audio transcript of the first message item.
func (e *ServerEvent) Text() (string, bool) {
	if e == nil || e.Response == nil {
		return "", false
	}
	for _, item := range e.Response.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Text != "" {
				return part.Text, true
			}
			if part.Transcript != "" {
				return part.Transcript, true
			}
		}
	}
	return "", false
}
