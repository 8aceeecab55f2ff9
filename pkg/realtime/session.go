package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrSessionClosed  = errors.New("realtime: session closed")
	ErrMalformedEvent = errors.New("realtime: malformed server event")
)

// Conn is the websocket surface a Session needs. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session is one realtime conversation. Writes are serialized; ReadEvent must
// be called from a single goroutine.
type Session struct {
	conn      Conn
	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewSession(conn Conn) *Session {
	return &Session{conn: conn}
}

func generateEventID() string {
	return "evt_" + uuid.New().String()[:12]
}

func (s *Session) UpdateSession(cfg SessionConfig) error {
	return s.sendEvent(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeSessionUpdate,
		"session":  cfg,
	})
}

// AppendAudio forwards an already base64-encoded audio chunk.
func (s *Session) AppendAudio(audioBase64 string) error {
	return s.sendEvent(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeInputAudioBufferAppend,
		"audio":    audioBase64,
	})
}

func (s *Session) AddUserMessage(text string) error {
	return s.addMessage("user", "input_text", text)
}

func (s *Session) AddAssistantMessage(text string) error {
	return s.addMessage("assistant", "text", text)
}

func (s *Session) addMessage(role, contentType, text string) error {
	return s.sendEvent(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeConversationItemCreate,
		"item": map[string]any{
			"type": "message",
			"role": role,
			"content": []map[string]any{
				{"type": contentType, "text": text},
			},
		},
	})
}

func (s *Session) AddFunctionCallOutput(callID string, output string) error {
	return s.sendEvent(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeConversationItemCreate,
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
}

func (s *Session) CreateResponse() error {
	return s.sendEvent(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeResponseCreate,
	})
}

// TruncateItem cuts an assistant item at audioEndMs of played audio.
func (s *Session) TruncateItem(itemID string, contentIndex int, audioEndMs int64) error {
	return s.sendEvent(map[string]any{
		"event_id":      generateEventID(),
		"type":          EventTypeConversationItemTruncate,
		"item_id":       itemID,
		"content_index": contentIndex,
		"audio_end_ms":  audioEndMs,
	})
}

// ReadEvent blocks for the next server event. Unparseable frames return an
// error wrapping ErrMalformedEvent and leave the session usable.
func (s *Session) ReadEvent() (*ServerEvent, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if s.closed.Load() {
			return nil, ErrSessionClosed
		}
		return nil, err
	}

	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	ev.Raw = data
	return &ev, nil
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.mu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Session) Closed() bool {
	return s.closed.Load()
}

func (s *Session) sendEvent(event map[string]any) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("realtime: marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("realtime: write %v: %w", event["type"], err)
	}
	return nil
}
