package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const simulatedStreamSID = "mockStreamSid-12345"

// simulationLog collects what a simulated call sees on both sockets.
type simulationLog struct {
	mu      sync.Mutex
	entries []map[string]any
}

func (l *simulationLog) add(source, event string, extra map[string]any) {
	entry := map[string]any{"source": source, "event": event}
	for k, v := range extra {
		entry[k] = v
	}
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *simulationLog) frame(source string, data []byte) {
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		l.add(source, "parse_error", map[string]any{"error": err.Error()})
		return
	}
	entry["source"] = source
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *simulationLog) snapshot() []map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]map[string]any(nil), l.entries...)
}

// simulateCall drives this server's own media and observer sockets like a
// Twilio call would and returns everything both sockets received.
func (s *Server) simulateCall(c *gin.Context) {
	base := "ws://" + c.Request.Host
	logs := &simulationLog{}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.SimulateTimeout)
	defer cancel()

	var wg sync.WaitGroup
	observer, _, err := s.dialer.DialContext(ctx, base+"/orchestrator-stream", nil)
	if err != nil {
		logs.add("orchestrator", "error", map[string]any{"error": err.Error()})
	} else {
		logs.add("simulate", "orchestrator_ws.open", map[string]any{"message": "Connected to orchestrator stream"})
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.collect(observer, "orchestrator", logs)
		}()
	}

	media, _, err := s.dialer.DialContext(ctx, base+"/media-stream", nil)
	if err != nil {
		logs.add("twilio", "error", map[string]any{"error": err.Error()})
	} else {
		logs.add("simulate", "twilio_ws.open", map[string]any{"message": "Connected to media-stream"})
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.collect(media, "twilio", logs)
		}()

		frames := []map[string]any{
			{"event": "start", "start": map[string]any{"streamSid": simulatedStreamSID}},
			{"event": "media", "media": map[string]any{
				"payload":   "SOME_BASE64_G711_DATA",
				"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
			}},
		}
		for _, f := range frames {
			if err := media.WriteJSON(f); err != nil {
				logs.add("twilio", "error", map[string]any{"error": err.Error()})
				break
			}
			logs.add("simulate", "sent."+f["event"].(string), nil)
		}
	}

	<-ctx.Done()
	for _, conn := range []*websocket.Conn{observer, media} {
		if conn != nil {
			_ = conn.Close()
		}
	}
	wg.Wait()

	c.JSON(http.StatusOK, gin.H{"success": true, "logs": logs.snapshot()})
}

func (s *Server) collect(conn *websocket.Conn, source string, logs *simulationLog) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logs.add(source, "close", nil)
			return
		}
		logs.frame(source, data)
	}
}
