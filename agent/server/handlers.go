package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
	directoryx "github.com/tanpawarit/voice-agent-orchestrator/agent/directory"
	statex "github.com/tanpawarit/voice-agent-orchestrator/agent/state"
)

const (
	defaultConversationID = "web"
	defaultEventLimit     = 200
	maxEventLimit         = 1000
)

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "agents": len(s.deps.Agents.List())})
}

func (s *Server) publicHost(c *gin.Context) string {
	if s.cfg.PublicHost != "" {
		return s.cfg.PublicHost
	}
	return c.Request.Host
}

func (s *Server) incomingCall(c *gin.Context) {
	caller := strings.TrimSpace(c.Request.FormValue("From"))
	body, err := connectStreamTwiML("wss://"+s.publicHost(c)+"/media-stream", caller)
	if err != nil {
		s.log.Error().Err(err).Msg("render twiml")
		c.Status(http.StatusInternalServerError)
		return
	}
	s.log.Info().Str("caller", caller).Msg("incoming call")
	c.Data(http.StatusOK, "text/xml; charset=utf-8", body)
}

type agentView struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	ContextInfo string           `json:"contextInfo"`
	Status      contractx.Status `json:"status"`
}

func (s *Server) listAgents(c *gin.Context) {
	infos := s.deps.Agents.List()
	out := make([]agentView, 0, len(infos))
	for _, a := range infos {
		status := a.Status
		if status == "" {
			status = contractx.StatusIdle
		}
		out = append(out, agentView{Name: a.Name, Description: a.Description, ContextInfo: a.ContextInfo, Status: status})
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

func (s *Server) getCall(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call records are not stored"})
		return
	}
	rec, err := s.deps.Store.Load(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, statex.ErrCallNotFound), errors.Is(err, statex.ErrInvalidCall):
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case err != nil:
		s.log.Error().Err(err).Str("call_id", c.Param("id")).Msg("load call record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load call"})
	default:
		c.JSON(http.StatusOK, rec)
	}
}

func (s *Server) callEvents(c *gin.Context) {
	if s.deps.Events == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call events are not stored"})
		return
	}
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxEventLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	id := c.Param("id")
	events, err := s.deps.Events.ByCall(c.Request.Context(), id, limit)
	if err != nil {
		s.log.Error().Err(err).Str("call_id", id).Msg("list call events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"callId": id, "events": events})
}

type registerRequest struct {
	Phone  string `json:"phone"`
	Wallet string `json:"wallet"`
}

func (s *Server) registerUser(c *gin.Context) {
	if s.deps.Users == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "user directory is not configured"})
		return
	}

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !common.IsHexAddress(strings.TrimSpace(req.Wallet)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet must be a 0x-prefixed hex address"})
		return
	}

	u, err := s.deps.Users.Upsert(c.Request.Context(), req.Phone, req.Wallet)
	switch {
	case errors.Is(err, directoryx.ErrInvalidUser):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		s.log.Error().Err(err).Msg("register user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register user"})
	default:
		s.log.Info().Str("phone", u.Phone).Msg("user registered")
		c.JSON(http.StatusOK, u)
	}
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

func (s *Server) chatMessage(c *gin.Context) {
	if s.deps.Chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat is not configured"})
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": `Missing "message" field.`})
		return
	}
	id := strings.TrimSpace(req.ConversationID)
	if id == "" {
		id = defaultConversationID
	}

	reply, err := s.deps.Chat.Send(c.Request.Context(), id, req.Message)
	switch {
	case errors.Is(err, contractx.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		s.log.Warn().Err(err).Str("conversation_id", id).Msg("chat turn failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"response": reply})
	}
}

func (s *Server) resetChat(c *gin.Context) {
	if s.deps.Chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat is not configured"})
		return
	}
	s.deps.Chat.Reset(c.Param("id"))
	c.Status(http.StatusNoContent)
}
