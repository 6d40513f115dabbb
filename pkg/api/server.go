// Package api exposes a local HTTP surface for UIs and diagnostics: session
// status, conversations, contacts, and control over key exchanges, messages,
// and typing indicators.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/zentalk-session/pkg/network"
	"github.com/ZentaChain/zentalk-session/pkg/storage"
)

// Server is the local control API. It is meant to listen on loopback only;
// it has no authentication of its own.
type Server struct {
	client   *network.Client
	exchange *network.ExchangeEngine
	tracker  *network.DeliveryTracker
	presence *network.PresenceCoordinator
	db       *storage.DB
	started  time.Time
	router   *gin.Engine
}

// NewServer wires the API around the running session components
func NewServer(client *network.Client, exchange *network.ExchangeEngine, tracker *network.DeliveryTracker, presence *network.PresenceCoordinator) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		client:   client,
		exchange: exchange,
		tracker:  tracker,
		presence: presence,
		db:       client.Database(),
		started:  time.Now(),
		router:   gin.New(),
	}
	s.router.Use(gin.Recovery())

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/conversations", s.handleConversations)
		v1.GET("/conversations/:id/messages", s.handleMessages)
		v1.POST("/conversations/:id/read", s.handleMarkRead)
		v1.GET("/contacts", s.handleContacts)
		v1.GET("/exchanges", s.handleExchanges)
		v1.GET("/exchanges/audit", s.handleExchangeAudit)
		v1.POST("/exchanges", s.handleExchangeRequest)
		v1.POST("/exchanges/:id/accept", s.handleExchangeAccept)
		v1.POST("/exchanges/:id/decline", s.handleExchangeDecline)
		v1.POST("/messages", s.handleSendMessage)
		v1.POST("/typing", s.handleTyping)
	}

	return s
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves the API on addr until the listener fails
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessionId": s.client.SessionID(),
		"state":     s.client.State().String(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleConversations(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no database attached"})
		return
	}

	conversations, err := s.db.GetConversations()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (s *Server) handleMessages(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no database attached"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	messages, err := s.db.GetConversationMessages(c.Param("id"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no database attached"})
		return
	}

	if err := s.db.MarkConversationRead(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleContacts(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no database attached"})
		return
	}

	contacts, err := s.db.GetContacts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Enrich with live presence where known
	type contactView struct {
		*storage.Contact
		IsOnline bool `json:"isOnline"`
	}
	views := make([]contactView, 0, len(contacts))
	for _, contact := range contacts {
		view := contactView{Contact: contact}
		if record, ok := s.presence.PresenceOf(contact.SessionID); ok {
			view.IsOnline = record.IsOnline
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"contacts": views})
}

func (s *Server) handleExchanges(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"exchanges": s.exchange.Pending()})
}

func (s *Server) handleExchangeAudit(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"audit": s.exchange.Audit()})
}

func (s *Server) handleExchangeRequest(c *gin.Context) {
	var req struct {
		CounterpartID string `json:"counterpartId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.exchange.Request(req.CounterpartID); err != nil {
		status := http.StatusBadRequest
		if err == network.ErrAlreadyPaired {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
}

func (s *Server) handleExchangeAccept(c *gin.Context) {
	if err := s.exchange.Accept(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (s *Server) handleExchangeDecline(c *gin.Context) {
	if err := s.exchange.Decline(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "declined"})
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req struct {
		RecipientID string `json:"recipientId" binding:"required"`
		Body        string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := &network.Message{To: req.RecipientID, Body: req.Body}
	if err := s.tracker.Send(msg); err != nil {
		status := http.StatusInternalServerError
		if err == network.ErrNoConversation {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"messageId": msg.ID, "status": string(msg.Status)})
}

func (s *Server) handleTyping(c *gin.Context) {
	var req struct {
		RecipientID    string `json:"recipientId" binding:"required"`
		ConversationID string `json:"conversationId" binding:"required"`
		IsTyping       bool   `json:"isTyping"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.presence.SendTyping(req.RecipientID, req.ConversationID, req.IsTyping)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
