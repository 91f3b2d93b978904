package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"trainpush/internal/agent"
	"trainpush/internal/clients"
	"trainpush/internal/storage"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"agent":  s.deps.Agent.State(),
	})
}

// handlePush is the push transport boundary. The body is untrusted and may
// be anything; it is handed to the agent as-is. The request completes only
// after the agent has finished the event (waitUntil semantics), so the
// sender sees display failures as a 502.
func (s *Server) handlePush(c *gin.Context) {
	if !s.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "push rate exceeded"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if int64(len(body)) > s.cfg.MaxBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}

	ev := &agent.Event{Kind: agent.EventPush, Body: body}
	if err := s.deps.Agent.Dispatch(c.Request.Context(), ev); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent unavailable"})
		return
	}
	if err := ev.Wait(c.Request.Context()); err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timed out waiting for delivery"})
		return
	}
	if err := ev.Err(); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "delivered"})
}

type clickRequest struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Action string `json:"action"`
}

// handleClick receives the notificationclick callback and answers with the
// routing decision (focused window, opened URL, or no-op).
func (s *Server) handleClick(c *gin.Context) {
	var req clickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid click payload"})
		return
	}

	ev := &agent.Event{
		Kind:   agent.EventClick,
		Record: agent.NotificationRecord{ID: req.ID, Data: agent.RecordData{URL: req.URL}},
		Action: req.Action,
	}
	if err := s.deps.Agent.Dispatch(c.Request.Context(), ev); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent unavailable"})
		return
	}
	if err := ev.Wait(c.Request.Context()); err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timed out waiting for routing"})
		return
	}
	if err := ev.Err(); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ev.Route())
}

// ---- client windows ----

type clientRequest struct {
	URL        string `json:"url" binding:"required"`
	Controlled bool   `json:"controlled"`
	CanFocus   *bool  `json:"can_focus"`
}

func (s *Server) handleRegisterClient(c *gin.Context) {
	var req clientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	canFocus := true
	if req.CanFocus != nil {
		canFocus = *req.CanFocus
	}
	w := s.deps.Registry.Register(req.URL, req.Controlled, canFocus)
	c.JSON(http.StatusCreated, w)
}

type navigateRequest struct {
	URL string `json:"url" binding:"required"`
}

func (s *Server) handleNavigateClient(c *gin.Context) {
	var req navigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	w, err := s.deps.Registry.Navigate(c.Param("id"), req.URL)
	if err != nil {
		if errors.Is(err, clients.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown client"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) handleRemoveClient(c *gin.Context) {
	s.deps.Registry.Remove(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListClients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clients": s.deps.Registry.Snapshot()})
}

// ---- web push subscriptions ----

func (s *Server) handleVAPIDKey(c *gin.Context) {
	if strings.TrimSpace(s.deps.VAPIDPublicKey) == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "web push not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": s.deps.VAPIDPublicKey})
}

type subscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s *Server) handlePutSubscription(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return
	}
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}
	sub := storage.Subscription{
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}
	if err := s.deps.Store.PutSubscription(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "subscribed"})
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func (s *Server) handleDeleteSubscription(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return
	}
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}
	if err := s.deps.Store.DeleteSubscription(c.Request.Context(), req.Endpoint); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ---- history ----

func (s *Server) handleHistory(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return
	}
	limit := s.cfg.HistoryLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= s.cfg.HistoryLimit {
			limit = n
		}
	}
	entries, err := s.deps.Store.RecentDeliveries(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"id":      e.ID,
			"at":      e.At,
			"title":   e.Title,
			"body":    e.Body,
			"url":     e.URL,
			"new":     e.New,
			"ok":      e.OK,
			"error":   e.Error,
			"took_ms": e.TookMS,
		})
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": out})
}
