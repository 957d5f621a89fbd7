package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/developer-mesh/docs-expert/internal/models"
	"github.com/developer-mesh/docs-expert/internal/monitor"
)

var apiEndpoints = []string{
	"GET /api/health",
	"GET /api/identity",
	"GET /api/hello",
	"GET /api/capabilities",
	"GET /api/metrics",
	"POST /api/ask",
	"POST /api/chat",
	"POST /api/knowledge/search",
	"POST /api/knowledge/refresh",
}

type askRequest struct {
	Question string `json:"question" binding:"required"`
	// Context is either a conversation string or an object carrying
	// conversationHistory
	Context json.RawMessage `json:"context"`
}

type chatRequest struct {
	Message   string           `json:"message" binding:"required"`
	SessionID string           `json:"sessionId"`
	History   []models.Message `json:"history"`
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   s.identity.ServiceName,
		"version":   s.identity.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) identityHandler(c *gin.Context) {
	var lastUpdated interface{}
	if status, ok := s.expert.LastIngest(); ok {
		lastUpdated = status.CompletedAt.UTC().Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, gin.H{
		"name":         s.identity.Name,
		"type":         "knowledge-expert",
		"domain":       s.identity.domain(),
		"version":      s.identity.Version,
		"capabilities": s.identity.Capabilities,
		"knowledge_base": gin.H{
			"source":          s.identity.Source,
			"last_updated":    lastUpdated,
			"vector_store":    s.identity.VectorStore,
			"embedding_model": s.identity.EmbeddingModel,
		},
		"api_endpoints": apiEndpoints,
	})
}

func (s *Server) hello(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	c.JSON(http.StatusOK, gin.H{
		"message":     "Hello! I'm the " + s.identity.Name + " Agent",
		"description": "I answer questions about " + s.identity.Product + " using its documentation",
		"expertise":   s.identity.Capabilities,
		"ready":       s.expert.Ready(ctx) == nil,
	})
}

func (s *Server) capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"capabilities": s.identity.Topics})
}

func (s *Server) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics": s.monitor.Snapshot(),
		"report":  s.monitor.Report(),
		"status":  s.monitor.Status(),
	})
}

func (s *Server) ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Question is required"})
		return
	}

	start := time.Now()
	result, err := s.expert.Answer(c.Request.Context(), req.Question, conversationFrom(req.Context))
	latency := float64(time.Since(start).Milliseconds())

	if err != nil {
		s.monitor.Record(monitor.Metric{
			ProcessingLatency: latency,
			ErrorRate:         1,
		})
		s.fail(c, "Failed to process question", err)
		return
	}

	s.monitor.Record(monitor.Metric{
		ContextWindowUsage:  result.ContextUsage,
		ProcessingLatency:   latency,
		SemanticConsistency: result.Consistency,
	})

	c.JSON(http.StatusOK, gin.H{
		"answer":         result.Answer,
		"sources":        result.Sources,
		"confidence":     result.Confidence,
		"processingTime": time.Since(start).Milliseconds(),
	})
}

func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	}

	reply, err := s.expert.Chat(c.Request.Context(), req.Message, req.History, req.SessionID)
	if err != nil {
		s.fail(c, "Chat processing failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"response":    reply.Message,
		"sessionId":   reply.SessionID,
		"sources":     reply.Sources,
		"suggestions": reply.Suggestions,
	})
}

func (s *Server) search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query is required"})
		return
	}

	results, err := s.expert.Search(c.Request.Context(), req.Query, req.Limit)
	if err != nil {
		s.fail(c, "Search failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) refresh(c *gin.Context) {
	result, err := s.expert.Refresh(c.Request.Context())
	if err != nil {
		s.fail(c, "Failed to refresh knowledge base", err)
		return
	}

	lastUpdated := time.Now()
	if status, ok := s.expert.LastIngest(); ok {
		lastUpdated = status.CompletedAt
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"documentsProcessed": result.Documents,
		"chunkCount":         result.Chunks,
		"skipped":            result.Skipped,
		"pruned":             result.Pruned,
		"lastUpdated":        lastUpdated.UTC().Format(time.RFC3339),
	})
}

func (s *Server) fail(c *gin.Context, msg string, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

// statusFor maps core errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInitialization), errors.Is(err, models.ErrRetrieval):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// conversationFrom renders the optional ask context into conversation text
func conversationFrom(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}

	var obj struct {
		ConversationHistory json.RawMessage `json:"conversationHistory"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj.ConversationHistory) == 0 {
		return ""
	}

	// conversationHistory is either pre-rendered text or a message list
	if err := json.Unmarshal(obj.ConversationHistory, &text); err == nil {
		return strings.TrimSpace(text)
	}

	var history []models.Message
	if err := json.Unmarshal(obj.ConversationHistory, &history); err != nil {
		return ""
	}

	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
