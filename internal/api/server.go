// Package api exposes the docs expert over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/developer-mesh/docs-expert/internal/config"
	"github.com/developer-mesh/docs-expert/internal/models"
	"github.com/developer-mesh/docs-expert/internal/monitor"
	"github.com/developer-mesh/docs-expert/internal/rag"
	"github.com/developer-mesh/docs-expert/internal/resilience"
	"github.com/developer-mesh/docs-expert/pkg/observability"
)

// Expert is the question answering core served by the API
type Expert interface {
	Answer(ctx context.Context, question, conversation string) (*models.AnswerResult, error)
	Chat(ctx context.Context, message string, history []models.Message, sessionID string) (*models.ChatResult, error)
	Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
	Refresh(ctx context.Context) (*models.IngestResult, error)
	Ready(ctx context.Context) error
	LastIngest() (rag.IngestStatus, bool)
}

// Topic is one area of expertise advertised by /api/capabilities
type Topic struct {
	Description string   `json:"description"`
	Examples    []string `json:"examples"`
}

// Identity describes the agent to callers
type Identity struct {
	Name           string
	ServiceName    string
	Version        string
	Product        string
	Source         string
	VectorStore    string
	EmbeddingModel string
	Capabilities   []string
	Topics         map[string]Topic
}

// NewIdentity builds the identity advertised for cfg
func NewIdentity(cfg *config.Config, version string) Identity {
	product := cfg.Knowledge.ProductName
	store := "in-memory"
	if cfg.Database.Driver == "postgres" {
		store = "postgresql-pgvector"
	}

	return Identity{
		Name:           product + " Expert",
		ServiceName:    cfg.Service.Name,
		Version:        version,
		Product:        product,
		Source:         product + " Documentation",
		VectorStore:    store,
		EmbeddingModel: cfg.Embedding.Model,
		Capabilities: []string{
			"configuration",
			"plugin-development",
			"deployment-guidance",
			"troubleshooting",
			"content-migration",
		},
		Topics: map[string]Topic{
			"configuration": {
				Description: fmt.Sprintf("Help with %s configuration", product),
				Examples:    []string{"How do I configure a custom theme?", "What are the available plugin options?"},
			},
			"plugins": {
				Description: "Plugin development and customization",
				Examples:    []string{"How do I create a custom transformer?", "Creating a new emitter plugin"},
			},
			"deployment": {
				Description: "Deployment and hosting guidance",
				Examples:    []string{"Deploy to GitHub Pages", "Setting up a custom domain"},
			},
			"troubleshooting": {
				Description: "Debug and fix common issues",
				Examples:    []string{"Build errors", "Performance problems"},
			},
			"migration": {
				Description: "Content migration from other platforms",
				Examples:    []string{"Migrating from Obsidian", "Converting from Jekyll"},
			},
		},
	}
}

func (i Identity) domain() string {
	return strings.ToLower(strings.ReplaceAll(i.Product, " ", "-")) + "-documentation"
}

// Server holds the API handlers
type Server struct {
	expert   Expert
	monitor  *monitor.Monitor
	identity Identity
	limiter  *resilience.RateLimiter
	logger   observability.Logger
}

// NewServer creates the API server. Rate limiting is applied when enabled
// in cfg. A local, non-forwarding monitor is used when mon is nil.
func NewServer(expert Expert, mon *monitor.Monitor, identity Identity, cfg config.RateLimitingConfig, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	logger = logger.WithPrefix("api")
	if mon == nil {
		mon = monitor.New(identity.ServiceName, config.MonitorConfig{}, nil, logger)
	}

	s := &Server{
		expert:   expert,
		monitor:  mon,
		identity: identity,
		logger:   logger,
	}
	if cfg.Enabled {
		s.limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
			RequestsPerSecond: cfg.RequestsPerSecond,
			BurstSize:         cfg.Burst,
		}, logger)
	}
	return s
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))

	api := router.Group("/api")
	api.GET("/health", s.health)
	api.GET("/identity", s.identityHandler)
	api.GET("/hello", s.hello)
	api.GET("/capabilities", s.capabilities)
	api.GET("/metrics", s.metrics)

	limited := api.Group("")
	if s.limiter != nil {
		limited.Use(s.limiter.Middleware())
	}
	limited.POST("/ask", s.ask)
	limited.POST("/chat", s.chat)
	limited.POST("/knowledge/search", s.search)
	limited.POST("/knowledge/refresh", s.refresh)

	return router
}

// RequestLogger logs each request with its status and latency
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		fields := map[string]interface{}{
			"method":    c.Request.Method,
			"path":      path,
			"status":    status,
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		if status >= http.StatusInternalServerError {
			logger.Warn("Request failed", fields)
			return
		}
		logger.Debug("Request handled", fields)
	}
}
