// Package api exposes the HTTP surface: query submission, SSE progress
// streaming, cancellation, and capability discovery.
package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/agents"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/catalog"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/pipeline"
)

// Server wires the HTTP handlers over the coordinator.
type Server struct {
	coordinator *pipeline.Coordinator
	emitter     *Emitter
	catalog     *catalog.Catalog
	specials    *agents.SpecialRegistry
	engine      *gin.Engine
}

// NewServer builds the router. The emitter must be the coordinator's event
// sink, otherwise streams see nothing.
func NewServer(coord *pipeline.Coordinator, emitter *Emitter, cat *catalog.Catalog, specials *agents.SpecialRegistry) *Server {
	s := &Server{coordinator: coord, emitter: emitter, catalog: cat, specials: specials}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	engine.GET("/health", s.health)
	engine.POST("/start-process", s.startProcess)
	engine.GET("/stream-updates/:process_id", s.streamUpdates)
	engine.POST("/cancel/:process_id", s.cancelProcess)
	engine.GET("/available-tools", s.availableTools)

	s.engine = engine
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// requestLogger logs one line per request with latency and status.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type startRequest struct {
	Query string `json:"query" binding:"required"`
}

// startProcess sanitizes and plans synchronously, returning the plan for
// client confirmation. Execution starts when the event stream attaches.
func (s *Server) startProcess(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be {\"query\": \"...\"}"})
		return
	}

	proc, err := s.coordinator.Prepare(c.Request.Context(), req.Query)
	if err != nil {
		var perr *models.PipelineError
		if errors.As(err, &perr) && proc != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"process_id": proc.Query.ProcessID,
				"error_code": perr.Code,
				"message":    models.UserMessage(perr.Code),
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"process_id": proc.Query.ProcessID,
		"status":     proc.Status(),
		"flow":       proc.Flow,
	}
	if proc.Flow == string(agents.FlowSpecial) {
		resp["special_tool"] = proc.Special
	} else {
		resp["plan"] = proc.Plan
		resp["confidence"] = proc.Plan.Confidence
	}
	if len(proc.Query.Warnings) > 0 {
		resp["warnings"] = proc.Query.Warnings
	}
	c.JSON(http.StatusOK, resp)
}

// streamUpdates attaches an SSE stream to a prepared process, starting
// execution on first attach. Reconnects replay the backlog, terminal event
// included.
func (s *Server) streamUpdates(c *gin.Context) {
	id := c.Param("process_id")
	proc, ok := s.coordinator.Registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown process id"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ch, cancel := s.emitter.Subscribe(id)
	defer cancel()

	go s.coordinator.Run(proc)

	c.Stream(func(w io.Writer) bool {
		ev, open := <-ch
		if !open {
			return false
		}
		c.SSEvent(string(ev.Type), ev.Payload)
		return true
	})
}

// cancelProcess requests cooperative cancellation of an in-flight query.
func (s *Server) cancelProcess(c *gin.Context) {
	id := c.Param("process_id")
	if _, ok := s.coordinator.Registry.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown process id"})
		return
	}
	if !s.coordinator.Cancel(id) {
		c.JSON(http.StatusConflict, gin.H{"error": "process already finished"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"process_id": id, "status": "cancelling"})
}

// availableTools reports what the engine can reach: mirror tables, API
// endpoints, and special tools.
func (s *Server) availableTools(c *gin.Context) {
	tables := s.catalog.Tables()
	tableOut := make([]gin.H, len(tables))
	for i, t := range tables {
		cols := make([]string, len(t.Columns))
		for j, col := range t.Columns {
			cols[j] = col.Name
		}
		tableOut[i] = gin.H{"name": t.Name, "columns": cols}
	}

	endpoints := s.catalog.Endpoints()
	endpointOut := make([]gin.H, len(endpoints))
	for i, e := range endpoints {
		endpointOut[i] = gin.H{
			"entity":      e.Entity,
			"operation":   e.Operation,
			"http_method": e.Method,
			"url_pattern": e.URLPattern,
		}
	}

	specialOut := make([]gin.H, 0)
	for _, tool := range s.specials.List() {
		specialOut = append(specialOut, gin.H{
			"name":        tool.Name(),
			"description": tool.Description(),
			"params":      tool.Params(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"tables":        tableOut,
		"endpoints":     endpointOut,
		"special_tools": specialOut,
	})
}
