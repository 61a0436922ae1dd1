package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mikeboe/frontier-scout/pkg/exploration"
	"github.com/mikeboe/frontier-scout/pkg/library"
	"github.com/mikeboe/frontier-scout/pkg/tools"
)

// MCPSession represents an MCP session
type MCPSession struct {
	ID      string
	Created int64
}

var (
	mcpSessions = make(map[string]*MCPSession)
	sessionMu   sync.RWMutex
)

// MCPRequest represents an MCP JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an MCP JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents an MCP error
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Handler struct {
	Service  *Service
	Engine   *exploration.Engine
	Executor *tools.Executor
	Library  *library.Store
	Limiter  *RateLimiter
}

func NewHandler(s *Service, engine *exploration.Engine, lib *library.Store, limiter *RateLimiter) *Handler {
	return &Handler{
		Service:  s,
		Engine:   engine,
		Executor: engine.Executor,
		Library:  lib,
		Limiter:  limiter,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/mcp", h.MCPHandler)
	r.GET("/api/health", h.health)

	api := r.Group("/api")
	if h.Limiter != nil {
		api.Use(h.Limiter.Middleware())
	}
	{
		api.POST("/explorations", h.createExploration)
		api.GET("/explorations", h.listExplorations)
		api.GET("/explorations/:id", h.getExploration)
		api.GET("/explorations/:id/logs", h.getExplorationLogs)
		api.POST("/explorations/stream", h.streamExploration)

		api.GET("/library/search", h.searchLibrary)
	}
}

// MCPHandler handles MCP protocol requests
func (h *Handler) MCPHandler(c *gin.Context) {
	sessionID := c.GetHeader("Mcp-Session-Id")

	var req MCPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      nil,
			Error: &MCPError{
				Code:    -32700,
				Message: "Parse error",
			},
		})
		return
	}

	// Handle initialize request
	if req.Method == "initialize" {
		if sessionID == "" {
			sessionID = uuid.New().String()
			c.Header("Mcp-Session-Id", sessionID)

			sessionMu.Lock()
			mcpSessions[sessionID] = &MCPSession{
				ID:      sessionID,
				Created: time.Now().Unix(),
			}
			sessionMu.Unlock()
		}

		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"serverInfo": map[string]interface{}{
					"name":    "frontier-scout-mcp",
					"version": "1.0.0",
				},
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
			},
		})
		return
	}

	// Validate session for other requests
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32000,
				Message: "Bad Request: No valid session ID provided",
			},
		})
		return
	}

	sessionMu.RLock()
	_, exists := mcpSessions[sessionID]
	sessionMu.RUnlock()

	if !exists {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32000,
				Message: "Invalid session ID",
			},
		})
		return
	}

	switch req.Method {
	case "tools/list":
		h.handleToolsList(c, req)
	case "tools/call":
		h.handleToolsCall(c, req)
	case "ping":
		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		})
	default:
		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32601,
				Message: "Method not found",
			},
		})
	}
}

// The MCP surface exposes the evidence tools only. finish_research is a loop
// control signal, meaningless outside a running exploration.
func (h *Handler) handleToolsList(c *gin.Context, req MCPRequest) {
	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": []map[string]interface{}{
				{
					"name":        tools.ToolSearchPapers,
					"description": "Search academic papers via Semantic Scholar.",
					"inputSchema": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"query": map[string]interface{}{
								"type":        "string",
								"description": "The search query.",
							},
							"limit": map[string]interface{}{
								"type":        "number",
								"description": "Maximum number of papers to return.",
								"default":     tools.DefaultPaperLimit,
							},
						},
						"required": []string{"query"},
					},
				},
				{
					"name":        tools.ToolSearchWeb,
					"description": "Search the web for recent developments.",
					"inputSchema": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"query": map[string]interface{}{
								"type":        "string",
								"description": "The search query.",
							},
							"limit": map[string]interface{}{
								"type":        "number",
								"description": "Maximum number of results to return.",
								"default":     tools.DefaultWebLimit,
							},
						},
						"required": []string{"query"},
					},
				},
				{
					"name":        tools.ToolGetPaperDetails,
					"description": "Fetch full details for one paper by its Semantic Scholar id.",
					"inputSchema": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"paperId": map[string]interface{}{
								"type":        "string",
								"description": "The Semantic Scholar paper id.",
							},
						},
						"required": []string{"paperId"},
					},
				},
			},
		},
	})
}

func (h *Handler) handleToolsCall(c *gin.Context, req MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32602,
				Message: "Invalid params",
			},
		})
		return
	}

	switch params.Name {
	case tools.ToolSearchPapers, tools.ToolSearchWeb, tools.ToolGetPaperDetails:
	default:
		h.sendError(c, req.ID, -32601, fmt.Sprintf("Tool not found: %s", params.Name))
		return
	}

	inv, err := tools.ParseInvocation(params.Name, params.Arguments)
	if err != nil {
		h.sendError(c, req.ID, -32602, err.Error())
		return
	}

	outcome := h.Executor.Execute(c.Request.Context(), []tools.Invocation{inv})[0]
	if outcome.Err != "" {
		h.sendError(c, req.ID, -32603, outcome.Err)
		return
	}

	h.sendResult(c, req.ID, outcome.Result)
}

func (h *Handler) sendError(c *gin.Context, id interface{}, code int, msg string) {
	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: msg,
		},
	})
}

func (h *Handler) sendResult(c *gin.Context, id interface{}, result interface{}) {
	payload, err := json.Marshal(result)
	if err != nil {
		h.sendError(c, id, -32603, "result could not be encoded")
		return
	}

	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": string(payload),
				},
			},
		},
	})
}

func (h *Handler) createExploration(c *gin.Context) {
	var req CreateExplorationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.Service.CreateExploration(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (h *Handler) listExplorations(c *gin.Context) {
	jobs, err := h.Service.ListExplorations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Return empty list instead of null
	if jobs == nil {
		jobs = []Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *Handler) getExploration(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	job, err := h.Service.GetExploration(c.Request.Context(), id)
	if errors.Is(err, ErrExplorationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *Handler) getExplorationLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	logs, err := h.Service.GetExplorationLogs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if logs == nil {
		logs = []LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

// streamExploration runs the research inline and streams progress events as
// SSE frames. The loop runs on a context detached from the request so a
// dropped client never cancels research mid-flight; the result is persisted
// either way. The terminal complete frame is held back until the job is
// saved and goes out carrying the full exploration in its detail field.
func (h *Handler) streamExploration(c *gin.Context) {
	var req CreateExplorationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, loopReq, err := h.Service.BeginExploration(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Transfer-Encoding", "chunked")

	writeFrame := func(ev exploration.ProgressEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		_, _ = c.Writer.Write([]byte("data: "))
		_, _ = c.Writer.Write(data)
		_, _ = c.Writer.Write([]byte("\n\n"))
		c.Writer.Flush()
	}

	var held *exploration.ProgressEvent
	sink := func(ev exploration.ProgressEvent) {
		if ev.Stage == exploration.StageComplete {
			held = &ev
			return
		}
		writeFrame(ev)
	}

	ctx := context.WithoutCancel(c.Request.Context())

	dbLogger := slog.New(NewDBLogHandler(h.Service.DB, job.ID))
	engine := *h.Engine
	engine.Logger = dbLogger

	ex, err := engine.Explore(ctx, loopReq, sink)
	if err != nil {
		h.Service.failExploration(ctx, job.ID, fmt.Sprintf("Research failed: %v", err))
		return
	}

	h.Service.finishExploration(ctx, job.ID, ex, dbLogger)

	if held != nil {
		held.Detail = ex
		writeFrame(*held)
	}
}

func (h *Handler) searchLibrary(c *gin.Context) {
	if h.Library == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "library is not configured"})
		return
	}

	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter q"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	entries, err := h.Library.Search(c.Request.Context(), query, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []library.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) health(c *gin.Context) {
	resp := gin.H{"status": "ok", "time": time.Now().UTC()}

	if h.Service != nil && h.Service.DB != nil {
		if err := h.Service.DB.Pool.Ping(c.Request.Context()); err != nil {
			resp["status"] = "degraded"
			resp["database"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "ok"

		if h.Library != nil {
			if size, err := h.Library.Size(c.Request.Context()); err == nil {
				resp["librarySize"] = size
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}
