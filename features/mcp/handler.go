package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"corpora/internal/corpus"
	"corpora/internal/middleware"
	"corpora/internal/retrieval"
	"corpora/internal/stream"
)

type Searcher interface {
	Search(ctx context.Context, query string, opts *retrieval.SearchOptions) ([]corpus.ScoredUnit, error)
}

type Asker interface {
	Ask(ctx context.Context, query string, stop *stream.StopFlag) iter.Seq2[stream.Event, error]
}

type Handler struct {
	searcher     Searcher
	asker        Asker
	sessions     map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock sync.RWMutex
	keepAlive    time.Duration
}

func NewHandler(s Searcher, a Asker) *Handler {
	return &Handler{
		searcher:  s,
		asker:     a,
		sessions:  make(map[string]chan string),
		keepAlive: 15 * time.Second,
	}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type SearchArgs struct {
	Query string `json:"query"`
	Limit *int   `json:"limit,omitempty"`
}

type AskArgs struct {
	Query string `json:"query"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

var tools = []Tool{
	{
		Name: "corpus_search",
		Description: `Searches the indexed corpus by semantic similarity and returns the matching passages with their source path and score.

USAGE EXAMPLE:
corpus_search(query="how are stale entries removed", limit=5)`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]string{
					"type":        "string",
					"description": "The search query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Max results to return. Defaults to the configured top-k.",
					"minimum":     1,
				},
			},
			"required": []string{"query"},
		},
	},
	{
		Name: "corpus_ask",
		Description: `Answers a question from the indexed corpus. Retrieved passages are condensed when they do not fit the model context, then an answer is generated.

USAGE EXAMPLE:
corpus_ask(query="What does byFile mode delete?")`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]string{
					"type":        "string",
					"description": "The question to answer",
				},
			},
			"required": []string{"query"},
		},
	},
}

// processRequest returns nil for notifications, which get no response.
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "corpora-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		return nil
	case "ping":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools}}
	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			slog.WarnContext(ctx, "invalid params structure", "error", err)
			resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
			return &resp
		}
		switch params.Name {
		case "corpus_search":
			return h.callSearch(ctx, req.ID, params.Arguments)
		case "corpus_ask":
			return h.callAsk(ctx, req.ID, params.Arguments)
		}
		slog.WarnContext(ctx, "tool not found", "tool", params.Name)
		resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found: "+params.Name)
		return &resp
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func (h *Handler) callSearch(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args SearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		slog.WarnContext(ctx, "invalid search arguments", "error", err)
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid search arguments")
		return &resp
	}
	if strings.TrimSpace(args.Query) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "Query is required")
		return &resp
	}

	results, err := h.searcher.Search(ctx, args.Query, &retrieval.SearchOptions{Limit: args.Limit})
	if err != nil {
		slog.ErrorContext(ctx, "search failed", "error", err)
		return toolError(id, err)
	}

	var sb strings.Builder
	if len(results) == 0 {
		sb.WriteString("No results found.")
	}
	for i, res := range results {
		fmt.Fprintf(&sb, "Result %d (Score: %.2f):\n", i+1, res.Score)
		fmt.Fprintf(&sb, "Source: %s\n", res.Unit.SourcePath)
		if len(res.Unit.HeaderPath) > 0 {
			fmt.Fprintf(&sb, "Section: %s\n", strings.Join(res.Unit.HeaderPath, " > "))
		}
		fmt.Fprintf(&sb, "Content:\n%s\n\n---\n", res.Unit.Text)
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", "corpus_search", "result_count", len(results))
	return toolText(id, sb.String())
}

// callAsk drains the run and returns the final answer text.
func (h *Handler) callAsk(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args AskArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		slog.WarnContext(ctx, "invalid ask arguments", "error", err)
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid ask arguments")
		return &resp
	}
	if strings.TrimSpace(args.Query) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "Query is required")
		return &resp
	}

	ctx = middleware.WithRunID(ctx, uuid.New().String())
	var answer string
	for ev, err := range h.asker.Ask(ctx, args.Query, nil) {
		if err != nil {
			slog.ErrorContext(ctx, "ask failed", "error", err)
			return toolError(id, err)
		}
		if ev.Status == stream.StatusGenerating {
			answer, _ = ev.Content.(string)
		}
	}
	if answer == "" {
		answer = "No answer generated."
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", "corpus_ask", "answer_length", len(answer))
	return toolText(id, answer)
}

func toolText(id interface{}, text string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  ToolResult{Content: []ToolContent{{Type: "text", Text: text}}},
	}
}

// toolError reports caller mistakes as invalid params and everything else
// as a failed tool result the client can show.
func toolError(id interface{}, err error) *JSONRPCResponse {
	if errors.Is(err, corpus.ErrUserInput) {
		resp := makeErrorResponse(id, ErrInvalidParams, err.Error())
		return &resp
	}
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: "Error: " + err.Error()}},
			IsError: true,
		},
	}
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

// ServeHTTP answers a single JSON-RPC request inline.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "mcp request received", "method", r.Method, "path", r.URL.Path)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.processRequest(ctx, req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// HandleSSE opens a session and relays responses to messages posted for it.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		middleware.WriteError(ctx, w, "STREAMING_UNSUPPORTED", "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		h.sessionsLock.Unlock()
		slog.InfoContext(ctx, "sse session ended", "session_id", sessionID)
	}()

	slog.InfoContext(ctx, "sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)

	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	fmt.Fprintf(w, "event: id\ndata: %s\n\n", html.EscapeString(sessionID))
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// HandleMessage accepts a JSON-RPC message for a session, answers 202 and
// delivers the response on the session's SSE stream.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "mcp message received", "method", r.Method, "path", r.URL.Path)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		slog.WarnContext(ctx, "missing sessionId in message request")
		middleware.WriteError(ctx, w, "VALIDATION_ERROR", "Missing sessionId", http.StatusBadRequest)
		return
	}

	if h.session(sessionID) == nil {
		slog.WarnContext(ctx, "session not found", "session_id", sessionID)
		middleware.WriteError(ctx, w, "NOT_FOUND", "Session not found", http.StatusNotFound)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.WarnContext(ctx, "invalid json in message request", "error", err)
		middleware.WriteError(ctx, w, "INVALID_JSON", "Invalid JSON", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// Keep request values such as the correlation id, drop its cancellation.
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		resp := h.processRequest(bgCtx, req)
		if resp == nil {
			return
		}
		respBytes, err := json.Marshal(resp)
		if err != nil {
			slog.ErrorContext(bgCtx, "failed to marshal response", "error", err)
			return
		}
		h.deliver(bgCtx, sessionID, string(respBytes))
	}()
}

func (h *Handler) session(id string) chan string {
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()
	return h.sessions[id]
}

// deliver drops the message when the session has ended or its buffer is full.
func (h *Handler) deliver(ctx context.Context, sessionID, msg string) {
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()

	msgChan, ok := h.sessions[sessionID]
	if !ok {
		slog.WarnContext(ctx, "session ended before response", "session_id", sessionID)
		return
	}
	select {
	case msgChan <- msg:
	default:
		slog.WarnContext(ctx, "session channel full, dropping message", "session_id", sessionID)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, id interface{}, code int, message string) {
	// JSON-RPC errors travel in a 200 response.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(makeErrorResponse(id, code, message)); err != nil {
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
