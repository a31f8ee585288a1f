// ABOUTME: HTTP API handlers for chat turns, thread reads, listing and export
// ABOUTME: Maps conversation errors onto HTTP status codes with JSON bodies

package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/transcript"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes caps request bodies on the chat endpoints.
const maxBodyBytes = 1 << 20

// ChatRequest is the JSON request body for POST /chat.
type ChatRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Message  string `json:"message"`
}

// RetryRequest is the JSON request body for POST /chat/retry.
type RetryRequest struct {
	RetryToken string `json:"retry_token"`
}

// ChatResponse is the JSON shape of a thread, returned by turns and reads.
type ChatResponse struct {
	ThreadID     string   `json:"thread_id"`
	HumanMessage []string `json:"human_message"`
	AIResponse   []string `json:"Ai_response"`
	Heading      string   `json:"heading"`
}

// UnsavedTurnResponse is returned with 503 when a reply was computed but
// could not be stored.
type UnsavedTurnResponse struct {
	ChatResponse
	Persisted  bool   `json:"persisted"`
	RetryToken string `json:"retry_token"`
	Error      string `json:"error"`
}

// ThreadSummaryResponse is one entry of GET /chat.
type ThreadSummaryResponse struct {
	ThreadID string `json:"thread_id"`
	Heading  string `json:"heading"`
}

// DegradedListResponse is returned with 503 when the store cannot list threads.
type DegradedListResponse struct {
	Error   string                  `json:"error"`
	Threads []ThreadSummaryResponse `json:"threads"`
}

func newChatResponse(rec *store.ConversationRecord) ChatResponse {
	return ChatResponse{
		ThreadID:     rec.ThreadID,
		HumanMessage: rec.HumanMessages(),
		AIResponse:   rec.AgentReplies(),
		Heading:      rec.Heading,
	}
}

// handleChat dispatches /chat by method.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.handleSendTurn(w, r)
	case http.MethodGet:
		if threadID := strings.TrimSpace(r.URL.Query().Get("thread_id")); threadID != "" {
			g.handleGetThread(w, r, threadID)
			return
		}
		g.handleListThreads(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleSendTurn handles POST /chat.
// The thread id may be given as a query parameter or in the body; the query
// parameter wins. Without one a new thread is started.
func (g *Gateway) handleSendTurn(w http.ResponseWriter, r *http.Request) {
	req, err := parseChatRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q := r.URL.Query().Get("thread_id"); q != "" {
		req.ThreadID = q
	}

	res, err := g.conversation.HandleTurn(r.Context(), &conversation.TurnRequest{
		ThreadID: req.ThreadID,
		Message:  req.Message,
	})
	if err != nil {
		g.writeTurnError(w, res, err)
		return
	}
	g.writeJSON(w, http.StatusOK, newChatResponse(res.Record))
}

// handleRetry handles POST /chat/retry.
func (g *Gateway) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req RetryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.RetryToken) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "retry_token is required")
		return
	}

	res, err := g.conversation.RetryTurn(r.Context(), req.RetryToken)
	if err != nil {
		g.writeTurnError(w, res, err)
		return
	}
	g.writeJSON(w, http.StatusOK, newChatResponse(res.Record))
}

// handleGetThread handles GET /chat?thread_id=ID. It never calls the agent.
func (g *Gateway) handleGetThread(w http.ResponseWriter, r *http.Request, threadID string) {
	rec, err := g.conversation.GetThread(r.Context(), threadID)
	if err != nil {
		g.writeTurnError(w, nil, err)
		return
	}
	g.writeJSON(w, http.StatusOK, newChatResponse(rec))
}

// handleListThreads handles GET /chat without a thread id.
func (g *Gateway) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := g.conversation.ListThreads(r.Context())
	if err != nil {
		g.logger.Error("listing threads failed", "error", err)
		g.writeJSON(w, http.StatusServiceUnavailable, DegradedListResponse{
			Error:   err.Error(),
			Threads: []ThreadSummaryResponse{},
		})
		return
	}
	if len(threads) == 0 {
		g.sendJSONError(w, http.StatusNotFound, "No thread IDs found")
		return
	}

	response := make([]ThreadSummaryResponse, 0, len(threads))
	for _, t := range threads {
		response = append(response, ThreadSummaryResponse{ThreadID: t.ThreadID, Heading: t.Heading})
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleExport handles GET /chat/export?thread_id=ID&format=md|html.
func (g *Gateway) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	threadID := strings.TrimSpace(r.URL.Query().Get("thread_id"))
	if threadID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "thread_id is required")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = transcript.FormatMarkdown
	}

	rec, err := g.conversation.GetThread(r.Context(), threadID)
	if err != nil {
		g.writeTurnError(w, nil, err)
		return
	}

	body, err := transcript.Render(rec, format)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", transcript.ContentType(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// turnErrorStatus maps a conversation error to an HTTP status code.
func turnErrorStatus(err error) int {
	var upErr *conversation.UpstreamError
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrStaleRetry):
		return http.StatusConflict
	case errors.As(err, &upErr):
		if upErr.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.Is(err, conversation.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeTurnError renders err. A turn that computed a reply but failed to
// store it is rendered with the reply and its retry token.
func (g *Gateway) writeTurnError(w http.ResponseWriter, res *conversation.TurnResult, err error) {
	status := turnErrorStatus(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error("chat request failed", "status", status, "error", err)
	}

	if res != nil && res.Record != nil && !res.Persisted {
		g.writeJSON(w, status, UnsavedTurnResponse{
			ChatResponse: newChatResponse(res.Record),
			Persisted:    false,
			RetryToken:   res.RetryToken,
			Error:        err.Error(),
		})
		return
	}
	g.sendJSONError(w, status, err.Error())
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

// parseChatRequest parses and validates a ChatRequest from the given reader.
func parseChatRequest(r io.Reader) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r, maxBodyBytes)).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("message is required")
	}
	return &req, nil
}

// withCORS allows any origin to call the API.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
