// ABOUTME: Maps conversation error kinds to HTTP status codes and JSON error bodies
// ABOUTME: Internal causes are logged, never rendered

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/workroom-gateway/internal/conversation"
)

// ErrorBody is the payload of every error response and error frame.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

// statusForKind maps an error kind to its HTTP status.
func statusForKind(kind conversation.Kind) int {
	switch kind {
	case conversation.KindNotFound:
		return http.StatusNotFound
	case conversation.KindInvalidState, conversation.KindConflict:
		return http.StatusConflict
	case conversation.KindInvalidInput:
		return http.StatusBadRequest
	case conversation.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// errorBodyFor renders err for callers. Errors from outside the conversation
// package become a generic internal error.
func errorBodyFor(err error) ErrorBody {
	kind := conversation.KindOf(err)
	msg := "internal error"
	var ce *conversation.Error
	if errors.As(err, &ce) && kind != conversation.KindInternal {
		msg = ce.Message
	}
	return ErrorBody{Kind: string(kind), Message: msg}
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendError writes the error response for an operation failure.
func (g *Gateway) sendError(w http.ResponseWriter, r *http.Request, err error) {
	kind := conversation.KindOf(err)
	if kind == conversation.KindInternal {
		g.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}
	g.sendJSON(w, statusForKind(kind), errorResponse{Error: errorBodyFor(err)})
}

// sendInvalidInput rejects a request before it reaches the service.
func (g *Gateway) sendInvalidInput(w http.ResponseWriter, message string) {
	g.sendJSON(w, http.StatusBadRequest, errorResponse{Error: ErrorBody{
		Kind:    string(conversation.KindInvalidInput),
		Message: message,
	}})
}
