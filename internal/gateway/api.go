// ABOUTME: HTTP API routes and handlers over the conversation service
// ABOUTME: chi routing, request metadata capture for audit, JSON decoding and responses

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/workroom-gateway/internal/auth"
	"github.com/2389/workroom-gateway/internal/conversation"
	"github.com/2389/workroom-gateway/internal/store"
)

// maxBodyBytes bounds request bodies. Ciphertext envelopes are the largest payload.
const maxBodyBytes = 4 << 20

// UpdateStatusRequest is the body of PATCH /api/conversations/{id}/status.
type UpdateStatusRequest struct {
	Status store.ConversationStatus `json:"status"`
}

// SubmitKeyRequest is the body of POST /api/conversations/{id}/keys.
type SubmitKeyRequest struct {
	PublicKey string `json:"public_key"`
	Rotate    bool   `json:"rotate,omitempty"`
}

// MarkReadRequest is the body of POST /api/conversations/{id}/messages/read.
type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// DeliveredResponse reports whether a delivery acknowledgement changed state.
type DeliveredResponse struct {
	MessageID string `json:"message_id"`
	Updated   bool   `json:"updated"`
}

// UpdateTaskRequest is the body of PATCH /api/conversations/{id}/tasks/{tid}.
type UpdateTaskRequest struct {
	Status store.TaskStatus `json:"status"`
}

// routes builds the HTTP handler.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestMeta)

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	r.Get("/ws", g.handleWebSocket)

	r.Route("/api/conversations", func(r chi.Router) {
		r.Use(g.authn.Middleware)

		r.With(auth.RequireService).Post("/", g.handleCreateConversation)
		r.Get("/", g.handleListConversations)

		r.Route("/{conversationID}", func(r chi.Router) {
			r.Get("/", g.handleGetConversation)
			r.With(auth.RequireService).Patch("/status", g.handleUpdateStatus)
			r.Post("/keys", g.handleSubmitKey)

			r.Get("/messages", g.handleGetMessages)
			r.Post("/messages", g.handleSendMessage)
			r.Post("/messages/read", g.handleMarkRead)
			r.Post("/messages/{messageID}/delivered", g.handleMarkDelivered)
			r.Delete("/messages/{messageID}", g.handleDeleteMessage)

			r.Get("/audit", g.handleListAudit)

			r.Get("/meetings", g.handleListMeetings)
			r.Post("/meetings", g.handleScheduleMeeting)
			r.Get("/documents", g.handleListDocuments)
			r.Post("/documents", g.handleShareDocument)
			r.Get("/tasks", g.handleListTasks)
			r.Post("/tasks", g.handleCreateTask)
			r.Patch("/tasks/{taskID}", g.handleUpdateTask)
			r.Post("/screenshare", g.handleStartScreenShare)
			r.Post("/screenshare/{sessionID}/end", g.handleEndScreenShare)
		})
	})

	return r
}

// requestMeta captures the client address and user agent for audit entries.
// It runs after RealIP so proxied requests record the forwarded address.
func requestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.RemoteAddr
		if host, _, err := net.SplitHostPort(origin); err == nil {
			origin = host
		}
		ctx := conversation.WithRequestMeta(r.Context(), conversation.RequestMeta{
			Origin:           origin,
			ClientDescriptor: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// decodeJSON reads a JSON body into dst, writing the error response on failure.
func (g *Gateway) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			g.sendInvalidInput(w, "request body is required")
		case errors.As(err, &maxErr):
			g.sendInvalidInput(w, "request body too large")
		default:
			g.sendInvalidInput(w, "invalid JSON body")
		}
		return false
	}
	return true
}

func callerID(r *http.Request) string {
	return auth.MustFromContext(r.Context()).PrincipalID
}

func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var in conversation.CreateConversationInput
	if !g.decodeJSON(w, r, &in) {
		return
	}
	view, err := g.conversation.CreateConversation(r.Context(), callerID(r), in)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, view)
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	views, err := g.conversation.ListConversations(r.Context(), callerID(r))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"conversations": views})
}

func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	view, err := g.conversation.GetConversation(r.Context(), chi.URLParam(r, "conversationID"), callerID(r))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, view)
}

func (g *Gateway) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	view, err := g.conversation.UpdateConversationStatus(r.Context(), chi.URLParam(r, "conversationID"), callerID(r), req.Status)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, view)
}

func (g *Gateway) handleSubmitKey(w http.ResponseWriter, r *http.Request) {
	var req SubmitKeyRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	result, err := g.conversation.SubmitPublicKey(r.Context(), chi.URLParam(r, "conversationID"), callerID(r), req.PublicKey, req.Rotate)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, result)
}

// parseMessagePage reads limit, before (RFC 3339) and include_deleted.
func parseMessagePage(r *http.Request) (conversation.MessagePage, error) {
	var page conversation.MessagePage
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, errors.New("limit must be an integer")
		}
		page.Limit = n
	}
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return page, errors.New("before must be an RFC 3339 timestamp")
		}
		page.Before = &t
	}
	if v := q.Get("include_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return page, errors.New("include_deleted must be a boolean")
		}
		page.IncludeDeleted = b
	}
	return page, nil
}

func (g *Gateway) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	page, err := parseMessagePage(r)
	if err != nil {
		g.sendInvalidInput(w, err.Error())
		return
	}
	msgs, err := g.conversation.GetMessages(r.Context(), chi.URLParam(r, "conversationID"), callerID(r), page)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var in conversation.SendMessageInput
	if !g.decodeJSON(w, r, &in) {
		return
	}
	result, err := g.conversation.SendMessage(r.Context(), chi.URLParam(r, "conversationID"), callerID(r), in)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	g.sendJSON(w, status, result)
}

func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	receipt, err := g.conversation.MarkRead(r.Context(), chi.URLParam(r, "conversationID"), callerID(r), req.MessageIDs)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, receipt)
}

func (g *Gateway) handleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	updated, err := g.conversation.MarkDelivered(r.Context(), chi.URLParam(r, "conversationID"), callerID(r), messageID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, DeliveredResponse{MessageID: messageID, Updated: updated})
}

func (g *Gateway) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	err := g.conversation.DeleteMessage(r.Context(), chi.URLParam(r, "conversationID"), callerID(r), chi.URLParam(r, "messageID"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := g.conversation.ListAudit(r.Context(), chi.URLParam(r, "conversationID"), callerID(r))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (g *Gateway) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	meetings, err := g.conversation.ListMeetings(r.Context(), chi.URLParam(r, "conversationID"), callerID(r))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"meetings": meetings})
}

func (g *Gateway) handleScheduleMeeting(w http.ResponseWriter, r *http.Request) {
	var in conversation.ScheduleMeetingInput
	if !g.decodeJSON(w, r, &in) {
		return
	}
	meeting, err := g.conversation.ScheduleMeeting(r.Context(), chi.URLParam(r, "conversationID"), callerID(r), in)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, meeting)
}

func (g *Gateway) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := g.conversation.ListDocuments(r.Context(), chi.URLParam(r, "conversationID"), callerID(r))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (g *Gateway) handleShareDocument(w http.ResponseWriter, r *http.Request) {
	var in conversation.ShareDocumentInput
	if !g.decodeJSON(w, r, &in) {
		return
	}
	doc, err := g.conversation.ShareDocument(r.Context(), chi.URLParam(r, "conversationID"), callerID(r), in)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, doc)
}

func (g *Gateway) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := g.conversation.ListTasks(r.Context(), chi.URLParam(r, "conversationID"), callerID(r))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (g *Gateway) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in conversation.CreateTaskInput
	if !g.decodeJSON(w, r, &in) {
		return
	}
	task, err := g.conversation.CreateTask(r.Context(), chi.URLParam(r, "conversationID"), callerID(r), in)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, task)
}

func (g *Gateway) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req UpdateTaskRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	task, err := g.conversation.UpdateTaskStatus(r.Context(), chi.URLParam(r, "conversationID"), callerID(r), chi.URLParam(r, "taskID"), req.Status)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, task)
}

func (g *Gateway) handleStartScreenShare(w http.ResponseWriter, r *http.Request) {
	session, err := g.conversation.StartScreenShare(r.Context(), chi.URLParam(r, "conversationID"), callerID(r))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, session)
}

func (g *Gateway) handleEndScreenShare(w http.ResponseWriter, r *http.Request) {
	session, err := g.conversation.EndScreenShare(r.Context(), chi.URLParam(r, "conversationID"), callerID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, session)
}
