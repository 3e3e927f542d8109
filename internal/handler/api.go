package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devaloi/giftline/internal/files"
	"github.com/devaloi/giftline/internal/middleware"
)

type createConversationRequest struct {
	RecipientID string `json:"recipientId"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// CreateConversation handles POST /chat.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID, _ := middleware.UserID(r.Context())
	res, err := h.chat.CreateConversation(r.Context(), userID, req.RecipientID)
	h.writeResult(w, r, http.StatusCreated, res, err)
}

// SendMessage handles POST /chat/{conversationId}.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID, _ := middleware.UserID(r.Context())
	res, err := h.chat.SendMessage(r.Context(), userID, chi.URLParam(r, "conversationId"), req.Content)
	h.writeResult(w, r, http.StatusCreated, res, err)
}

// ListConversations handles GET /chat.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	res, err := h.chat.ListConversations(r.Context(), userID)
	h.writeResult(w, r, http.StatusOK, res, err)
}

// GetConversation handles GET /chat/{conversationId}.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	res, err := h.chat.GetConversation(r.Context(), userID, chi.URLParam(r, "conversationId"))
	h.writeResult(w, r, http.StatusOK, res, err)
}

// ListUsers handles GET /users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	res, err := h.profile.ListUsers(r.Context())
	h.writeResult(w, r, http.StatusOK, res, err)
}

// GetUser handles GET /users/{userId}. The id "me" names the caller.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "me" {
		userID, _ = middleware.UserID(r.Context())
	}
	res, err := h.profile.GetUser(r.Context(), userID)
	h.writeResult(w, r, http.StatusOK, res, err)
}

// UpdateAvatar handles PUT /users/me/avatar with the raw image as body.
func (h *Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, files.MaxUploadSize+1))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "could not read the upload")
		return
	}
	userID, _ := middleware.UserID(r.Context())
	res, err := h.profile.UpdateAvatar(r.Context(), userID, data)
	h.writeResult(w, r, http.StatusOK, res, err)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Store       string `json:"store"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
	Timestamp   string `json:"timestamp"`
}

// Health reports store reachability and gateway occupancy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Store: "pass", Timestamp: time.Now().UTC().Format(time.RFC3339)}
	resp.Connections, resp.Rooms = h.hub.Registry().Stats()

	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("store ping failed")
		resp.Status, resp.Store = "degraded", "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	if err := dec.Decode(v); err != nil {
		writeFailure(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}
