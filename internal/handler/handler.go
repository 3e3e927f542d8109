package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/devaloi/giftline/internal/chat"
	"github.com/devaloi/giftline/internal/domain"
	"github.com/devaloi/giftline/internal/hub"
	"github.com/devaloi/giftline/internal/identity"
	"github.com/devaloi/giftline/internal/profile"
	"github.com/devaloi/giftline/internal/store"
)

// Options configure the transport boundaries.
type Options struct {
	HandshakeTimeout time.Duration
	SendBuffer       int
	FilesDir         string
}

// Handler holds the dependencies shared by the HTTP and WebSocket handlers.
type Handler struct {
	chat     *chat.Service
	profile  *profile.Service
	hub      *hub.Hub
	store    store.Store
	auth     identity.Authenticator
	upgrader websocket.Upgrader
	opts     Options
	log      zerolog.Logger
}

// New creates a Handler.
func New(cs *chat.Service, ps *profile.Service, h *hub.Hub, s store.Store, auth identity.Authenticator, opts Options, logger zerolog.Logger) *Handler {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	return &Handler{
		chat:    cs,
		profile: ps,
		hub:     h,
		store:   s,
		auth:    auth,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		opts: opts,
		log:  logger.With().Str("component", "http").Logger(),
	}
}

// writeJSON sends a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, domain.Result{Error: true, Message: message})
}

// writeResult sends a service result. Business failures keep the success
// status; infrastructure failures become an opaque 500.
func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, status int, res domain.Result, err error) {
	if err != nil {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeFailure(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, status, res)
}
