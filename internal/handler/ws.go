package handler

import (
	"net/http"

	"github.com/devaloi/giftline/internal/client"
	"github.com/devaloi/giftline/internal/middleware"
)

// ServeWS authenticates the handshake, upgrades the connection and attaches
// it to the hub.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		writeFailure(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	userID, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		writeFailure(w, http.StatusUnauthorized, "invalid bearer token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Str("user", userID).Msg("ws upgrade failed")
		return
	}

	c := client.New(h.hub, conn, userID, h.opts.SendBuffer, h.log)
	h.hub.Connect(c)
	go c.WritePump()
	go c.ReadPump()
}
