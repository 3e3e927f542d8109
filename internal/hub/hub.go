package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/devaloi/giftline/internal/domain"
	"github.com/devaloi/giftline/internal/metrics"
)

// ErrStopped is returned by Publish once the hub has been stopped.
var ErrStopped = errors.New("hub stopped")

// Client is the interface that the hub expects from a live connection.
type Client interface {
	ID() string
	UserID() string
	// Send queues data for the connection. It reports false when the
	// connection is closed or cannot accept more data.
	Send(data []byte) bool
}

// JoinAuthorizer decides whether a user may join a conversation room.
type JoinAuthorizer interface {
	CanJoin(ctx context.Context, userID, conversationID string) error
}

// AuthorizerFunc adapts a function to JoinAuthorizer.
type AuthorizerFunc func(ctx context.Context, userID, conversationID string) error

// CanJoin calls f.
func (f AuthorizerFunc) CanJoin(ctx context.Context, userID, conversationID string) error {
	return f(ctx, userID, conversationID)
}

// Publication is a payload addressed to one room.
type Publication struct {
	Room    string
	Payload []byte
}

// Hub is the realtime gateway: it owns the connection registry and fans out
// room publications to live connections.
type Hub struct {
	registry *Registry
	authz    JoinAuthorizer
	log      zerolog.Logger

	mu      sync.RWMutex
	clients map[string]Client

	publish  chan Publication
	quit     chan struct{}
	stopOnce sync.Once
}

// New creates a new Hub. A nil authorizer admits every join request.
func New(logger zerolog.Logger, authz JoinAuthorizer, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		registry: NewRegistry(),
		authz:    authz,
		log:      logger.With().Str("component", "hub").Logger(),
		clients:  make(map[string]Client),
		publish:  make(chan Publication, buffer),
		quit:     make(chan struct{}),
	}
}

// Run drains queued publications in order. Should be called as a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case p := <-h.publish:
			h.Broadcast(p.Room, p.Payload)
		case <-h.quit:
			return
		}
	}
}

// Stop signals the hub's loop to exit.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Registry exposes the hub's connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Publish queues a payload for broadcast to a room. Publications are
// delivered in the order they were queued.
func (h *Hub) Publish(ctx context.Context, room string, payload []byte) error {
	select {
	case <-h.quit:
		return ErrStopped
	default:
	}
	select {
	case h.publish <- Publication{Room: room, Payload: payload}:
		return nil
	case <-h.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect registers an authenticated connection and confirms the handshake.
func (h *Hub) Connect(c Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	h.mu.Unlock()
	h.registry.Register(c.ID(), c.UserID())
	metrics.ConnectionsActive.Inc()

	h.log.Debug().Str("conn", c.ID()).Str("user", c.UserID()).Msg("connection registered")

	confirm := domain.ConfirmationEvent{
		Type:         domain.EventConfirmation,
		ConnectionID: c.ID(),
		UserID:       c.UserID(),
	}
	if data, err := domain.Encode(confirm); err == nil {
		c.Send(data)
	}
}

// Disconnect removes a connection and all of its room memberships.
func (h *Hub) Disconnect(c Client) {
	h.mu.Lock()
	cur, ok := h.clients[c.ID()]
	if ok && cur == c {
		delete(h.clients, c.ID())
	}
	h.mu.Unlock()
	if !ok || cur != c {
		return
	}
	h.registry.Unregister(c.ID())
	metrics.ConnectionsActive.Dec()

	h.log.Debug().Str("conn", c.ID()).Str("user", c.UserID()).Msg("connection unregistered")
}

// Join admits a connection to a conversation room after checking that its
// user may join.
func (h *Hub) Join(ctx context.Context, c Client, conversationID string) error {
	if conversationID == "" {
		metrics.RoomJoins.WithLabelValues("rejected").Inc()
		return domain.InvalidArgument("conversation id required")
	}
	if _, ok := h.registry.UserOf(c.ID()); !ok {
		metrics.RoomJoins.WithLabelValues("rejected").Inc()
		return domain.Unauthenticated("connection is not registered")
	}
	if h.authz != nil {
		if err := h.authz.CanJoin(ctx, c.UserID(), conversationID); err != nil {
			metrics.RoomJoins.WithLabelValues("rejected").Inc()
			return err
		}
	}
	if !h.registry.JoinRoom(c.ID(), conversationID) {
		metrics.RoomJoins.WithLabelValues("rejected").Inc()
		return domain.Unauthenticated("connection is not registered")
	}
	metrics.RoomJoins.WithLabelValues("ok").Inc()
	h.log.Debug().Str("conn", c.ID()).Str("room", conversationID).Msg("room joined")
	return nil
}

// Leave removes a connection from a conversation room it has joined.
func (h *Hub) Leave(c Client, conversationID string) error {
	if conversationID == "" {
		return domain.InvalidArgument("conversation id required")
	}
	if !lo.Contains(h.registry.RoomsOf(c.ID()), conversationID) {
		return domain.NotFound("you have not joined this conversation")
	}
	h.registry.LeaveRoom(c.ID(), conversationID)
	h.log.Debug().Str("conn", c.ID()).Str("room", conversationID).Msg("room left")
	return nil
}

// Broadcast pushes payload to every live connection in a room and returns
// how many accepted it. Connections that are gone or full are skipped.
func (h *Hub) Broadcast(room string, payload []byte) int {
	delivered := 0
	for _, id := range h.registry.MembersOf(room) {
		h.mu.RLock()
		c, ok := h.clients[id]
		h.mu.RUnlock()
		if !ok || !c.Send(payload) {
			metrics.Deliveries.WithLabelValues("skipped").Inc()
			h.log.Debug().Str("conn", id).Str("room", room).Msg("delivery skipped")
			continue
		}
		metrics.Deliveries.WithLabelValues("delivered").Inc()
		delivered++
	}
	return delivered
}
