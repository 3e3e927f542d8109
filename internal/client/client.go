package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/devaloi/giftline/internal/domain"
	"github.com/devaloi/giftline/internal/hub"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Time allowed to authorize a room join.
	joinTimeout = 5 * time.Second
)

// Client is an authenticated WebSocket connection attached to the hub.
type Client struct {
	id     string
	userID string
	hub    *hub.Hub
	conn   *websocket.Conn
	send   chan []byte
	log    zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a Client for userID with a fresh connection id. buffer bounds
// the number of queued outbound frames.
func New(h *hub.Hub, conn *websocket.Conn, userID string, buffer int, logger zerolog.Logger) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:     id,
		userID: userID,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, buffer),
		log:    logger.With().Str("conn", id).Str("user", userID).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// UserID returns the authenticated user.
func (c *Client) UserID() string {
	return c.userID
}

// Send queues a frame for the connection. It reports false once the
// connection is closed or when its buffer is full.
func (c *Client) Send(data []byte) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.ctx.Done():
		return false
	default:
		c.log.Warn().Msg("send buffer full, dropping frame")
		return false
	}
}

// Close detaches the connection from the hub and closes the socket. It is
// safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.hub.Disconnect(c)
		c.conn.Close()
	})
}

// ReadPump reads frames from the WebSocket connection and handles them until
// the peer goes away.
func (c *Client) ReadPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("read error")
			}
			return
		}
		c.handleEvent(data)
	}
}

// WritePump writes queued frames to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) handleEvent(data []byte) {
	ev, err := domain.DecodeEvent(data)
	if err != nil {
		c.sendError("invalid JSON")
		return
	}

	switch ev.Type {
	case domain.EventJoinRoom:
		ctx, cancel := context.WithTimeout(c.ctx, joinTimeout)
		defer cancel()
		if err := c.hub.Join(ctx, c, ev.ConversationID); err != nil {
			var be *domain.Error
			if errors.As(err, &be) {
				c.sendError(be.Msg)
				return
			}
			c.log.Error().Err(err).Str("room", ev.ConversationID).Msg("join failed")
			c.sendError("could not join the conversation")
			return
		}
		joined := domain.JoinedEvent{Type: domain.EventJoined, ConversationID: ev.ConversationID}
		if data, err := domain.Encode(joined); err == nil {
			c.Send(data)
		}

	case domain.EventLeaveRoom:
		if err := c.hub.Leave(c, ev.ConversationID); err != nil {
			var be *domain.Error
			if errors.As(err, &be) {
				c.sendError(be.Msg)
			}
			return
		}
		left := domain.LeftEvent{Type: domain.EventLeft, ConversationID: ev.ConversationID}
		if data, err := domain.Encode(left); err == nil {
			c.Send(data)
		}

	default:
		c.sendError("unknown event type: " + ev.Type)
	}
}

func (c *Client) sendError(message string) {
	errEv := domain.ErrorEvent{Type: domain.EventError, Message: message}
	if data, err := domain.Encode(errEv); err == nil {
		c.Send(data)
	}
}
