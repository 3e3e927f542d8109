package store

import (
	"context"

	"github.com/devaloi/giftline/internal/domain"
)

// Store defines conversation persistence. Business failures are returned as
// domain errors (domain.ErrNotFound and friends); anything else is an
// infrastructure failure.
type Store interface {
	// CreateUser inserts a user. Identity is owned elsewhere; this exists for
	// provisioning and tests.
	CreateUser(ctx context.Context, u domain.User) (*domain.User, error)
	// GetUser returns a user or domain.ErrNotFound.
	GetUser(ctx context.Context, id string) (*domain.User, error)
	// ListUsers returns every user ordered by first name, then id.
	ListUsers(ctx context.Context) ([]domain.User, error)
	// SetAvatar replaces a user's avatar file key and returns the previous one.
	SetAvatar(ctx context.Context, userID, fileKey string) (string, error)

	// CreateConversation creates a two-party conversation with no messages.
	CreateConversation(ctx context.Context, initiatorID, recipientID string) (*domain.Conversation, error)
	// FindConversationBetween returns the id of an existing conversation
	// whose participants are exactly a and b, or "" if there is none.
	FindConversationBetween(ctx context.Context, a, b string) (string, error)
	// AppendMessage inserts a message and bumps updatedAt atomically. The
	// returned conversation lists messages oldest first.
	AppendMessage(ctx context.Context, conversationID, senderID, content string) (*domain.Conversation, *domain.Message, error)
	// ListConversationsForUser returns summaries ordered by updatedAt, newest first.
	ListConversationsForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error)
	// GetConversation returns a conversation with messages oldest first.
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
	// IsParticipant reports whether userID belongs to the conversation. It
	// returns domain.ErrNotFound when the conversation does not exist.
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	Ping(ctx context.Context) error
	// Close releases any resources held by the store.
	Close() error
}

// Messages returned for the same conversation are ordered by this key.
const messageOrder = "m.created_at ASC, m.seq ASC"

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
