package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devaloi/giftline/internal/domain"
)

// PostgresStore implements Store on a PostgreSQL connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			first_name TEXT NOT NULL,
			avatar_file_key TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			PRIMARY KEY (conversation_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id);
		CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id TEXT NOT NULL REFERENCES users(id),
			content TEXT NOT NULL CHECK (content <> ''),
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at, seq);
	`)
	return err
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CreateUser inserts a user, generating an id when none is set.
func (s *PostgresStore) CreateUser(ctx context.Context, u domain.User) (*domain.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = pgNow()
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO users (id, first_name, avatar_file_key, created_at) VALUES ($1, $2, $3, $4)",
		u.ID, u.FirstName, u.AvatarFileKey, u.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

// GetUser returns a user by id.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return pgGetUser(ctx, s.pool, id)
}

func pgGetUser(ctx context.Context, q pgQuerier, id string) (*domain.User, error) {
	var u domain.User
	err := q.QueryRow(ctx,
		"SELECT id, first_name, avatar_file_key, created_at FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.FirstName, &u.AvatarFileKey, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("user does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

// ListUsers returns every user ordered by first name, then id.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, first_name, avatar_file_key, created_at FROM users ORDER BY first_name, id",
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.User, error) {
		var u domain.User
		err := row.Scan(&u.ID, &u.FirstName, &u.AvatarFileKey, &u.CreatedAt)
		u.CreatedAt = u.CreatedAt.UTC()
		return u, err
	})
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

// SetAvatar replaces a user's avatar file key and returns the previous one.
func (s *PostgresStore) SetAvatar(ctx context.Context, userID, fileKey string) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var prev string
	err = tx.QueryRow(ctx,
		"SELECT avatar_file_key FROM users WHERE id = $1 FOR UPDATE", userID,
	).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.NotFound("user does not exist")
	}
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE users SET avatar_file_key = $1 WHERE id = $2", fileKey, userID,
	); err != nil {
		return "", fmt.Errorf("update avatar: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return prev, nil
}

// CreateConversation creates a conversation between two existing users.
func (s *PostgresStore) CreateConversation(ctx context.Context, initiatorID, recipientID string) (*domain.Conversation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	initiator, err := pgGetUser(ctx, tx, initiatorID)
	if err != nil {
		return nil, err
	}
	recipient, err := pgGetUser(ctx, tx, recipientID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NotFound("selected recipient does not exist")
	}
	if err != nil {
		return nil, err
	}

	now := pgNow()
	c := &domain.Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []domain.Message{},
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO conversations (id, created_at, updated_at) VALUES ($1, $2, $2)", c.ID, now,
	); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	for _, u := range []*domain.User{initiator, recipient} {
		if _, err := tx.Exec(ctx,
			"INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)", c.ID, u.ID,
		); err != nil {
			return nil, fmt.Errorf("insert participant: %w", err)
		}
		c.Participants = append(c.Participants, u.Participant())
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// FindConversationBetween returns the conversation shared by exactly a and b.
func (s *PostgresStore) FindConversationBetween(ctx context.Context, a, b string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT p1.conversation_id FROM conversation_participants p1
		JOIN conversation_participants p2 ON p2.conversation_id = p1.conversation_id
		WHERE p1.user_id = $1 AND p2.user_id = $2
		AND (SELECT COUNT(*) FROM conversation_participants p3 WHERE p3.conversation_id = p1.conversation_id) = 2
		ORDER BY p1.conversation_id
		LIMIT 1
	`, a, b).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find conversation: %w", err)
	}
	return id, nil
}

// AppendMessage locks the conversation row, inserts the message and bumps
// updatedAt in one transaction.
func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID, senderID, content string) (*domain.Conversation, *domain.Message, error) {
	if content == "" {
		return nil, nil, domain.InvalidArgument("message content must not be empty")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var last time.Time
	err = tx.QueryRow(ctx,
		"SELECT updated_at FROM conversations WHERE id = $1 FOR UPDATE", conversationID,
	).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, domain.NotFound("conversation does not exist")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock conversation: %w", err)
	}

	sender, err := pgGetUser(ctx, tx, senderID)
	if err != nil {
		return nil, nil, err
	}
	ok, err := pgIsParticipant(ctx, tx, conversationID, senderID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, domain.Forbidden("you are not a participant of this conversation")
	}

	created := pgNow()
	if last = last.UTC(); created.Before(last) {
		created = last
	}
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         domain.Sender{ID: sender.ID, FirstName: sender.FirstName},
		Content:        content,
		CreatedAt:      created,
	}
	err = tx.QueryRow(ctx,
		"INSERT INTO messages (id, conversation_id, sender_id, content, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING seq",
		msg.ID, conversationID, senderID, content, created,
	).Scan(&msg.Seq)
	if err != nil {
		return nil, nil, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE conversations SET updated_at = $1 WHERE id = $2", created, conversationID,
	); err != nil {
		return nil, nil, fmt.Errorf("touch conversation: %w", err)
	}

	conv, err := pgLoadConversation(ctx, tx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return conv, msg, nil
}

// ListConversationsForUser returns the user's conversations, most recently
// updated first, each carrying only its last message.
func (s *PostgresStore) ListConversationsForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.updated_at FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC, c.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	summaries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ConversationSummary, error) {
		var cs domain.ConversationSummary
		err := row.Scan(&cs.ID, &cs.UpdatedAt)
		cs.UpdatedAt = cs.UpdatedAt.UTC()
		return cs, err
	})
	if err != nil {
		return nil, err
	}

	for i := range summaries {
		if summaries[i].Participants, err = pgLoadParticipants(ctx, s.pool, summaries[i].ID); err != nil {
			return nil, err
		}
		msgs, err := pgLoadMessages(ctx, s.pool, summaries[i].ID, true)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			summaries[i].LastMessage = &msgs[0]
		}
	}
	if summaries == nil {
		summaries = []domain.ConversationSummary{}
	}
	return summaries, nil
}

// GetConversation returns a conversation with messages oldest first.
func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	return pgLoadConversation(ctx, s.pool, conversationID)
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *PostgresStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)", conversationID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check conversation: %w", err)
	}
	if !exists {
		return false, domain.NotFound("conversation does not exist")
	}
	return pgIsParticipant(ctx, s.pool, conversationID, userID)
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// pgNow matches the microsecond resolution of TIMESTAMPTZ so that returned
// values equal what is read back later.
func pgNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func pgIsParticipant(ctx context.Context, q pgQuerier, conversationID, userID string) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)",
		conversationID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return ok, nil
}

func pgLoadConversation(ctx context.Context, q pgQuerier, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := q.QueryRow(ctx,
		"SELECT id, created_at, updated_at FROM conversations WHERE id = $1", id,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("conversation does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	if c.Participants, err = pgLoadParticipants(ctx, q, id); err != nil {
		return nil, err
	}
	if c.Messages, err = pgLoadMessages(ctx, q, id, false); err != nil {
		return nil, err
	}
	return &c, nil
}

func pgLoadParticipants(ctx context.Context, q pgQuerier, conversationID string) ([]domain.Participant, error) {
	rows, err := q.Query(ctx, `
		SELECT u.id, u.first_name, u.avatar_file_key FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = $1
		ORDER BY u.id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Participant, error) {
		var p domain.Participant
		err := row.Scan(&p.ID, &p.FirstName, &p.AvatarFileKey)
		return p, err
	})
}

func pgLoadMessages(ctx context.Context, q pgQuerier, conversationID string, lastOnly bool) ([]domain.Message, error) {
	order := messageOrder
	limit := ""
	if lastOnly {
		order = "m.created_at DESC, m.seq DESC"
		limit = " LIMIT 1"
	}
	rows, err := q.Query(ctx, `
		SELECT m.seq, m.id, m.conversation_id, m.sender_id, u.first_name, m.content, m.created_at
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY `+order+limit, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Message, error) {
		var m domain.Message
		err := row.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.Sender.ID, &m.Sender.FirstName, &m.Content, &m.CreatedAt)
		m.CreatedAt = m.CreatedAt.UTC()
		return m, err
	})
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}
