package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/devaloi/giftline/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given path.
// Use ":memory:" for an in-memory database.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// SQLite has a single writer. One connection also keeps ":memory:"
	// databases shared and serializes appends to the same conversation.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			first_name TEXT NOT NULL,
			avatar_file_key TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			PRIMARY KEY (conversation_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id);
		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id TEXT NOT NULL REFERENCES users(id),
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at, seq);
	`)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateUser inserts a user, generating an id when none is set.
func (s *SQLiteStore) CreateUser(ctx context.Context, u domain.User) (*domain.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, first_name, avatar_file_key, created_at) VALUES (?, ?, ?, ?)",
		u.ID, u.FirstName, u.AvatarFileKey, u.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

// GetUser returns a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return getUser(ctx, s.db, id)
}

func getUser(ctx context.Context, q querier, id string) (*domain.User, error) {
	var (
		u  domain.User
		ts int64
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, first_name, avatar_file_key, created_at FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.FirstName, &u.AvatarFileKey, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("user does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = fromNanos(ts)
	return &u, nil
}

// ListUsers returns every user ordered by first name, then id.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, first_name, avatar_file_key, created_at FROM users ORDER BY first_name, id",
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		var (
			u  domain.User
			ts int64
		)
		if err := rows.Scan(&u.ID, &u.FirstName, &u.AvatarFileKey, &ts); err != nil {
			return nil, err
		}
		u.CreatedAt = fromNanos(ts)
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetAvatar replaces a user's avatar file key and returns the previous one.
func (s *SQLiteStore) SetAvatar(ctx context.Context, userID, fileKey string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	u, err := getUser(ctx, tx, userID)
	if err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET avatar_file_key = ? WHERE id = ?", fileKey, userID,
	); err != nil {
		return "", fmt.Errorf("update avatar: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return u.AvatarFileKey, nil
}

// CreateConversation creates a conversation between two existing users.
func (s *SQLiteStore) CreateConversation(ctx context.Context, initiatorID, recipientID string) (*domain.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	initiator, err := getUser(ctx, tx, initiatorID)
	if err != nil {
		return nil, err
	}
	recipient, err := getUser(ctx, tx, recipientID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NotFound("selected recipient does not exist")
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []domain.Message{},
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)",
		c.ID, now.UnixNano(), now.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	for _, u := range []*domain.User{initiator, recipient} {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)",
			c.ID, u.ID,
		); err != nil {
			return nil, fmt.Errorf("insert participant: %w", err)
		}
		c.Participants = append(c.Participants, u.Participant())
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// FindConversationBetween returns the conversation shared by exactly a and b.
func (s *SQLiteStore) FindConversationBetween(ctx context.Context, a, b string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT p1.conversation_id FROM conversation_participants p1
		JOIN conversation_participants p2 ON p2.conversation_id = p1.conversation_id
		WHERE p1.user_id = ? AND p2.user_id = ?
		AND (SELECT COUNT(*) FROM conversation_participants p3 WHERE p3.conversation_id = p1.conversation_id) = 2
		ORDER BY p1.conversation_id
		LIMIT 1
	`, a, b).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find conversation: %w", err)
	}
	return id, nil
}

// AppendMessage inserts a message and bumps the conversation's updatedAt in
// one transaction. Creation times never go backwards within a conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, senderID, content string) (*domain.Conversation, *domain.Message, error) {
	if content == "" {
		return nil, nil, domain.InvalidArgument("message content must not be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var last int64
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(c.updated_at, COALESCE((SELECT MAX(created_at) FROM messages WHERE conversation_id = c.id), 0))
		FROM conversations c WHERE c.id = ?
	`, conversationID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, domain.NotFound("conversation does not exist")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock conversation: %w", err)
	}

	sender, err := getUser(ctx, tx, senderID)
	if err != nil {
		return nil, nil, err
	}
	ok, err := isParticipant(ctx, tx, conversationID, senderID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, domain.Forbidden("you are not a participant of this conversation")
	}

	created := time.Now().UTC().UnixNano()
	if created < last {
		created = last
	}
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         domain.Sender{ID: sender.ID, FirstName: sender.FirstName},
		Content:        content,
		CreatedAt:      fromNanos(created),
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, sender_id, content, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ID, conversationID, senderID, content, created,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert message: %w", err)
	}
	if msg.Seq, err = res.LastInsertId(); err != nil {
		return nil, nil, fmt.Errorf("message seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?", created, conversationID,
	); err != nil {
		return nil, nil, fmt.Errorf("touch conversation: %w", err)
	}

	conv, err := loadConversation(ctx, tx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return conv, msg, nil
}

// ListConversationsForUser returns the user's conversations, most recently
// updated first, each carrying only its last message.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.updated_at FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	summaries := []domain.ConversationSummary{}
	for rows.Next() {
		var (
			cs domain.ConversationSummary
			ts int64
		)
		if err := rows.Scan(&cs.ID, &ts); err != nil {
			rows.Close()
			return nil, err
		}
		cs.UpdatedAt = fromNanos(ts)
		summaries = append(summaries, cs)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range summaries {
		if summaries[i].Participants, err = loadParticipants(ctx, s.db, summaries[i].ID); err != nil {
			return nil, err
		}
		msgs, err := loadMessages(ctx, s.db, summaries[i].ID, true)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			summaries[i].LastMessage = &msgs[0]
		}
	}
	return summaries, nil
}

// GetConversation returns a conversation with messages oldest first.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	return loadConversation(ctx, s.db, conversationID)
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM conversations WHERE id = ?)", conversationID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check conversation: %w", err)
	}
	if !exists {
		return false, domain.NotFound("conversation does not exist")
	}
	return isParticipant(ctx, s.db, conversationID, userID)
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isParticipant(ctx context.Context, q querier, conversationID, userID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conversation_participants WHERE conversation_id = ? AND user_id = ?",
		conversationID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return n > 0, nil
}

func loadConversation(ctx context.Context, q querier, id string) (*domain.Conversation, error) {
	var (
		c                  domain.Conversation
		created, updatedAt int64
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, created_at, updated_at FROM conversations WHERE id = ?", id,
	).Scan(&c.ID, &created, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("conversation does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updatedAt)

	if c.Participants, err = loadParticipants(ctx, q, id); err != nil {
		return nil, err
	}
	if c.Messages, err = loadMessages(ctx, q, id, false); err != nil {
		return nil, err
	}
	return &c, nil
}

func loadParticipants(ctx context.Context, q querier, conversationID string) ([]domain.Participant, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT u.id, u.first_name, u.avatar_file_key FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ?
		ORDER BY u.id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	defer rows.Close()

	var ps []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.FirstName, &p.AvatarFileKey); err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, rows.Err()
}

// loadMessages returns a conversation's messages oldest first, or only the
// newest one when lastOnly is set.
func loadMessages(ctx context.Context, q querier, conversationID string, lastOnly bool) ([]domain.Message, error) {
	query := `
		SELECT m.seq, m.id, m.conversation_id, m.sender_id, u.first_name, m.content, m.created_at
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY ` + messageOrder
	if lastOnly {
		query = `
		SELECT m.seq, m.id, m.conversation_id, m.sender_id, u.first_name, m.content, m.created_at
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at DESC, m.seq DESC
		LIMIT 1`
	}
	rows, err := q.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var (
			m  domain.Message
			ts int64
		)
		if err := rows.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.Sender.ID, &m.Sender.FirstName, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.CreatedAt = fromNanos(ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
