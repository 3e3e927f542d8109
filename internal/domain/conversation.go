package domain

import "time"

// User is the subset of an identity this service needs.
type User struct {
	ID            string    `json:"id"`
	FirstName     string    `json:"firstName"`
	AvatarFileKey string    `json:"-"`
	CreatedAt     time.Time `json:"-"`
}

// Participant renders the user the way clients see conversation members.
func (u *User) Participant() Participant {
	return Participant{ID: u.ID, FirstName: u.FirstName, AvatarFileKey: u.AvatarFileKey}
}

// Participant is a conversation member as rendered to clients.
type Participant struct {
	ID            string `json:"id"`
	FirstName     string `json:"firstName"`
	AvatarFileKey string `json:"-"`
	AvatarURL     string `json:"avatarUrl"`
}

// Sender identifies the author of a message.
type Sender struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
}

// Message is one entry of a conversation ledger. Seq is the store's
// insertion order and breaks ties between equal timestamps.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         Sender    `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Seq            int64     `json:"-"`
}

// Conversation is a fixed set of participants and their ordered messages.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"users"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	Messages     []Message     `json:"messages"`
}

// HasParticipant reports whether userID is one of the conversation's members.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// ConversationSummary is a conversation with only its most recent message.
type ConversationSummary struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"users"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
}
