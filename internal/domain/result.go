package domain

import "errors"

// Result is the response envelope of every messaging operation. Business
// failures set Error and a readable Message; they are not transport faults.
type Result struct {
	Error          bool                  `json:"error"`
	Message        string                `json:"message"`
	ConversationID string                `json:"conversationId,omitempty"`
	Conversation   *Conversation         `json:"conversation,omitempty"`
	Conversations  []ConversationSummary `json:"conversations,omitzero"`
	Users          []Participant         `json:"users,omitzero"`
	User           *Participant          `json:"user,omitempty"`
	AvatarURL      string                `json:"avatarUrl,omitempty"`
}

// OK builds a successful result.
func OK(message string) Result {
	return Result{Message: message}
}

// Fail builds a failed result from a business error.
func Fail(err error) Result {
	var e *Error
	if errors.As(err, &e) {
		return Result{Error: true, Message: e.Msg}
	}
	return Result{Error: true, Message: err.Error()}
}
