package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/devaloi/giftline/internal/domain"
	"github.com/devaloi/giftline/internal/files"
	"github.com/devaloi/giftline/internal/metrics"
	"github.com/devaloi/giftline/internal/store"
)

// Publisher hands a committed room update to the realtime gateway.
type Publisher interface {
	Publish(ctx context.Context, room string, payload []byte) error
}

// Options tune the service's authorization behaviour.
type Options struct {
	// EnforceMembership restricts reads and room joins to participants.
	EnforceMembership bool
}

// Service is the only writer of conversation state. Business failures are
// returned inside domain.Result; the error return is reserved for
// infrastructure failures.
type Service struct {
	store    store.Store
	pub      Publisher
	files    files.Storage
	opts     Options
	log      zerolog.Logger
	validate *validator.Validate

	convLocks *keyedMutex
	pairLocks *keyedMutex
}

// NewService wires a Service. files may be nil, in which case avatar URLs
// are always empty.
func NewService(s store.Store, pub Publisher, fs files.Storage, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		store:     s,
		pub:       pub,
		files:     fs,
		opts:      opts,
		log:       logger.With().Str("component", "chat").Logger(),
		validate:  validator.New(),
		convLocks: newKeyedMutex(),
		pairLocks: newKeyedMutex(),
	}
}

type createInput struct {
	CallerID    string `validate:"required"`
	RecipientID string `validate:"required"`
}

type sendInput struct {
	CallerID       string `validate:"required"`
	ConversationID string `validate:"required"`
	Content        string `validate:"required,min=1"`
}

// CreateConversation opens a conversation between the caller and recipient.
// Creation is idempotent per pair: an existing conversation is returned.
func (s *Service) CreateConversation(ctx context.Context, callerID, recipientID string) (domain.Result, error) {
	if err := s.validate.Struct(createInput{CallerID: callerID, RecipientID: recipientID}); err != nil {
		return domain.Fail(domain.InvalidArgument("you must specify the recipient")), nil
	}
	if callerID == recipientID {
		return domain.Fail(domain.InvalidArgument("you cannot start a conversation with yourself")), nil
	}

	pair := []string{callerID, recipientID}
	if pair[0] > pair[1] {
		pair[0], pair[1] = pair[1], pair[0]
	}
	unlock := s.pairLocks.Lock(strings.Join(pair, "|"))
	defer unlock()

	existing, err := s.store.FindConversationBetween(ctx, callerID, recipientID)
	if err != nil {
		return domain.Result{}, err
	}
	if existing != "" {
		res := domain.OK("the conversation already exists")
		res.ConversationID = existing
		return res, nil
	}

	conv, err := s.store.CreateConversation(ctx, callerID, recipientID)
	if err != nil {
		return s.businessOr(err)
	}
	metrics.ConversationsCreated.Inc()
	s.log.Info().Str("conversation", conv.ID).Str("caller", callerID).Msg("conversation created")

	res := domain.OK("the conversation has been created")
	res.ConversationID = conv.ID
	return res, nil
}

// SendMessage persists a message and then publishes the conversation's
// ordered message list to its room. Publishing never fails the call.
func (s *Service) SendMessage(ctx context.Context, callerID, conversationID, content string) (domain.Result, error) {
	in := sendInput{CallerID: callerID, ConversationID: conversationID, Content: content}
	if err := s.validate.Struct(in); err != nil {
		metrics.MessagesSent.WithLabelValues("rejected").Inc()
		return domain.Fail(domain.InvalidArgument(sendValidationMessage(err))), nil
	}

	// Commit and publish under one per-conversation lock so the broadcast
	// order always matches the ledger order.
	unlock := s.convLocks.Lock(conversationID)
	defer unlock()

	conv, msg, err := s.store.AppendMessage(ctx, conversationID, callerID, content)
	if err != nil {
		if domain.IsBusiness(err) {
			metrics.MessagesSent.WithLabelValues("rejected").Inc()
		} else {
			metrics.MessagesSent.WithLabelValues("failed").Inc()
		}
		return s.businessOr(err)
	}
	metrics.MessagesSent.WithLabelValues("ok").Inc()

	s.publish(ctx, conv)

	s.log.Debug().Str("conversation", conversationID).Str("message", msg.ID).Msg("message stored")
	res := domain.OK("your message has been sent")
	res.ConversationID = conversationID
	return res, nil
}

func (s *Service) publish(ctx context.Context, conv *domain.Conversation) {
	if s.pub == nil {
		return
	}
	payload, err := domain.Encode(domain.ChatUpdateEvent{
		Type:           domain.EventChatUpdate,
		ConversationID: conv.ID,
		Messages:       conv.Messages,
	})
	if err != nil {
		metrics.PublishFailures.Inc()
		s.log.Error().Err(err).Str("conversation", conv.ID).Msg("encode update")
		return
	}
	// The write is committed; delivery must not depend on the caller staying.
	if err := s.pub.Publish(context.WithoutCancel(ctx), conv.ID, payload); err != nil {
		metrics.PublishFailures.Inc()
		s.log.Warn().Err(err).Str("conversation", conv.ID).Msg("publish update")
	}
}

// ListConversations returns the caller's conversations, newest activity
// first, with participant avatar URLs resolved.
func (s *Service) ListConversations(ctx context.Context, callerID string) (domain.Result, error) {
	if _, err := s.store.GetUser(ctx, callerID); err != nil {
		return s.businessOr(err)
	}

	summaries, err := s.store.ListConversationsForUser(ctx, callerID)
	if err != nil {
		return domain.Result{}, err
	}

	if summaries == nil {
		summaries = []domain.ConversationSummary{}
	}
	files.ResolveAvatars(ctx, s.files, s.log, lo.Map(summaries, func(cs domain.ConversationSummary, _ int) []domain.Participant {
		return cs.Participants
	})...)

	res := domain.OK("")
	res.Conversations = summaries
	return res, nil
}

// GetConversation returns a full conversation. With membership enforcement
// enabled, callers outside the conversation get a Forbidden result.
func (s *Service) GetConversation(ctx context.Context, callerID, conversationID string) (domain.Result, error) {
	if _, err := s.store.GetUser(ctx, callerID); err != nil {
		return s.businessOr(err)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return s.businessOr(err)
	}
	if s.opts.EnforceMembership && !conv.HasParticipant(callerID) {
		return domain.Fail(domain.Forbidden("you are not a participant of this conversation")), nil
	}

	files.ResolveAvatars(ctx, s.files, s.log, conv.Participants)

	res := domain.OK("")
	res.ConversationID = conv.ID
	res.Conversation = conv
	return res, nil
}

// CanJoin reports whether userID may join the conversation's room.
// A conversation that does not exist is reported as not found regardless of
// membership enforcement.
func (s *Service) CanJoin(ctx context.Context, userID, conversationID string) error {
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if s.opts.EnforceMembership && !ok {
		return domain.Forbidden("you are not a participant of this conversation")
	}
	return nil
}

// businessOr turns business errors into a failed result and passes
// infrastructure errors through.
func (s *Service) businessOr(err error) (domain.Result, error) {
	if domain.IsBusiness(err) {
		return domain.Fail(err), nil
	}
	return domain.Result{}, fmt.Errorf("chat: %w", err)
}

func sendValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "Content":
			return "your message must contain at least one character"
		case "ConversationID":
			return "you must specify the conversation"
		}
	}
	return "invalid message"
}
