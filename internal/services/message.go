package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savage-app/savage/internal/store"
	"github.com/savage-app/savage/types"
)

// MessageRepository defines persistence operations for direct messages.
type MessageRepository interface {
	Get(ctx context.Context, id int) (types.DirectMessage, error)
	GetView(ctx context.Context, id int) (types.MessageView, error)
	ListReceived(ctx context.Context, receiverID int, deleted bool) ([]types.MessageView, error)
	ListSent(ctx context.Context, senderID int) ([]types.MessageView, error)
	CountUnread(ctx context.Context, receiverID int) (int, error)
	Create(ctx context.Context, msg types.DirectMessage) (types.DirectMessage, error)
	SetViewed(ctx context.Context, id int) error
	SetDeleted(ctx context.Context, id int, deleted bool) error
	SetHasReply(ctx context.Context, id int) error
	Delete(ctx context.Context, id int) error
}

// ResponseRepository defines persistence operations for message replies.
type ResponseRepository interface {
	Create(ctx context.Context, resp types.DirectMessageResponse) (types.DirectMessageResponse, error)
	ListByMessage(ctx context.Context, messageID int) ([]types.ResponseView, error)
}

// Inbox is the receiver's non-trashed messages plus the unread count.
type Inbox struct {
	Messages []types.MessageView
	Unread   int
}

// MessageService implements the direct-messaging use-cases. Every operation
// is scoped to the acting user; messages the user does not participate in
// behave as if they did not exist.
type MessageService struct {
	messages       MessageRepository
	responses      ResponseRepository
	users          UserRepository
	validator      *Validator
	syncer         SyncRequester
	senderCanTrash bool
	log            zerolog.Logger
}

// MessageOption configures a MessageService.
type MessageOption func(*MessageService)

// WithSenderTrash lets the sender move a message into the receiver's trash.
func WithSenderTrash(enabled bool) MessageOption {
	return func(s *MessageService) {
		s.senderCanTrash = enabled
	}
}

func NewMessageService(
	messages MessageRepository,
	responses ResponseRepository,
	users UserRepository,
	validator *Validator,
	syncer SyncRequester,
	log zerolog.Logger,
	opts ...MessageOption,
) *MessageService {
	s := &MessageService{
		messages:  messages,
		responses: responses,
		users:     users,
		validator: validator,
		syncer:    syncer,
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MessageService) ListInbox(ctx context.Context, userID int) (Inbox, error) {
	if userID < 1 {
		return Inbox{}, ErrNotAuthenticated
	}
	messages, err := s.messages.ListReceived(ctx, userID, false)
	if err != nil {
		return Inbox{}, fmt.Errorf("list inbox: %w", err)
	}
	unread, err := s.messages.CountUnread(ctx, userID)
	if err != nil {
		return Inbox{}, fmt.Errorf("count unread: %w", err)
	}

	if s.syncer != nil {
		if err := s.syncer.RequestSync(ctx, SyncReasonInbox); err != nil {
			s.log.Warn().Err(err).Int("user_id", userID).Msg("username sync request failed")
		}
	}
	return Inbox{Messages: messages, Unread: unread}, nil
}

func (s *MessageService) ListSent(ctx context.Context, userID int) ([]types.MessageView, error) {
	if userID < 1 {
		return nil, ErrNotAuthenticated
	}
	return s.messages.ListSent(ctx, userID)
}

func (s *MessageService) ListTrash(ctx context.Context, userID int) ([]types.MessageView, error) {
	if userID < 1 {
		return nil, ErrNotAuthenticated
	}
	return s.messages.ListReceived(ctx, userID, true)
}

func (s *MessageService) UnreadCount(ctx context.Context, userID int) (int, error) {
	if userID < 1 {
		return 0, nil
	}
	return s.messages.CountUnread(ctx, userID)
}

// View returns the message with its responses. The receiver's first view
// marks it read, except while a send confirmation is still being shown.
func (s *MessageService) View(ctx context.Context, userID, id int, successPending bool) (types.Thread, error) {
	view, err := s.messages.GetView(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Thread{}, ErrNotFound
		}
		return types.Thread{}, fmt.Errorf("load message: %w", err)
	}
	if !view.IsParticipant(userID) {
		return types.Thread{}, ErrNotFound
	}

	responses, err := s.responses.ListByMessage(ctx, id)
	if err != nil {
		return types.Thread{}, fmt.Errorf("list responses: %w", err)
	}

	if view.ReceiverID == userID && !view.Viewed && !successPending {
		if err := s.messages.SetViewed(ctx, id); err != nil {
			return types.Thread{}, fmt.Errorf("mark viewed: %w", err)
		}
		view.Viewed = true
	}
	return types.Thread{Message: view, Responses: responses}, nil
}

func (s *MessageService) Compose(ctx context.Context, sender types.User, form ComposeForm) (types.DirectMessage, error) {
	if sender.ID < 1 {
		return types.DirectMessage{}, ErrNotAuthenticated
	}
	if err := s.validator.Validate(WithActor(ctx, sender), form); err != nil {
		return types.DirectMessage{}, err
	}

	recipient, err := s.users.GetByUsername(ctx, form.Recipient)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.DirectMessage{}, ErrRecipientNotFound
		}
		return types.DirectMessage{}, fmt.Errorf("lookup recipient: %w", err)
	}
	if recipient.ID == sender.ID {
		return types.DirectMessage{}, newValidationError("message_recipient", "You cannot send a message to yourself.")
	}

	msg, err := s.messages.Create(ctx, types.DirectMessage{
		SenderID:   sender.ID,
		ReceiverID: recipient.ID,
		Subject:    form.Subject,
		Body:       form.Body,
	})
	if err != nil {
		return types.DirectMessage{}, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

// Reply appends a response to a message the user participates in.
func (s *MessageService) Reply(ctx context.Context, userID, id int, form ReplyForm) (types.DirectMessageResponse, error) {
	msg, err := s.participantMessage(ctx, userID, id)
	if err != nil {
		return types.DirectMessageResponse{}, err
	}
	if err := s.validator.Validate(ctx, form); err != nil {
		return types.DirectMessageResponse{}, err
	}

	resp, err := s.responses.Create(ctx, types.DirectMessageResponse{
		MessageID: msg.ID,
		SenderID:  userID,
		Body:      form.Body,
	})
	if err != nil {
		return types.DirectMessageResponse{}, fmt.Errorf("create response: %w", err)
	}
	if err := s.messages.SetHasReply(ctx, msg.ID); err != nil {
		return types.DirectMessageResponse{}, fmt.Errorf("mark has reply: %w", err)
	}
	return resp, nil
}

// Trash moves the given messages to the receiver's trash and returns how
// many were changed. Ids the user may not act on are skipped.
func (s *MessageService) Trash(ctx context.Context, userID int, ids []int) (int, error) {
	return s.each(ctx, userID, ids, s.canTrash, func(ctx context.Context, msg types.DirectMessage) error {
		return s.messages.SetDeleted(ctx, msg.ID, true)
	})
}

func (s *MessageService) Restore(ctx context.Context, userID int, ids []int) (int, error) {
	return s.each(ctx, userID, ids, isReceiver, func(ctx context.Context, msg types.DirectMessage) error {
		return s.messages.SetDeleted(ctx, msg.ID, false)
	})
}

// HardDelete permanently removes the given messages and their responses.
func (s *MessageService) HardDelete(ctx context.Context, userID int, ids []int) (int, error) {
	return s.each(ctx, userID, ids, isReceiver, func(ctx context.Context, msg types.DirectMessage) error {
		return s.messages.Delete(ctx, msg.ID)
	})
}

func (s *MessageService) canTrash(msg types.DirectMessage, userID int) bool {
	if s.senderCanTrash {
		return msg.IsParticipant(userID)
	}
	return isReceiver(msg, userID)
}

func isReceiver(msg types.DirectMessage, userID int) bool {
	return msg.ReceiverID == userID
}

func (s *MessageService) each(
	ctx context.Context,
	userID int,
	ids []int,
	allowed func(types.DirectMessage, int) bool,
	apply func(context.Context, types.DirectMessage) error,
) (int, error) {
	if userID < 1 {
		return 0, ErrNotAuthenticated
	}

	changed := 0
	for _, id := range ids {
		msg, err := s.messages.Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return changed, fmt.Errorf("load message %d: %w", id, err)
		}
		if !allowed(msg, userID) {
			continue
		}
		if err := apply(ctx, msg); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return changed, fmt.Errorf("update message %d: %w", id, err)
		}
		changed++
	}
	return changed, nil
}

func (s *MessageService) participantMessage(ctx context.Context, userID, id int) (types.DirectMessage, error) {
	if userID < 1 {
		return types.DirectMessage{}, ErrNotAuthenticated
	}
	msg, err := s.messages.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.DirectMessage{}, ErrNotFound
		}
		return types.DirectMessage{}, fmt.Errorf("load message: %w", err)
	}
	if !msg.IsParticipant(userID) {
		return types.DirectMessage{}, ErrNotFound
	}
	return msg, nil
}
