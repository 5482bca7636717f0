package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-live/roomchat/internal/audit"
	"github.com/weiawesome/wes-io-live/roomchat/internal/domain"
	"github.com/weiawesome/wes-io-live/roomchat/internal/kafka"
	"github.com/weiawesome/wes-io-live/roomchat/internal/repository"
	"github.com/weiawesome/wes-io-live/roomchat/pkg/log"
)

type chatService struct {
	store          repository.Store
	producer       kafka.EventProducer
	storageTimeout time.Duration
}

func NewChatService(
	store repository.Store,
	producer kafka.EventProducer,
	storageTimeout time.Duration,
) ChatService {
	if producer == nil {
		producer = kafka.NoopProducer{}
	}
	return &chatService{
		store:          store,
		producer:       producer,
		storageTimeout: storageTimeout,
	}
}

// bounded limits one storage round trip.
func (s *chatService) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storageTimeout)
}

func (s *chatService) EnsureRoom(ctx context.Context, name string) (*domain.Room, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.ensureRoom(ctx, name)
}

func (s *chatService) ensureRoom(ctx context.Context, name string) (*domain.Room, error) {
	room, err := s.store.FindRoomByName(ctx, name)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, repository.ErrRoomNotFound) {
		return nil, fmt.Errorf("failed to find room %q: %w", name, err)
	}

	room, err = s.store.CreateRoom(ctx, name)
	if errors.Is(err, repository.ErrRoomExists) {
		// Lost a create race; the winner's row is what we want.
		room, err = s.store.FindRoomByName(ctx, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create room %q: %w", name, err)
	}
	return room, nil
}

func (s *chatService) PostMessage(ctx context.Context, senderID, roomName, content string) (*domain.Message, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	room, err := s.ensureRoom(ctx, roomName)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.AppendMessage(ctx, senderID, room.ID, content)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	if err := s.producer.PublishChatEvent(ctx, domain.NewChatEvent(msg, room.Name)); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoom, room.Name).Str("message_id", msg.ID).Msg("failed to publish chat event")
	}
	return msg, nil
}

func (s *chatService) History(ctx context.Context, roomName string) ([]string, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	room, err := s.store.FindRoomByName(ctx, roomName)
	if errors.Is(err, repository.ErrRoomNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find room %q: %w", roomName, err)
	}

	messages, err := s.store.ListMessages(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	names := make(map[string]string)
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		name, ok := names[msg.SenderID]
		if !ok {
			user, err := s.store.FindUserByID(ctx, msg.SenderID)
			switch {
			case errors.Is(err, repository.ErrUserNotFound):
				// Sender removed after posting.
			case err != nil:
				return nil, fmt.Errorf("failed to resolve sender %s: %w", msg.SenderID, err)
			default:
				name = user.Name
			}
			names[msg.SenderID] = name
		}
		if name == "" {
			continue
		}
		lines = append(lines, name+": "+msg.Content)
	}
	return lines, nil
}

func (s *chatService) RemoveUser(ctx context.Context, callerID, username string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	caller, err := s.store.FindUserByID(ctx, callerID)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return fmt.Errorf("failed to resolve caller: %w", err)
	}
	if !caller.IsAdmin() {
		audit.LogWithTarget(ctx, audit.ActionRemoveDenied, callerID, username, "user removal denied")
		return ErrPermissionDenied
	}

	removed, err := s.store.DeleteUser(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to remove user %q: %w", username, err)
	}

	audit.LogWithTarget(ctx, audit.ActionRemoveUser, callerID, removed.ID, "user removed")
	return nil
}
