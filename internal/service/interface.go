package service

import (
	"context"
	"errors"

	"github.com/weiawesome/wes-io-live/roomchat/internal/domain"
)

var ErrPermissionDenied = errors.New("permission denied")

// ChatService holds the persistent side of the chat protocol.
type ChatService interface {
	// EnsureRoom returns the named room, creating it when missing.
	EnsureRoom(ctx context.Context, name string) (*domain.Room, error)
	// PostMessage stores content in room and publishes a chat event.
	PostMessage(ctx context.Context, senderID, room, content string) (*domain.Message, error)
	// History returns the room's messages as "<name>: <content>" lines,
	// oldest first. A room that was never persisted has no history.
	History(ctx context.Context, room string) ([]string, error)
	// RemoveUser deletes username and their messages when callerID is an
	// admin.
	RemoveUser(ctx context.Context, callerID, username string) error
}
