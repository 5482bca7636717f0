package repository

import (
	"context"
	"errors"

	"github.com/weiawesome/wes-io-live/roomchat/internal/domain"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// Store is the persistence boundary used by the chat service.
type Store interface {
	FindRoomByName(ctx context.Context, name string) (*domain.Room, error)
	CreateRoom(ctx context.Context, name string) (*domain.Room, error)
	FindUserByID(ctx context.Context, id string) (*domain.User, error)
	// DeleteUser removes the named user together with every message they sent.
	DeleteUser(ctx context.Context, name string) (*domain.User, error)
	ListMessages(ctx context.Context, roomID uint) ([]domain.Message, error)
	AppendMessage(ctx context.Context, senderID string, roomID uint, content string) (*domain.Message, error)
}
