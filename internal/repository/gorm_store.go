package repository

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/roomchat/internal/domain"
	"github.com/weiawesome/wes-io-live/roomchat/pkg/log"
)

// GormStore implements Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-based store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// FindRoomByName retrieves a room by its unique name.
func (s *GormStore) FindRoomByName(ctx context.Context, name string) (*domain.Room, error) {
	l := log.Ctx(ctx)

	var model domain.RoomModel
	result := s.db.WithContext(ctx).First(&model, "name = ?", name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		l.Error().Err(result.Error).Str(log.FieldRoom, name).Msg("failed to get room by name")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// CreateRoom inserts a new room. A name that is already taken yields
// ErrRoomExists.
func (s *GormStore) CreateRoom(ctx context.Context, name string) (*domain.Room, error) {
	l := log.Ctx(ctx)

	model := &domain.RoomModel{Name: name}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if s.isDuplicate(ctx, err, &domain.RoomModel{}, name) {
			return nil, ErrRoomExists
		}
		l.Error().Err(err).Str(log.FieldRoom, name).Msg("failed to create room in db")
		return nil, err
	}

	l.Debug().Str(log.FieldRoom, name).Uint("room_id", model.ID).Msg("room created in db")
	return model.ToDomain(), nil
}

// CreateUser inserts a user account. Accounts are normally provisioned by
// the authentication service; this exists for bootstrap tooling. An empty
// password leaves the account without a login credential.
func (s *GormStore) CreateUser(ctx context.Context, name, password string, permission domain.Permission) (*domain.User, error) {
	l := log.Ctx(ctx)

	model := &domain.UserModel{
		ID:         uuid.New().String(),
		Name:       name,
		Permission: int(permission),
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		model.PasswordHash = string(hash)
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if s.isDuplicate(ctx, err, &domain.UserModel{}, name) {
			return nil, ErrUserExists
		}
		l.Error().Err(err).Str(log.FieldUsername, name).Msg("failed to create user in db")
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindUserByID retrieves a user by ID.
func (s *GormStore) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	l := log.Ctx(ctx)

	var model domain.UserModel
	result := s.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		l.Error().Err(result.Error).Str(log.FieldUserID, id).Msg("failed to get user by id")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// DeleteUser deletes the named user and the messages they sent in one
// transaction.
func (s *GormStore) DeleteUser(ctx context.Context, name string) (*domain.User, error) {
	l := log.Ctx(ctx)

	var model domain.UserModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "name = ?", name).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if err := tx.Where("sender_id = ?", model.ID).Delete(&domain.MessageModel{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.UserModel{}, "id = ?", model.ID).Error
	})
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			l.Error().Err(err).Str(log.FieldUsername, name).Msg("failed to delete user from db")
		}
		return nil, err
	}

	l.Debug().Str(log.FieldUsername, name).Str(log.FieldUserID, model.ID).Msg("user deleted from db")
	return model.ToDomain(), nil
}

// ListMessages returns every message of a room, oldest first.
func (s *GormStore) ListMessages(ctx context.Context, roomID uint) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	var models []domain.MessageModel
	result := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models)
	if result.Error != nil {
		l.Error().Err(result.Error).Uint("room_id", roomID).Msg("failed to list messages from db")
		return nil, result.Error
	}

	messages := make([]domain.Message, len(models))
	for i, model := range models {
		messages[i] = *model.ToDomain()
	}
	return messages, nil
}

// AppendMessage stores a chat line. Message IDs are ULIDs so they sort by
// creation time.
func (s *GormStore) AppendMessage(ctx context.Context, senderID string, roomID uint, content string) (*domain.Message, error) {
	l := log.Ctx(ctx)

	now := time.Now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return nil, err
	}

	model := &domain.MessageModel{
		ID:        id.String(),
		SenderID:  senderID,
		RoomID:    roomID,
		Content:   content,
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		l.Error().Err(err).Uint("room_id", roomID).Str(log.FieldUserID, senderID).Msg("failed to append message to db")
		return nil, err
	}
	return model.ToDomain(), nil
}

// isDuplicate reports whether a failed insert clashed with an existing
// unique name. Not every dialect translates unique violations, so a row
// lookup backs up the translated error.
func (s *GormStore) isDuplicate(ctx context.Context, err error, model interface{}, name string) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var count int64
	if s.db.WithContext(ctx).Model(model).Where("name = ?", name).Count(&count).Error != nil {
		return false
	}
	return count > 0
}
