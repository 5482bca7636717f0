package repository_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/roomchat/internal/domain"
	"github.com/weiawesome/wes-io-live/roomchat/internal/repository"
	"github.com/weiawesome/wes-io-live/roomchat/pkg/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.New(&database.Config{
		Driver:   "sqlite",
		FilePath: filepath.Join(t.TempDir(), "chat.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, domain.Models()...))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func TestGormStore_Rooms(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := repository.NewGormStore(newTestDB(t))

	// Given an empty database
	_, err := store.FindRoomByName(ctx, "lobby")
	req.ErrorIs(err, repository.ErrRoomNotFound)

	// When the room is created
	created, err := store.CreateRoom(ctx, "lobby")
	req.NoError(err)
	req.NotZero(created.ID)

	// Then it can be found by name and cannot be created twice
	found, err := store.FindRoomByName(ctx, "lobby")
	req.NoError(err)
	req.Equal(created.ID, found.ID)

	_, err = store.CreateRoom(ctx, "lobby")
	req.ErrorIs(err, repository.ErrRoomExists)
}

func TestGormStore_Messages(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := repository.NewGormStore(newTestDB(t))

	// Given a user and two rooms
	alice, err := store.CreateUser(ctx, "alice", "", domain.PermissionMember)
	req.NoError(err)
	mainRoom, err := store.CreateRoom(ctx, "main")
	req.NoError(err)
	other, err := store.CreateRoom(ctx, "other")
	req.NoError(err)

	// When messages are appended to both rooms
	for _, content := range []string{"one", "two", "three"} {
		_, err := store.AppendMessage(ctx, alice.ID, mainRoom.ID, content)
		req.NoError(err)
		time.Sleep(2 * time.Millisecond)
	}
	_, err = store.AppendMessage(ctx, alice.ID, other.ID, "elsewhere")
	req.NoError(err)

	// Then each room lists only its own messages in append order
	msgs, err := store.ListMessages(ctx, mainRoom.ID)
	req.NoError(err)
	req.Len(msgs, 3)
	req.Equal("one", msgs[0].Content)
	req.Equal("two", msgs[1].Content)
	req.Equal("three", msgs[2].Content)
	req.Equal(alice.ID, msgs[0].SenderID)
	req.Len(msgs[0].ID, 26)

	empty, err := store.CreateRoom(ctx, "empty")
	req.NoError(err)
	msgs, err = store.ListMessages(ctx, empty.ID)
	req.NoError(err)
	req.Empty(msgs)
}

func TestGormStore_Users(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := repository.NewGormStore(newTestDB(t))

	admin, err := store.CreateUser(ctx, "root", "", domain.PermissionAdmin)
	req.NoError(err)
	req.True(admin.IsAdmin())

	found, err := store.FindUserByID(ctx, admin.ID)
	req.NoError(err)
	req.Equal("root", found.Name)
	req.Equal(domain.PermissionAdmin, found.Permission)

	_, err = store.FindUserByID(ctx, "missing")
	req.ErrorIs(err, repository.ErrUserNotFound)

	_, err = store.CreateUser(ctx, "root", "", domain.PermissionMember)
	req.ErrorIs(err, repository.ErrUserExists)
}

func TestGormStore_CreateUserHashesPassword(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := newTestDB(t)
	store := repository.NewGormStore(db)

	user, err := store.CreateUser(ctx, "frank", "hunter2", domain.PermissionMember)
	req.NoError(err)

	var model domain.UserModel
	req.NoError(db.First(&model, "id = ?", user.ID).Error)
	req.NotEqual("hunter2", model.PasswordHash)
	req.NoError(bcrypt.CompareHashAndPassword([]byte(model.PasswordHash), []byte("hunter2")))
}

func TestGormStore_DeleteUserCascadesMessages(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := repository.NewGormStore(newTestDB(t))

	// Given two users who both posted in the same room
	bob, err := store.CreateUser(ctx, "bob", "", domain.PermissionMember)
	req.NoError(err)
	carol, err := store.CreateUser(ctx, "carol", "", domain.PermissionMember)
	req.NoError(err)
	room, err := store.CreateRoom(ctx, "main")
	req.NoError(err)
	_, err = store.AppendMessage(ctx, bob.ID, room.ID, "from bob")
	req.NoError(err)
	_, err = store.AppendMessage(ctx, carol.ID, room.ID, "from carol")
	req.NoError(err)

	// When bob is deleted
	deleted, err := store.DeleteUser(ctx, "bob")
	req.NoError(err)
	req.Equal(bob.ID, deleted.ID)

	// Then bob and bob's messages are gone while carol's remain
	_, err = store.FindUserByID(ctx, bob.ID)
	req.ErrorIs(err, repository.ErrUserNotFound)

	msgs, err := store.ListMessages(ctx, room.ID)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal(carol.ID, msgs[0].SenderID)

	_, err = store.DeleteUser(ctx, "bob")
	req.ErrorIs(err, repository.ErrUserNotFound)
}
