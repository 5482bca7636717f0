package domain

import "time"

// UserModel is the GORM model for the users table.
type UserModel struct {
	ID           string    `gorm:"type:varchar(36);primaryKey"`
	Name         string    `gorm:"type:varchar(50);uniqueIndex;not null"`
	PasswordHash string    `gorm:"type:varchar(255)"`
	Permission   int       `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for UserModel.
func (UserModel) TableName() string {
	return "users"
}

// ToDomain converts UserModel to domain User.
func (m *UserModel) ToDomain() *User {
	return &User{
		ID:         m.ID,
		Name:       m.Name,
		Permission: Permission(m.Permission),
		CreatedAt:  m.CreatedAt,
	}
}

// RoomModel is the GORM model for the rooms table.
type RoomModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Name      string    `gorm:"type:varchar(100);uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for RoomModel.
func (RoomModel) TableName() string {
	return "rooms"
}

// ToDomain converts RoomModel to domain Room.
func (m *RoomModel) ToDomain() *Room {
	return &Room{
		ID:        m.ID,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
	}
}

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID        string    `gorm:"type:char(26);primaryKey"`
	SenderID  string    `gorm:"type:varchar(36);index;not null"`
	RoomID    uint      `gorm:"index;not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *Message {
	return &Message{
		ID:        m.ID,
		SenderID:  m.SenderID,
		RoomID:    m.RoomID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// Models lists every table owned by the chat service, for migrations.
func Models() []interface{} {
	return []interface{}{&UserModel{}, &RoomModel{}, &MessageModel{}}
}
