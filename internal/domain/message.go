package domain

import "time"

// Message is one persisted chat line. Content already carries the
// sender's display-name prefix when one was set.
type Message struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	RoomID    uint      `json:"room_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatEvent is published to the message stream after a message has been
// stored.
type ChatEvent struct {
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Room      string    `json:"room"`
	RoomID    uint      `json:"room_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChatEvent builds the stream event for a stored message.
func NewChatEvent(msg *Message, room string) *ChatEvent {
	return &ChatEvent{
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Room:      room,
		RoomID:    msg.RoomID,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt.UTC(),
	}
}
