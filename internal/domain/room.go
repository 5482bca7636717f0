package domain

import "time"

// DefaultRoom is the room every session joins on connect unless
// configured otherwise.
const DefaultRoom = "main"

// Room is a persisted, named chat channel.
type Room struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
