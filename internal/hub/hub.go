package hub

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/weiawesome/wes-io-live/roomchat/pkg/log"
)

var ErrHubClosed = errors.New("hub closed")

// Handle is the mailbox a session reads its deliveries from. The hub only
// ever sends on it and never closes it.
type Handle = chan<- string

// Hub is the registry of connected sessions and room membership. All state
// is owned by the goroutine running Run; other goroutines post operations
// to its queue.
type Hub struct {
	defaultRoom string

	sessions map[string]Handle              // session id -> delivery handle
	rooms    map[string]map[string]struct{} // room -> member ids
	memberOf map[string]string              // session id -> room

	ops      chan func()
	done     chan struct{}
	stopOnce sync.Once
}

func NewHub(defaultRoom string, queueSize int) *Hub {
	if queueSize < 1 {
		queueSize = 1
	}
	h := &Hub{
		defaultRoom: defaultRoom,
		sessions:    make(map[string]Handle),
		rooms:       make(map[string]map[string]struct{}),
		memberOf:    make(map[string]string),
		ops:         make(chan func(), queueSize),
		done:        make(chan struct{}),
	}
	h.rooms[defaultRoom] = make(map[string]struct{})
	return h
}

// Run applies queued operations one at a time until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })

	l := log.L()
	l.Info().Str(log.FieldRoom, h.defaultRoom).Msg("chat hub started")
	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("chat hub stopped")
			return
		case op := <-h.ops:
			op()
		}
	}
}

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) post(op func()) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.ops <- op:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Connect registers handle for id and places id in the default room when
// it is not a member of any room. Reconnecting an id replaces its handle.
func (h *Hub) Connect(id string, handle Handle) error {
	return h.post(func() {
		h.sessions[id] = handle
		if _, ok := h.memberOf[id]; !ok {
			h.addMember(id, h.defaultRoom)
		}
		l := log.L()
		l.Debug().Str(log.FieldSessionID, id).Int("sessions", len(h.sessions)).Msg("session connected")
	})
}

// Disconnect forgets id and its membership. Unknown ids are ignored.
func (h *Hub) Disconnect(id string) error {
	return h.post(func() {
		if _, ok := h.sessions[id]; !ok {
			return
		}
		h.removeMember(id)
		delete(h.sessions, id)
		l := log.L()
		l.Debug().Str(log.FieldSessionID, id).Int("sessions", len(h.sessions)).Msg("session disconnected")
	})
}

// Join moves id into room, creating the room on first use. Ids that are not
// connected are ignored.
func (h *Hub) Join(id, room string) error {
	return h.post(func() {
		if _, ok := h.sessions[id]; !ok {
			l := log.L()
			l.Debug().Str(log.FieldSessionID, id).Str(log.FieldRoom, room).Msg("join ignored for unknown session")
			return
		}
		if h.memberOf[id] == room {
			return
		}
		h.removeMember(id)
		h.addMember(id, room)
	})
}

// Broadcast delivers text to every member of room, the sender included.
// Members whose mailbox is full miss the message.
func (h *Hub) Broadcast(room, text string) error {
	return h.post(func() {
		for id := range h.rooms[room] {
			handle, ok := h.sessions[id]
			if !ok {
				continue
			}
			select {
			case handle <- text:
			default:
				l := log.L()
				l.Warn().Str(log.FieldSessionID, id).Str(log.FieldRoom, room).Msg("session mailbox full, message dropped")
			}
		}
	})
}

// ListRooms returns every room name known to the hub, sorted.
func (h *Hub) ListRooms(ctx context.Context) ([]string, error) {
	return query(ctx, h, func() []string {
		names := make([]string, 0, len(h.rooms))
		for name := range h.rooms {
			names = append(names, name)
		}
		sort.Strings(names)
		return names
	})
}

// Members returns the sorted ids currently in room.
func (h *Hub) Members(ctx context.Context, room string) ([]string, error) {
	return query(ctx, h, func() []string {
		ids := make([]string, 0, len(h.rooms[room]))
		for id := range h.rooms[room] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids
	})
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount(ctx context.Context) (int, error) {
	return query(ctx, h, func() int {
		return len(h.sessions)
	})
}

// query runs fn on the hub goroutine and waits for its result.
func query[T any](ctx context.Context, h *Hub, fn func() T) (T, error) {
	var zero T
	reply := make(chan T, 1)
	if err := h.post(func() { reply <- fn() }); err != nil {
		return zero, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-h.done:
		return zero, ErrHubClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (h *Hub) addMember(id, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[id] = struct{}{}
	h.memberOf[id] = room
}

// removeMember drops id from its room. The room entry itself is kept.
func (h *Hub) removeMember(id string) {
	room, ok := h.memberOf[id]
	if !ok {
		return
	}
	delete(h.rooms[room], id)
	delete(h.memberOf, id)
}
