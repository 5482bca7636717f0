package hub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/roomchat/internal/hub"
)

func startHub(t *testing.T) *hub.Hub {
	t.Helper()
	h := hub.NewHub("main", 64)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

// settle waits until every previously posted operation has been applied.
func settle(t *testing.T, h *hub.Hub) {
	t.Helper()
	_, err := h.SessionCount(context.Background())
	require.NoError(t, err)
}

func drain(ch chan string) []string {
	var got []string
	for {
		select {
		case m := <-ch:
			got = append(got, m)
		default:
			return got
		}
	}
}

func TestHub_ConnectPlacesSessionInDefaultRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := startHub(t)
	mailbox := make(chan string, 8)

	req.NoError(h.Connect("a", mailbox))

	members, err := h.Members(ctx, "main")
	req.NoError(err)
	req.Equal([]string{"a"}, members)

	count, err := h.SessionCount(ctx)
	req.NoError(err)
	req.Equal(1, count)
}

func TestHub_MembershipIsExclusive(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := startHub(t)
	mailbox := make(chan string, 8)

	// Given a session that joins two rooms in turn
	req.NoError(h.Connect("a", mailbox))
	req.NoError(h.Join("a", "lobby"))
	req.NoError(h.Join("a", "general"))

	// Then it is a member of the last room only
	for room, want := range map[string][]string{
		"main":    {},
		"lobby":   {},
		"general": {"a"},
	} {
		members, err := h.Members(ctx, room)
		req.NoError(err)
		req.Equal(want, members, room)
	}

	req.NoError(h.Broadcast("lobby", "to lobby"))
	req.NoError(h.Broadcast("general", "to general"))
	settle(t, h)
	req.Equal([]string{"to general"}, drain(mailbox))
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := startHub(t)

	req.NoError(h.Connect("a", make(chan string, 1)))
	req.NoError(h.Join("a", "lobby"))
	req.NoError(h.Join("a", "lobby"))

	members, err := h.Members(ctx, "lobby")
	req.NoError(err)
	req.Equal([]string{"a"}, members)
}

func TestHub_JoinUnknownSessionIsIgnored(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := startHub(t)

	req.NoError(h.Join("ghost", "lobby"))

	rooms, err := h.ListRooms(ctx)
	req.NoError(err)
	req.Equal([]string{"main"}, rooms)
}

func TestHub_BroadcastIsScopedToRoom(t *testing.T) {
	req := require.New(t)
	h := startHub(t)
	a := make(chan string, 8)
	b := make(chan string, 8)
	c := make(chan string, 8)

	// Given a and b in lobby and c in main
	req.NoError(h.Connect("a", a))
	req.NoError(h.Connect("b", b))
	req.NoError(h.Connect("c", c))
	req.NoError(h.Join("a", "lobby"))
	req.NoError(h.Join("b", "lobby"))

	// When a message is broadcast to lobby
	req.NoError(h.Broadcast("lobby", "hello lobby"))
	settle(t, h)

	// Then the lobby members, sender included, get it exactly once
	req.Equal([]string{"hello lobby"}, drain(a))
	req.Equal([]string{"hello lobby"}, drain(b))
	req.Empty(drain(c))
}

func TestHub_BroadcastSkipsFullMailbox(t *testing.T) {
	req := require.New(t)
	h := startHub(t)
	full := make(chan string, 1)
	roomy := make(chan string, 8)

	req.NoError(h.Connect("full", full))
	req.NoError(h.Connect("roomy", roomy))

	req.NoError(h.Broadcast("main", "one"))
	req.NoError(h.Broadcast("main", "two"))
	settle(t, h)

	req.Equal([]string{"one"}, drain(full))
	req.Equal([]string{"one", "two"}, drain(roomy))
}

func TestHub_DisconnectIsIdempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := startHub(t)
	mailbox := make(chan string, 8)

	req.NoError(h.Connect("a", mailbox))
	req.NoError(h.Join("a", "lobby"))
	req.NoError(h.Disconnect("a"))
	req.NoError(h.Disconnect("a"))

	count, err := h.SessionCount(ctx)
	req.NoError(err)
	req.Zero(count)

	members, err := h.Members(ctx, "lobby")
	req.NoError(err)
	req.Empty(members)

	req.NoError(h.Broadcast("lobby", "anyone?"))
	settle(t, h)
	req.Empty(drain(mailbox))
}

func TestHub_ListRoomsIsSortedAndKeepsEmptyRooms(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := startHub(t)

	// Given sessions spread over lobby and general
	req.NoError(h.Connect("a", make(chan string, 1)))
	req.NoError(h.Connect("b", make(chan string, 1)))
	req.NoError(h.Join("a", "lobby"))
	req.NoError(h.Join("b", "general"))

	rooms, err := h.ListRooms(ctx)
	req.NoError(err)
	req.Equal([]string{"general", "lobby", "main"}, rooms)

	// When everyone leaves, the rooms are still listed
	req.NoError(h.Disconnect("a"))
	req.NoError(h.Disconnect("b"))
	rooms, err = h.ListRooms(ctx)
	req.NoError(err)
	req.ElementsMatch([]string{"main", "lobby", "general"}, rooms)
}

func TestHub_ReconnectReplacesHandle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := startHub(t)
	old := make(chan string, 8)
	fresh := make(chan string, 8)

	req.NoError(h.Connect("a", old))
	req.NoError(h.Join("a", "lobby"))
	req.NoError(h.Connect("a", fresh))

	// Membership survives and deliveries go to the new handle
	members, err := h.Members(ctx, "lobby")
	req.NoError(err)
	req.Equal([]string{"a"}, members)

	req.NoError(h.Broadcast("lobby", "hi"))
	settle(t, h)
	req.Empty(drain(old))
	req.Equal([]string{"hi"}, drain(fresh))
}

func TestHub_ClosedHubRejectsOperations(t *testing.T) {
	req := require.New(t)
	h := hub.NewHub("main", 1)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	cancel()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	req.ErrorIs(h.Connect("a", make(chan string, 1)), hub.ErrHubClosed)
	req.ErrorIs(h.Broadcast("main", "x"), hub.ErrHubClosed)
	_, err := h.ListRooms(context.Background())
	req.ErrorIs(err, hub.ErrHubClosed)
}
