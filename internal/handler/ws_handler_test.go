package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/roomchat/internal/domain"
	"github.com/weiawesome/wes-io-live/roomchat/internal/handler"
	"github.com/weiawesome/wes-io-live/roomchat/internal/hub"
	"github.com/weiawesome/wes-io-live/roomchat/internal/session"
	"github.com/weiawesome/wes-io-live/roomchat/pkg/jwt"
)

type stubChat struct{}

func (stubChat) EnsureRoom(_ context.Context, name string) (*domain.Room, error) {
	return &domain.Room{Name: name}, nil
}

func (stubChat) PostMessage(_ context.Context, senderID, _ string, content string) (*domain.Message, error) {
	return &domain.Message{SenderID: senderID, Content: content}, nil
}

func (stubChat) History(context.Context, string) ([]string, error) { return nil, nil }

func (stubChat) RemoveUser(context.Context, string, string) error { return nil }

type testServer struct {
	httpURL string
	wsURL   string
	hub     *hub.Hub
	tokens  *jwt.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())

	h := hub.NewHub("main", 64)
	go h.Run(ctx)

	tokens, err := jwt.NewManager("test-secret", "roomchat")
	require.NoError(t, err)

	wsHandler := handler.NewWSHandler(ctx, h, stubChat{}, tokens, session.Config{
		DefaultRoom:       "main",
		HeartbeatInterval: time.Second,
		ClientTimeout:     2 * time.Second,
		WriteWait:         time.Second,
		MaxMessageSize:    4096,
		SendBuffer:        16,
	})

	router := gin.New()
	wsHandler.RegisterRoutes(router)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		cancel()
		srv.Close()
		<-h.Done()
	})
	return &testServer{
		httpURL: srv.URL,
		wsURL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		hub:     h,
		tokens:  tokens,
	}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.tokens.Issue(userID, userID+"-name", time.Hour)
	require.NoError(t, err)
	return token
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func getJSON(t *testing.T, url string, dest interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	if dest != nil && env.Success {
		require.NoError(t, json.Unmarshal(env.Data, dest))
	}
	return resp.StatusCode
}

func TestHandleWebSocket_RejectsMissingToken(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(srv.wsURL, nil)
	req.Error(err)
	req.NotNil(resp)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	count, err := srv.hub.SessionCount(context.Background())
	req.NoError(err)
	req.Zero(count)
}

func TestHandleWebSocket_RejectsInvalidToken(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	other, err := jwt.NewManager("another-secret", "roomchat")
	req.NoError(err)
	forged, err := other.Issue("u-1", "mallory", time.Hour)
	req.NoError(err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+forged)
	_, resp, err := websocket.DefaultDialer.Dial(srv.wsURL, header)
	req.Error(err)
	req.NotNil(resp)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleWebSocket_TokenSources(t *testing.T) {
	srv := newTestServer(t)

	cases := map[string]func(token string) (string, http.Header){
		"bearer header": func(token string) (string, http.Header) {
			h := http.Header{}
			h.Set("Authorization", "Bearer "+token)
			return srv.wsURL, h
		},
		"query parameter": func(token string) (string, http.Header) {
			return srv.wsURL + "?token=" + token, nil
		},
		"cookie": func(token string) (string, http.Header) {
			h := http.Header{}
			h.Set("Cookie", "token="+token)
			return srv.wsURL, h
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			url, header := build(srv.token(t, "user-"+strings.ReplaceAll(name, " ", "-")))

			conn, _, err := websocket.DefaultDialer.Dial(url, header)
			req.NoError(err)
			defer conn.Close()

			req.NoError(conn.WriteMessage(websocket.TextMessage, []byte("/join lobby")))
			req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
			_, data, err := conn.ReadMessage()
			req.NoError(err)
			req.Equal(session.ReplyJoined, string(data))
		})
	}
}

func TestRESTEndpoints(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+srv.token(t, "u-42"))
	conn, _, err := websocket.DefaultDialer.Dial(srv.wsURL, header)
	req.NoError(err)
	defer conn.Close()

	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte("/join lobby")))
	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err = conn.ReadMessage()
	req.NoError(err)

	var count struct {
		Connected int   `json:"connected"`
		Visitors  int64 `json:"visitors"`
	}
	req.Equal(http.StatusOK, getJSON(t, srv.httpURL+"/count", &count))
	req.Equal(1, count.Connected)
	req.Equal(int64(1), count.Visitors)

	var rooms struct {
		Rooms []string `json:"rooms"`
	}
	req.Equal(http.StatusOK, getJSON(t, srv.httpURL+"/api/v1/rooms", &rooms))
	req.Equal([]string{"lobby", "main"}, rooms.Rooms)

	var members struct {
		Room    string   `json:"room"`
		Members []string `json:"members"`
	}
	req.Equal(http.StatusOK, getJSON(t, srv.httpURL+"/api/v1/rooms/lobby/members", &members))
	req.Len(members.Members, 1)
	req.NotEqual("u-42", members.Members[0])

	req.Equal(http.StatusOK, getJSON(t, srv.httpURL+"/health", nil))
}

func TestHandleWebSocket_SameUserTwice(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)
	ctx := context.Background()
	token := srv.token(t, "u-1")

	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(srv.wsURL+"?token="+token, nil)
		req.NoError(err)
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}
	sessionCount := func() int {
		n, err := srv.hub.SessionCount(ctx)
		req.NoError(err)
		return n
	}

	// Given the same user on two connections
	first := dial()
	second := dial()
	req.Eventually(func() bool { return sessionCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	// When the first one closes
	req.NoError(first.Close())
	req.Eventually(func() bool { return sessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Then the second one still joins rooms for real
	req.NoError(second.WriteMessage(websocket.TextMessage, []byte("/join lobby")))
	req.NoError(second.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, data, err := second.ReadMessage()
	req.NoError(err)
	req.Equal(session.ReplyJoined, string(data))

	lobby, err := srv.hub.Members(ctx, "lobby")
	req.NoError(err)
	req.Len(lobby, 1)
}
