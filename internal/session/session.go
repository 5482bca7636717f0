package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/roomchat/internal/audit"
	"github.com/weiawesome/wes-io-live/roomchat/internal/repository"
	"github.com/weiawesome/wes-io-live/roomchat/internal/service"
	"github.com/weiawesome/wes-io-live/roomchat/pkg/log"
)

// Conn is the subset of *websocket.Conn a Session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPingHandler(h func(appData string) error)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Hub is the session registry a Session reports to.
type Hub interface {
	Connect(id string, handle chan<- string) error
	Disconnect(id string) error
	Join(id, room string) error
	ListRooms(ctx context.Context) ([]string, error)
	Broadcast(room, text string) error
}

type Config struct {
	DefaultRoom       string
	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration
	WriteWait         time.Duration
	MaxMessageSize    int64
	SendBuffer        int
}

type frameKind int

const (
	frameText frameKind = iota
	frameBinary
	framePing
	framePong
	frameClosed
)

type frame struct {
	kind frameKind
	data string
	err  error
}

// Session is one client connection. Its state is owned by the goroutine
// running Run; a second goroutine only reads frames off the connection.
type Session struct {
	id     string
	userID string
	conn   Conn
	hub    Hub
	chat   service.ChatService
	cfg    Config

	displayName   string
	currentRoom   string
	lastHeartbeat time.Time

	state   atomic.Int32
	mailbox chan string
	frames  chan frame
	done    chan struct{}
}

// New creates a session. id identifies this connection in the hub and must
// be unique per connection; userID is the authenticated account behind it.
func New(id, userID string, conn Conn, h Hub, chat service.ChatService, cfg Config) *Session {
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 1
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = 10 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	return &Session{
		id:          id,
		userID:      userID,
		conn:        conn,
		hub:         h,
		chat:        chat,
		cfg:         cfg,
		currentRoom: cfg.DefaultRoom,
		mailbox:     make(chan string, cfg.SendBuffer),
		frames:      make(chan frame),
		done:        make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) UserID() string {
	return s.userID
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session has terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run drives the session until the connection dies or ctx ends.
func (s *Session) Run(ctx context.Context) {
	ctx = log.WithSession(ctx, s.id, s.userID)
	defer s.terminate(ctx)

	if err := s.start(ctx); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to start session")
		return
	}

	go s.readLoop()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.frames:
			if !s.handleFrame(ctx, f) {
				return
			}
		case text := <-s.mailbox:
			if err := s.write(text); err != nil {
				l := log.Ctx(ctx)
				l.Debug().Err(err).Msg("failed to write delivery")
				return
			}
		case now := <-ticker.C:
			if !s.heartbeat(ctx, now) {
				return
			}
		}
	}
}

func (s *Session) start(ctx context.Context) error {
	s.state.Store(int32(StateStarting))
	s.lastHeartbeat = time.Now()

	if s.cfg.MaxMessageSize > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	s.conn.SetPingHandler(func(appData string) error {
		s.forward(frame{kind: framePing, data: appData})
		return nil
	})
	s.conn.SetPongHandler(func(string) error {
		s.forward(frame{kind: framePong})
		return nil
	})

	if _, err := s.chat.EnsureRoom(ctx, s.currentRoom); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoom, s.currentRoom).Msg("failed to ensure default room")
	}
	if err := s.hub.Connect(s.id, s.mailbox); err != nil {
		return err
	}
	if err := s.hub.Join(s.id, s.currentRoom); err != nil {
		return err
	}

	s.state.Store(int32(StateActive))
	audit.LogWithDetail(ctx, audit.ActionConnect, s.userID, s.currentRoom, "session connected")
	return nil
}

func (s *Session) terminate(ctx context.Context) {
	s.state.Store(int32(StateClosing))

	if err := s.hub.Disconnect(s.id); err != nil {
		l := log.Ctx(ctx)
		l.Debug().Err(err).Msg("failed to deregister session")
	}
	_ = s.conn.Close()
	close(s.done)

	s.state.Store(int32(StateTerminated))
	audit.Log(ctx, audit.ActionDisconnect, s.userID, "session disconnected")
}

// readLoop forwards inbound frames to the session goroutine. Ping and pong
// frames arrive through the handlers installed in start.
func (s *Session) readLoop() {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.forward(frame{kind: frameClosed, err: err})
			return
		}
		kind := frameText
		if messageType == websocket.BinaryMessage {
			kind = frameBinary
		}
		if !s.forward(frame{kind: kind, data: string(data)}) {
			return
		}
	}
}

func (s *Session) forward(f frame) bool {
	select {
	case s.frames <- f:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) handleFrame(ctx context.Context, f frame) bool {
	switch f.kind {
	case framePing:
		s.lastHeartbeat = time.Now()
		if err := s.conn.WriteControl(websocket.PongMessage, []byte(f.data), time.Now().Add(s.cfg.WriteWait)); err != nil {
			return false
		}
	case framePong:
		s.lastHeartbeat = time.Now()
	case frameBinary:
		l := log.Ctx(ctx)
		l.Debug().Msg("binary frame rejected")
		msg := websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "binary frames are not supported")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteWait))
		return false
	case frameClosed:
		if websocket.IsUnexpectedCloseError(f.err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
			l := log.Ctx(ctx)
			l.Warn().Err(f.err).Msg("websocket read error")
		}
		return false
	case frameText:
		return s.handleText(ctx, f.data)
	}
	return true
}

func (s *Session) heartbeat(ctx context.Context, now time.Time) bool {
	if now.Sub(s.lastHeartbeat) > s.cfg.ClientTimeout {
		audit.LogWithDetail(ctx, audit.ActionHeartbeatTimeout, s.userID, now.Sub(s.lastHeartbeat).String(), "client heartbeat timed out")
		return false
	}
	if err := s.conn.WriteControl(websocket.PingMessage, nil, now.Add(s.cfg.WriteWait)); err != nil {
		l := log.Ctx(ctx)
		l.Debug().Err(err).Msg("failed to write ping")
		return false
	}
	return true
}

func (s *Session) write(text string) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// handleText runs one inbound line. It returns false when the session can
// no longer continue.
func (s *Session) handleText(ctx context.Context, text string) bool {
	line := strings.TrimSpace(text)
	if line == "" {
		return true
	}
	if !strings.HasPrefix(line, "/") {
		return s.post(ctx, line)
	}

	cmd, arg := parseCommand(line)
	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldCommand, cmd).Msg("command received")

	switch cmd {
	case CmdList:
		rooms, err := s.hub.ListRooms(ctx)
		if err != nil {
			l.Error().Err(err).Msg("failed to list rooms")
			return false
		}
		for _, room := range rooms {
			if s.write(room) != nil {
				return false
			}
		}
		return true

	case CmdJoin:
		if arg == "" {
			return s.write(ErrRoomRequired) == nil
		}
		if _, err := s.chat.EnsureRoom(ctx, arg); err != nil {
			l.Warn().Err(err).Str(log.FieldRoom, arg).Msg("failed to persist room")
		}
		if err := s.hub.Join(s.id, arg); err != nil {
			l.Error().Err(err).Str(log.FieldRoom, arg).Msg("failed to join room")
			return false
		}
		s.currentRoom = arg
		audit.LogWithDetail(ctx, audit.ActionJoinRoom, s.userID, arg, "joined room")
		return s.write(ReplyJoined) == nil

	case CmdName:
		if arg == "" {
			return s.write(ErrNameRequired) == nil
		}
		s.displayName = arg
		return true

	case CmdHistory:
		lines, err := s.chat.History(ctx, s.currentRoom)
		if err != nil {
			l.Warn().Err(err).Str(log.FieldRoom, s.currentRoom).Msg("failed to load history")
			return true
		}
		for _, line := range lines {
			if s.write(line) != nil {
				return false
			}
		}
		return true

	case CmdRemove:
		if arg == "" {
			return s.write(ErrUsernameRequired) == nil
		}
		return s.write(s.removeUser(ctx, arg)) == nil

	default:
		return s.write(replyUnknownCommand(line)) == nil
	}
}

func (s *Session) removeUser(ctx context.Context, username string) string {
	err := s.chat.RemoveUser(ctx, s.userID, username)
	switch {
	case err == nil:
		return replyRemoved(username)
	case errors.Is(err, service.ErrPermissionDenied):
		return ErrPermission
	case errors.Is(err, repository.ErrUserNotFound):
		return ErrUserMissing
	default:
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldUsername, username).Msg("failed to remove user")
		return ErrRemoveFailed
	}
}

// post persists a chat line and hands it to the hub for fan-out. Lines that
// could not be stored are not broadcast.
func (s *Session) post(ctx context.Context, line string) bool {
	text := line
	if s.displayName != "" {
		text = s.displayName + ": " + line
	}

	if _, err := s.chat.PostMessage(ctx, s.userID, s.currentRoom, text); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoom, s.currentRoom).Msg("failed to store message")
		return s.write(ErrDeliveryFailed) == nil
	}
	if err := s.hub.Broadcast(s.currentRoom, text); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to broadcast message")
		return false
	}
	return true
}
