package handler

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/roomchat/internal/audit"
	"github.com/weiawesome/wes-io-live/roomchat/internal/hub"
	"github.com/weiawesome/wes-io-live/roomchat/internal/service"
	"github.com/weiawesome/wes-io-live/roomchat/internal/session"
	"github.com/weiawesome/wes-io-live/roomchat/pkg/jwt"
	"github.com/weiawesome/wes-io-live/roomchat/pkg/log"
	"github.com/weiawesome/wes-io-live/roomchat/pkg/response"
)

const tokenParam = "token"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TokenValidator checks a bearer token and returns its claims.
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

type WSHandler struct {
	ctx      context.Context
	hub      *hub.Hub
	service  service.ChatService
	tokens   TokenValidator
	cfg      session.Config
	visitors atomic.Int64
}

// NewWSHandler creates the websocket handler. Sessions live until ctx ends,
// independent of the upgrade request.
func NewWSHandler(ctx context.Context, h *hub.Hub, svc service.ChatService, tokens TokenValidator, cfg session.Config) *WSHandler {
	return &WSHandler{
		ctx:     ctx,
		hub:     h,
		service: svc,
		tokens:  tokens,
		cfg:     cfg,
	}
}

func (h *WSHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/ws", h.HandleWebSocket)
	r.GET("/count", h.HandleCount)
	r.GET("/health", h.HandleHealth)

	api := r.Group("/api/v1")
	api.GET("/rooms", h.HandleListRooms)
	api.GET("/rooms/:room/members", h.HandleListMembers)
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	ctx := c.Request.Context()

	token := extractToken(c)
	if token == "" {
		audit.LogWithDetail(ctx, audit.ActionAuthFailed, "", "missing token", "websocket rejected")
		response.Unauthorized(c, "missing token")
		return
	}
	claims, err := h.tokens.Validate(token)
	if err != nil {
		audit.LogWithDetail(ctx, audit.ActionAuthFailed, "", err.Error(), "websocket rejected")
		response.Unauthorized(c, "invalid token")
		return
	}
	c.Set(log.FieldUserID, claims.UserID())
	c.Set(log.FieldUsername, claims.Username)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.visitors.Add(1)

	// The session outlives the request context, but keeps its logger.
	sessCtx := log.WithLogger(h.ctx, log.Ctx(ctx))
	// Each connection gets its own hub id so one user can hold several.
	sessionID := uuid.New().String()
	session.New(sessionID, claims.UserID(), conn, h.hub, h.service, h.cfg).Run(sessCtx)
}

type countResponse struct {
	Connected int   `json:"connected"`
	Visitors  int64 `json:"visitors"`
}

// HandleCount reports live sessions and the number of accepted connections
// since start-up.
func (h *WSHandler) HandleCount(c *gin.Context) {
	n, err := h.hub.SessionCount(c.Request.Context())
	if err != nil {
		response.ServiceUnavailable(c, err.Error())
		return
	}
	response.Success(c, countResponse{Connected: n, Visitors: h.visitors.Load()})
}

type roomsResponse struct {
	Rooms []string `json:"rooms"`
}

func (h *WSHandler) HandleListRooms(c *gin.Context) {
	rooms, err := h.hub.ListRooms(c.Request.Context())
	if err != nil {
		response.ServiceUnavailable(c, err.Error())
		return
	}
	response.Success(c, roomsResponse{Rooms: rooms})
}

type membersResponse struct {
	Room    string   `json:"room"`
	Members []string `json:"members"`
}

func (h *WSHandler) HandleListMembers(c *gin.Context) {
	room := c.Param("room")
	ids, err := h.hub.Members(c.Request.Context(), room)
	if err != nil {
		response.ServiceUnavailable(c, err.Error())
		return
	}
	response.Success(c, membersResponse{Room: room, Members: ids})
}

func (h *WSHandler) HandleHealth(c *gin.Context) {
	select {
	case <-h.hub.Done():
		response.ServiceUnavailable(c, hub.ErrHubClosed.Error())
	default:
		response.Success(c, gin.H{"status": "ok"})
	}
}

// extractToken prefers the Authorization header and falls back to the
// token query parameter or cookie.
func extractToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := c.Query(tokenParam); token != "" {
		return token
	}
	if token, err := c.Cookie(tokenParam); err == nil {
		return token
	}
	return ""
}
