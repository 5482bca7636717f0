package audit

import (
	"context"

	"github.com/weiawesome/wes-io-live/roomchat/pkg/log"
)

// Audit actions for the chat core.
const (
	ActionConnect          = "chat.connect"
	ActionAuthFailed       = "chat.auth_failed"
	ActionJoinRoom         = "chat.join_room"
	ActionDisconnect       = "chat.disconnect"
	ActionHeartbeatTimeout = "chat.heartbeat_timeout"
	ActionRemoveUser       = "chat.remove_user"
	ActionRemoveDenied     = "chat.remove_user_denied"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, userID string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldDetail, detail).
		Msg(msg)
}

// LogWithTarget emits an audit log for an action one user takes against
// another.
func LogWithTarget(ctx context.Context, action string, userID string, targetID string, msg string) {
	l := log.Ctx(ctx)
	l.Warn().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}
