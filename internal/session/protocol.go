package session

import (
	"fmt"
	"strings"
)

const (
	CmdList    = "/list"
	CmdJoin    = "/join"
	CmdName    = "/name"
	CmdHistory = "/history"
	CmdRemove  = "/rm"
)

// Replies sent to the client. Errors share the "!!! " prefix.
const (
	ReplyJoined = "joined"

	errPrefix = "!!! "

	ErrRoomRequired     = errPrefix + "room name is required"
	ErrNameRequired     = errPrefix + "name is required"
	ErrUsernameRequired = errPrefix + "username is required"
	ErrPermission       = errPrefix + "permission denied"
	ErrUserMissing      = errPrefix + "user not found"
	ErrRemoveFailed     = errPrefix + "failed to remove user"
	ErrDeliveryFailed   = errPrefix + "failed to deliver message"
)

func replyRemoved(username string) string {
	return "removed " + username
}

func replyUnknownCommand(input string) string {
	return fmt.Sprintf("%sunknown command: %q", errPrefix, input)
}

// parseCommand splits a trimmed "/cmd arg..." line into the command token
// and its trimmed argument.
func parseCommand(line string) (cmd, arg string) {
	cmd, arg, _ = strings.Cut(line, " ")
	return cmd, strings.TrimSpace(arg)
}
