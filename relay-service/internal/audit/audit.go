package audit

import (
	"context"

	"github.com/weiawesome/wes-io-live/pkg/log"
)

// Audit actions for relay-service.
const (
	ActionConnect    = "relay.connect"
	ActionJoin       = "relay.join"
	ActionLeave      = "relay.leave"
	ActionDisconnect = "relay.disconnect"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, connID, room, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldConnID, connID).
		Str(log.FieldRoom, room).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, connID, room, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldConnID, connID).
		Str(log.FieldRoom, room).
		Str(FieldDetail, detail).
		Msg(msg)
}
