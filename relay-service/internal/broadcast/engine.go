// Package broadcast fans outbound frames out to room members. Delivery is
// best-effort: peers that are closed or backed up are skipped.
package broadcast

import (
	"encoding/json"

	"github.com/weiawesome/wes-io-live/pkg/log"
	"github.com/weiawesome/wes-io-live/relay-service/internal/domain"
)

// MemberSource yields a snapshot of a room's member ids.
type MemberSource interface {
	Members(room string) []string
}

// ConnLookup resolves a connection id.
type ConnLookup interface {
	Get(id string) (*domain.Connection, error)
}

// Engine delivers frames to connections.
type Engine struct {
	members MemberSource
	conns   ConnLookup
}

// NewEngine creates an Engine over the given directory and registry.
func NewEngine(members MemberSource, conns ConnLookup) *Engine {
	return &Engine{members: members, conns: conns}
}

// BroadcastToRoom delivers frame to every current member of room except
// excludeID. An empty excludeID excludes nobody.
func (e *Engine) BroadcastToRoom(room string, frame interface{}, excludeID string) {
	data, err := json.Marshal(frame)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldRoom, room).Msg("failed to encode broadcast frame")
		return
	}

	ids := e.members.Members(room)
	delivered, skipped := 0, 0
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		if e.deliver(id, data) {
			delivered++
		} else {
			skipped++
		}
	}

	l := log.L()
	l.Debug().
		Str(log.FieldRoom, room).
		Int("delivered", delivered).
		Int("skipped", skipped).
		Msg("broadcast")
}

// SendTo delivers frame to a single connection and reports success.
func (e *Engine) SendTo(id string, frame interface{}) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldConnID, id).Msg("failed to encode frame")
		return false
	}
	return e.deliver(id, data)
}

func (e *Engine) deliver(id string, data []byte) bool {
	conn, err := e.conns.Get(id)
	if err != nil || conn.Peer == nil {
		return false
	}
	return conn.Peer.Deliver(data)
}
