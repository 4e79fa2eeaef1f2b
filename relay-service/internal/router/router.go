// Package router implements the relay protocol state machine. A Router is
// driven by exactly one goroutine (the hub loop) and holds no locks.
package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/pkg/log"
	"github.com/weiawesome/wes-io-live/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/relay-service/internal/audit"
	"github.com/weiawesome/wes-io-live/relay-service/internal/broadcast"
	"github.com/weiawesome/wes-io-live/relay-service/internal/domain"
	"github.com/weiawesome/wes-io-live/relay-service/internal/presence"
	"github.com/weiawesome/wes-io-live/relay-service/internal/registry"
	"github.com/weiawesome/wes-io-live/relay-service/internal/room"
)

const logPreviewRunes = 50

// Emitter accepts relay events for external sinks without blocking.
type Emitter interface {
	Enqueue(event *pubsub.Event) bool
}

// Options configures a Router.
type Options struct {
	DefaultRoom string
	Now         func() time.Time
	Events      Emitter
	Logger      *zerolog.Logger // defaults to the global logger
}

// Router decodes inbound frames and applies them to the registry and directory.
type Router struct {
	reg      *registry.Registry
	dir      *room.Directory
	engine   *broadcast.Engine
	presence *presence.Relay
	events   Emitter

	defaultRoom string
	now         func() time.Time
	ctx         context.Context
	logger      zerolog.Logger
}

// New creates a Router over reg, with a fresh room directory.
func New(reg *registry.Registry, typing *presence.Relay, opts Options) *Router {
	if opts.DefaultRoom == "" {
		opts.DefaultRoom = "general"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dir := room.NewDirectory()
	base := log.L()
	if opts.Logger != nil {
		base = *opts.Logger
	}
	logger := base.With().Str("component", "router").Logger()

	return &Router{
		reg:         reg,
		dir:         dir,
		engine:      broadcast.NewEngine(dir, reg),
		presence:    typing,
		events:      opts.Events,
		defaultRoom: opts.DefaultRoom,
		now:         opts.Now,
		ctx:         log.WithLogger(context.Background(), logger),
		logger:      logger,
	}
}

// Connect registers a new unjoined connection for peer.
func (r *Router) Connect(peer domain.Peer) (*domain.Connection, error) {
	conn, err := r.reg.Register(peer)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to register connection")
		return nil, err
	}

	r.logger.Info().
		Str(log.FieldConnID, conn.ID).
		Int(log.FieldTotal, r.reg.Count()).
		Msg("client connected")
	audit.Log(r.ctx, audit.ActionConnect, conn.ID, "", "connection accepted")
	return conn, nil
}

// Handle processes one raw inbound frame from id. Frames from unknown ids,
// undecodable frames, unknown types and frames that need a room while the
// connection has none are logged and dropped.
func (r *Router) Handle(id string, raw []byte) {
	conn, err := r.reg.Get(id)
	if err != nil {
		r.logger.Debug().Str(log.FieldConnID, id).Msg("frame from unknown connection dropped")
		return
	}

	var f domain.InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		r.logger.Warn().Err(err).Str(log.FieldConnID, id).Msg("failed to decode frame")
		return
	}

	switch f.Type {
	case domain.FrameJoin:
		r.join(conn, f.Room, f.Username)
	case domain.FrameMessage:
		if r.requireRoom(conn, f.Type) {
			r.message(conn, f.Text)
		}
	case domain.FrameTyping:
		if r.requireRoom(conn, f.Type) {
			r.typing(conn, f.IsTyping)
		}
	case domain.FrameLeave:
		if r.requireRoom(conn, f.Type) {
			r.leave(conn, domain.FrameUserLeft)
		}
	default:
		r.logger.Warn().
			Str(log.FieldConnID, id).
			Str(log.FieldFrameType, f.Type).
			Msg("unknown frame type")
	}
}

func (r *Router) requireRoom(conn *domain.Connection, frameType string) bool {
	if conn.InRoom() {
		return true
	}
	r.logger.Debug().
		Str(log.FieldConnID, conn.ID).
		Str(log.FieldFrameType, frameType).
		Msg("frame ignored, connection has not joined a room")
	return false
}

func (r *Router) join(conn *domain.Connection, roomName, username string) {
	if roomName == "" {
		roomName = r.defaultRoom
	}
	if username == "" {
		username = r.reg.DefaultUsername(conn.ID)
	}

	if conn.InRoom() {
		r.leave(conn, domain.FrameUserLeft)
	}

	conn.Username = username
	conn.Room = roomName
	r.dir.Join(roomName, conn.ID)

	ts := domain.FormatTimestamp(r.now())
	users := r.roomUsers(roomName)

	joined := domain.UserJoinedFrame{
		Type:      domain.FrameUserJoined,
		Username:  username,
		UserID:    conn.ID,
		Room:      roomName,
		RoomUsers: users,
		Timestamp: ts,
	}
	r.engine.BroadcastToRoom(roomName, joined, conn.ID)
	r.engine.SendTo(conn.ID, domain.JoinedFrame{
		Type:      domain.FrameJoined,
		Username:  username,
		Room:      roomName,
		UserID:    conn.ID,
		RoomUsers: users,
		Timestamp: ts,
	})
	r.emit(domain.FrameUserJoined, roomName, joined)

	r.logger.Info().
		Str(log.FieldConnID, conn.ID).
		Str(log.FieldUsername, username).
		Str(log.FieldRoom, roomName).
		Int(log.FieldRoomSize, r.dir.Size(roomName)).
		Msg("joined room")
	audit.LogWithDetail(r.ctx, audit.ActionJoin, conn.ID, roomName, username, "joined room")
}

func (r *Router) message(conn *domain.Connection, text string) {
	frame := domain.MessageFrame{
		Type:      domain.FrameMessage,
		UserID:    conn.ID,
		Username:  conn.Username,
		Text:      text,
		Room:      conn.Room,
		Timestamp: domain.FormatTimestamp(r.now()),
	}
	r.engine.BroadcastToRoom(conn.Room, frame, "")
	r.emit(domain.FrameMessage, conn.Room, frame)

	r.logger.Debug().
		Str(log.FieldConnID, conn.ID).
		Str(log.FieldUsername, conn.Username).
		Str(log.FieldRoom, conn.Room).
		Str("preview", preview(text, logPreviewRunes)).
		Msg("message")
}

func (r *Router) typing(conn *domain.Connection, isTyping bool) {
	frame := r.presence.Typing(conn, isTyping, r.now())
	r.engine.BroadcastToRoom(conn.Room, frame, conn.ID)
}

// leave removes conn from its room and tells the remaining members with a
// frame of kind (USER_LEFT or USER_DISCONNECTED).
func (r *Router) leave(conn *domain.Connection, kind string) {
	roomName := conn.Room

	if exp, ok := r.presence.Clear(conn.ID); ok {
		r.engine.BroadcastToRoom(exp.Room, exp.Frame, conn.ID)
	}

	r.dir.Leave(roomName, conn.ID)
	conn.Room = ""

	frame := domain.PresenceFrame{
		Type:      kind,
		Username:  conn.Username,
		UserID:    conn.ID,
		Room:      roomName,
		Timestamp: domain.FormatTimestamp(r.now()),
	}
	r.engine.BroadcastToRoom(roomName, frame, conn.ID)
	r.emit(kind, roomName, frame)

	r.logger.Info().
		Str(log.FieldConnID, conn.ID).
		Str(log.FieldUsername, conn.Username).
		Str(log.FieldRoom, roomName).
		Str(log.FieldFrameType, kind).
		Msg("left room")
	if kind == domain.FrameUserLeft {
		audit.Log(r.ctx, audit.ActionLeave, conn.ID, roomName, "left room")
	}
}

// Disconnect runs cleanup for a closed socket. It reports false when id was
// already gone, so repeated calls are harmless.
func (r *Router) Disconnect(id string) bool {
	conn, err := r.reg.Get(id)
	if err != nil {
		return false
	}

	roomName := conn.Room
	if conn.InRoom() {
		r.leave(conn, domain.FrameUserDisconnected)
	}
	r.presence.Clear(id)
	r.reg.Unregister(id)
	if conn.Peer != nil {
		conn.Peer.Close()
	}

	r.logger.Info().
		Str(log.FieldConnID, id).
		Int(log.FieldTotal, r.reg.Count()).
		Msg("client disconnected")
	audit.Log(r.ctx, audit.ActionDisconnect, id, roomName, "connection closed")
	return true
}

// Sweep terminates typing indicators whose deadline has passed.
func (r *Router) Sweep(now time.Time) int {
	expired := r.presence.Expire(now)
	for _, exp := range expired {
		r.engine.BroadcastToRoom(exp.Room, exp.Frame, exp.Frame.UserID)
	}
	return len(expired)
}

// Stats returns a consistent snapshot of connection and room counts.
func (r *Router) Stats() domain.Stats {
	return domain.Stats{
		Connections: r.reg.Count(),
		Rooms:       r.dir.RoomCount(),
		Timestamp:   domain.FormatTimestamp(r.now()),
	}
}

// CloseAll drops every connection without notifying rooms. Used on shutdown.
func (r *Router) CloseAll() int {
	var conns []*domain.Connection
	r.reg.Each(func(c *domain.Connection) {
		conns = append(conns, c)
	})

	for _, conn := range conns {
		if conn.InRoom() {
			r.dir.Leave(conn.Room, conn.ID)
			conn.Room = ""
		}
		r.presence.Clear(conn.ID)
		r.reg.Unregister(conn.ID)
		if conn.Peer != nil {
			conn.Peer.Close()
		}
	}
	return len(conns)
}

// Members returns the ids currently in roomName, in join order.
func (r *Router) Members(roomName string) []string {
	return r.dir.Members(roomName)
}

func (r *Router) roomUsers(roomName string) []domain.RoomUser {
	ids := r.dir.Members(roomName)
	users := make([]domain.RoomUser, 0, len(ids))
	for _, id := range ids {
		conn, err := r.reg.Get(id)
		if err != nil {
			continue
		}
		users = append(users, domain.RoomUser{ID: id, Username: conn.Username})
	}
	return users
}

func (r *Router) emit(kind, roomName string, frame interface{}) {
	if r.events == nil {
		return
	}
	event, err := pubsub.NewEvent(kind, roomName, frame, r.now())
	if err != nil {
		r.logger.Error().Err(err).Str(log.FieldFrameType, kind).Msg("failed to build sink event")
		return
	}
	r.events.Enqueue(event)
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
