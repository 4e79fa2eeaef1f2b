package domain

import "time"

// Peer is the outbound half of a live socket. Deliver must not block: it
// reports false when the peer is closed or its buffer is full.
type Peer interface {
	Deliver(data []byte) bool
	Close()
}

// Connection is one live socket session. It is owned by the registry and
// only touched from the dispatcher loop.
type Connection struct {
	ID       string
	Username string
	Room     string
	JoinedAt time.Time
	Peer     Peer
}

// InRoom reports whether the connection currently occupies a room.
func (c *Connection) InRoom() bool {
	return c.Room != ""
}
