// Package presence relays typing indicators. With a zero TTL it is a pure
// pass-through; with a positive TTL it remembers who is typing so stale
// indicators can be terminated by the server.
package presence

import (
	"sort"
	"time"

	"github.com/weiawesome/wes-io-live/relay-service/internal/domain"
)

type typingState struct {
	room     string
	username string
	deadline time.Time
}

// Expiry is a terminating TYPING frame owed to a room.
type Expiry struct {
	Room  string
	Frame domain.TypingFrame
}

// Relay builds TYPING frames and optionally tracks their expiry.
type Relay struct {
	ttl    time.Duration
	typing map[string]typingState
}

// NewRelay creates a Relay. ttl <= 0 disables tracking.
func NewRelay(ttl time.Duration) *Relay {
	return &Relay{ttl: ttl, typing: make(map[string]typingState)}
}

// Tracking reports whether typing expiry is enabled.
func (r *Relay) Tracking() bool {
	return r.ttl > 0
}

// Typing returns the frame to broadcast for conn's signal and updates
// tracked state.
func (r *Relay) Typing(conn *domain.Connection, isTyping bool, now time.Time) domain.TypingFrame {
	if r.Tracking() {
		if isTyping {
			r.typing[conn.ID] = typingState{
				room:     conn.Room,
				username: conn.Username,
				deadline: now.Add(r.ttl),
			}
		} else {
			delete(r.typing, conn.ID)
		}
	}
	return frame(conn.ID, conn.Username, isTyping)
}

// Clear forgets id and, if it was typing, returns the terminating frame and
// the room it is owed to.
func (r *Relay) Clear(id string) (Expiry, bool) {
	st, ok := r.typing[id]
	if !ok {
		return Expiry{}, false
	}
	delete(r.typing, id)
	return Expiry{Room: st.room, Frame: frame(id, st.username, false)}, true
}

// Expire removes every indicator whose deadline is not after now and returns
// the terminating frames, ordered by connection id.
func (r *Relay) Expire(now time.Time) []Expiry {
	var ids []string
	for id, st := range r.typing {
		if !st.deadline.After(now) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)

	out := make([]Expiry, 0, len(ids))
	for _, id := range ids {
		exp, _ := r.Clear(id)
		out = append(out, exp)
	}
	return out
}

// Active returns the number of tracked indicators.
func (r *Relay) Active() int {
	return len(r.typing)
}

func frame(id, username string, isTyping bool) domain.TypingFrame {
	return domain.TypingFrame{
		Type:     domain.FrameTyping,
		UserID:   id,
		Username: username,
		IsTyping: isTyping,
	}
}
