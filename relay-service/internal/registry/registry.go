// Package registry owns the set of live connections. It is not safe for
// concurrent use; the hub loop is its only caller.
package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-live/relay-service/internal/domain"
	"github.com/weiawesome/wes-io-live/relay-service/internal/idgen"
)

var (
	// ErrNotFound is returned when an id has no live connection.
	ErrNotFound = errors.New("connection not found")
	// ErrIDExhausted is returned when every draw collided with a live id.
	ErrIDExhausted = errors.New("no free connection id")
)

// Options configures default identities.
type Options struct {
	MaxAttempts     int
	UsernamePrefix  string
	UsernameIDChars int
}

// Registry maps connection ids to live connections.
type Registry struct {
	conns map[string]*domain.Connection
	gen   idgen.Generator
	opts  Options
	now   func() time.Time
}

// New creates an empty registry drawing ids from gen.
func New(gen idgen.Generator, opts Options) *Registry {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Registry{
		conns: make(map[string]*domain.Connection),
		gen:   gen,
		opts:  opts,
		now:   time.Now,
	}
}

// Register stores a new unjoined connection for peer and returns it.
func (r *Registry) Register(peer domain.Peer) (*domain.Connection, error) {
	id, err := r.freshID()
	if err != nil {
		return nil, err
	}

	conn := &domain.Connection{
		ID:       id,
		Username: r.DefaultUsername(id),
		JoinedAt: r.now(),
		Peer:     peer,
	}
	r.conns[id] = conn
	return conn, nil
}

func (r *Registry) freshID() (string, error) {
	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		id, err := r.gen.Generate()
		if err != nil {
			return "", fmt.Errorf("generate connection id: %w", err)
		}
		if _, taken := r.conns[id]; !taken && id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrIDExhausted, r.opts.MaxAttempts)
}

// DefaultUsername is the placeholder name for id.
func (r *Registry) DefaultUsername(id string) string {
	n := r.opts.UsernameIDChars
	if n <= 0 || n > len(id) {
		n = len(id)
	}
	return r.opts.UsernamePrefix + id[:n]
}

// Unregister removes id. A second call reports ErrNotFound.
func (r *Registry) Unregister(id string) (*domain.Connection, error) {
	conn, ok := r.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.conns, id)
	return conn, nil
}

// Get looks up a live connection.
func (r *Registry) Get(id string) (*domain.Connection, error) {
	conn, ok := r.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conn, nil
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	return len(r.conns)
}

// Each calls fn for every live connection in unspecified order.
func (r *Registry) Each(fn func(*domain.Connection)) {
	for _, c := range r.conns {
		fn(c)
	}
}
