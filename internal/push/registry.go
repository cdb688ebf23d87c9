package push

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Conn is one client connection on the push channel.
type Conn interface {
	ID() string
	Send(payload []byte) error
	Close()
}

// Publisher mirrors broadcast payloads to a message bus.
type Publisher interface {
	Publish(subject string, payload []byte, msgID string) error
}

// Registry fans events out to every connected client. There is no backlog:
// an event reaches the connections registered when it is broadcast.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn

	mirror  Publisher
	subject string

	log zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		conns: make(map[string]Conn),
		log:   log.With().Str("component", "push").Logger(),
	}
}

// SetMirror publishes every broadcast on "<subjectPrefix>.<event type>" as well.
func (r *Registry) SetMirror(p Publisher, subjectPrefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirror = p
	r.subject = subjectPrefix
}

// Subscribe registers c and sends it the connected sentinel. A connection that
// cannot take the sentinel is closed and not kept.
func (r *Registry) Subscribe(c Conn) error {
	payload, err := json.Marshal(Event{Type: TypeConnected})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.conns[c.ID()] = c
	total := len(r.conns)
	r.mu.Unlock()

	if err := c.Send(payload); err != nil {
		r.drop(c)
		return fmt.Errorf("send connected event: %w", err)
	}

	r.log.Info().Str("conn", c.ID()).Int("connections", total).Msg("client connected")
	return nil
}

// Unsubscribe forgets a connection. Unknown ids are ignored.
func (r *Registry) Unsubscribe(id string) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	total := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.log.Info().Str("conn", id).Int("connections", total).Msg("client disconnected")
	}
}

// Broadcast serializes evt once, writes it to every connection and returns how
// many writes succeeded. Connections whose write fails are closed and removed.
func (r *Registry) Broadcast(evt Event) int {
	payload, err := json.Marshal(evt)
	if err != nil {
		r.log.Error().Err(err).Str("type", evt.Type).Msg("failed to encode event")
		return 0
	}

	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	mirror, subject := r.mirror, r.subject
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			r.log.Warn().Err(err).Str("conn", c.ID()).Msg("dropping connection after failed write")
			r.drop(c)
			continue
		}
		delivered++
	}

	if mirror != nil {
		if err := mirror.Publish(subject+"."+evt.Type, payload, uuid.NewString()); err != nil {
			r.log.Warn().Err(err).Str("type", evt.Type).Msg("mirror publish failed")
		}
	}

	r.log.Debug().Str("type", evt.Type).Int("delivered", delivered).Int("targets", len(targets)).Msg("event broadcast")
	return delivered
}

// Len is the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes and forgets every connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	if len(conns) > 0 {
		r.log.Info().Int("closed", len(conns)).Msg("push connections closed")
	}
}

func (r *Registry) drop(c Conn) {
	r.mu.Lock()
	if current, ok := r.conns[c.ID()]; ok && current == c {
		delete(r.conns, c.ID())
	}
	r.mu.Unlock()
	c.Close()
}
