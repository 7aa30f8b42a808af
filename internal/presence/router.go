// ABOUTME: In-memory presence registry and fan-out router for real-time channels
// ABOUTME: Maps principals to live connections and rooms to their members, with optional cross-instance relay

package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultBufferSize is the per-connection event buffer.
const DefaultBufferSize = 64

// ErrUnknownConnection is returned when joining or leaving with a connection
// ID that is not registered.
var ErrUnknownConnection = errors.New("unknown connection")

// Event is one frame pushed to a real-time channel.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals payload into an Event.
func NewEvent(name string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: data}, nil
}

// Conn is a registered real-time channel for one principal.
type Conn struct {
	ID          string
	PrincipalID string
	// Events receives pushed frames. It is closed when the connection is
	// unregistered or the router shuts down.
	Events <-chan Event
}

type connection struct {
	principalID string
	ch          chan Event
	rooms       map[string]struct{}
}

// Relay carries notifications and presence between gateway instances.
type Relay interface {
	PublishPrincipal(ctx context.Context, principalID string, ev Event) error
	PublishRoom(ctx context.Context, room string, ev Event) error
	MarkOnline(ctx context.Context, principalID, connID string) error
	MarkOffline(ctx context.Context, principalID, connID string) error
	IsOnline(ctx context.Context, principalID string) (bool, error)
}

// Router keeps the principal -> connections and room -> connections maps.
// Delivery is at-most-once: events for a full buffer are dropped.
type Router struct {
	mu         sync.RWMutex
	conns      map[string]*connection         // connID -> connection
	principals map[string]map[string]struct{} // principalID -> connIDs
	rooms      map[string]map[string]struct{} // room -> connIDs
	closed     bool

	bufferSize int
	relay      Relay
	logger     *slog.Logger
}

// NewRouter creates a router. Pass nil logger for default and 0 for the default buffer size.
func NewRouter(bufferSize int, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Router{
		conns:      make(map[string]*connection),
		principals: make(map[string]map[string]struct{}),
		rooms:      make(map[string]map[string]struct{}),
		bufferSize: bufferSize,
		logger:     logger.With("component", "presence"),
	}
}

// SetRelay attaches a cross-instance relay. It must be called before the
// router serves connections.
func (r *Router) SetRelay(relay Relay) {
	r.relay = relay
}

// Register adds a channel for principalID. The registration is removed
// automatically when ctx is cancelled.
func (r *Router) Register(ctx context.Context, principalID string) *Conn {
	connID := uuid.New().String()
	ch := make(chan Event, r.bufferSize)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return &Conn{ID: connID, PrincipalID: principalID, Events: ch}
	}
	r.conns[connID] = &connection{principalID: principalID, ch: ch, rooms: make(map[string]struct{})}
	if _, ok := r.principals[principalID]; !ok {
		r.principals[principalID] = make(map[string]struct{})
	}
	r.principals[principalID][connID] = struct{}{}
	r.mu.Unlock()

	r.logger.Debug("connection registered", "principal_id", principalID, "conn_id", connID)

	if r.relay != nil {
		if err := r.relay.MarkOnline(ctx, principalID, connID); err != nil {
			r.logger.Warn("failed to publish presence", "principal_id", principalID, "error", err)
		}
	}

	go func() {
		<-ctx.Done()
		r.Unregister(connID)
	}()

	return &Conn{ID: connID, PrincipalID: principalID, Events: ch}
}

// Touch refreshes remote presence for a live connection.
func (r *Router) Touch(ctx context.Context, connID string) {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok || r.relay == nil {
		return
	}
	if err := r.relay.MarkOnline(ctx, c.principalID, connID); err != nil {
		r.logger.Debug("failed to refresh presence", "conn_id", connID, "error", err)
	}
}

// Unregister removes a connection from every room and closes its channel.
func (r *Router) Unregister(connID string) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.removeLocked(connID, c)
	r.mu.Unlock()

	r.logger.Debug("connection unregistered", "principal_id", c.principalID, "conn_id", connID)

	if r.relay != nil {
		if err := r.relay.MarkOffline(context.Background(), c.principalID, connID); err != nil {
			r.logger.Warn("failed to clear presence", "principal_id", c.principalID, "error", err)
		}
	}
}

func (r *Router) removeLocked(connID string, c *connection) {
	for room := range c.rooms {
		if members, ok := r.rooms[room]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
	if ids, ok := r.principals[c.principalID]; ok {
		delete(ids, connID)
		if len(ids) == 0 {
			delete(r.principals, c.principalID)
		}
	}
	delete(r.conns, connID)
	close(c.ch)
}

// Join adds a connection to a room.
func (r *Router) Join(connID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if _, ok := r.rooms[room]; !ok {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][connID] = struct{}{}
	c.rooms[room] = struct{}{}
	return nil
}

// Leave removes a connection from a room. Leaving a room never joined is a no-op.
func (r *Router) Leave(connID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	delete(c.rooms, room)
	if members, ok := r.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	return nil
}

// IsOnline reports whether principalID has at least one live channel on this
// instance or, when a relay is attached, on any instance.
func (r *Router) IsOnline(ctx context.Context, principalID string) bool {
	if r.localOnline(principalID) {
		return true
	}
	if r.relay == nil {
		return false
	}
	online, err := r.relay.IsOnline(ctx, principalID)
	if err != nil {
		r.logger.Warn("remote presence lookup failed", "principal_id", principalID, "error", err)
		return false
	}
	return online
}

func (r *Router) localOnline(principalID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.principals[principalID]) > 0
}

// Notify pushes an event to every channel of principalID. Zero channels is not an error.
func (r *Router) Notify(ctx context.Context, principalID, name string, payload any) {
	ev, err := NewEvent(name, payload)
	if err != nil {
		r.logger.Error("failed to encode event", "event", name, "error", err)
		return
	}
	r.DeliverToPrincipal(principalID, ev)
	if r.relay != nil {
		if err := r.relay.PublishPrincipal(ctx, principalID, ev); err != nil {
			r.logger.Warn("relay publish failed", "principal_id", principalID, "event", name, "error", err)
		}
	}
}

// Broadcast pushes an event to every channel joined to room.
func (r *Router) Broadcast(ctx context.Context, room, name string, payload any) {
	ev, err := NewEvent(name, payload)
	if err != nil {
		r.logger.Error("failed to encode event", "event", name, "error", err)
		return
	}
	r.DeliverToRoom(room, ev)
	if r.relay != nil {
		if err := r.relay.PublishRoom(ctx, room, ev); err != nil {
			r.logger.Warn("relay publish failed", "room", room, "event", name, "error", err)
		}
	}
}

// Send pushes an event to a single connection.
func (r *Router) Send(connID string, ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.conns[connID]; ok {
		r.push(connID, c, ev)
	}
}

// DeliverToPrincipal pushes an event to local channels of principalID only.
func (r *Router) DeliverToPrincipal(principalID string, ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for connID := range r.principals[principalID] {
		r.push(connID, r.conns[connID], ev)
	}
}

// DeliverToRoom pushes an event to local channels joined to room only.
func (r *Router) DeliverToRoom(room string, ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for connID := range r.rooms[room] {
		r.push(connID, r.conns[connID], ev)
	}
}

// push sends without blocking. Must be called with mu held (read or write)
// so the channel cannot be closed underneath the send.
func (r *Router) push(connID string, c *connection, ev Event) {
	select {
	case c.ch <- ev:
	default:
		r.logger.Debug("dropped event for slow connection",
			"conn_id", connID,
			"principal_id", c.principalID,
			"event", ev.Name)
	}
}

// ConnectionCount returns the number of live local channels.
func (r *Router) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close shuts down the router and closes all channels.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connID, c := range r.conns {
		r.removeLocked(connID, c)
	}
	r.closed = true
	r.logger.Debug("router closed")
}
