package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
)

// Channel is one live connection able to carry a payload to a client.
// Implementations must be comparable (pointer types).
type Channel interface {
	Send(ctx context.Context, payload []byte) error
}

// Registry maps user IDs to their open channels.
type Registry struct {
	mu     sync.Mutex
	conns  map[string][]Channel
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string][]Channel),
		logger: logger.With("component", "connection_registry"),
	}
}

// Register adds ch to the user's set. Registering the same channel twice
// has no effect.
func (r *Registry) Register(userID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.conns[userID] {
		if existing == ch {
			return
		}
	}
	r.conns[userID] = append(r.conns[userID], ch)
	r.logger.Info("connection registered",
		"user_id", userID,
		"user_connections", len(r.conns[userID]))
}

// Unregister removes ch from the user's set. Unknown channels are ignored.
func (r *Registry) Unregister(userID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.remove(userID, ch) {
		r.logger.Info("connection unregistered",
			"user_id", userID,
			"user_connections", len(r.conns[userID]))
	}
}

// remove must be called with mu held.
func (r *Registry) remove(userID string, ch Channel) bool {
	list := r.conns[userID]
	for i, existing := range list {
		if existing != ch {
			continue
		}
		rest := make([]Channel, 0, len(list)-1)
		rest = append(rest, list[:i]...)
		rest = append(rest, list[i+1:]...)
		if len(rest) == 0 {
			delete(r.conns, userID)
		} else {
			r.conns[userID] = rest
		}
		return true
	}
	return false
}

// Send encodes msg once and delivers it to every channel of the user.
// Channels that fail are removed; the remaining ones still receive the
// message. It returns the number of successful deliveries and does nothing
// when the user has no channels.
func (r *Registry) Send(ctx context.Context, userID string, msg any) int {
	targets := r.snapshot(userID)
	if len(targets) == 0 {
		return 0
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to encode message",
			"user_id", userID,
			"error", err)
		return 0
	}
	return r.deliver(ctx, userID, targets, payload)
}

// Broadcast delivers msg to every registered channel of every user.
func (r *Registry) Broadcast(ctx context.Context, msg any) int {
	r.mu.Lock()
	all := make(map[string][]Channel, len(r.conns))
	for userID, list := range r.conns {
		all[userID] = append([]Channel(nil), list...)
	}
	r.mu.Unlock()

	if len(all) == 0 {
		return 0
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to encode broadcast", "error", err)
		return 0
	}

	delivered := 0
	for userID, targets := range all {
		delivered += r.deliver(ctx, userID, targets, payload)
	}
	return delivered
}

func (r *Registry) snapshot(userID string) []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Channel(nil), r.conns[userID]...)
}

func (r *Registry) deliver(ctx context.Context, userID string, targets []Channel, payload []byte) int {
	delivered := 0
	var failed []Channel
	for _, ch := range targets {
		if err := ch.Send(ctx, payload); err != nil {
			r.logger.WarnContext(ctx, "delivery failed, dropping connection",
				"user_id", userID,
				"error", err)
			failed = append(failed, ch)
			continue
		}
		delivered++
	}

	if len(failed) > 0 {
		r.mu.Lock()
		for _, ch := range failed {
			r.remove(userID, ch)
		}
		r.mu.Unlock()
		closeAll(failed)
	}
	return delivered
}

// ActiveUsers returns the IDs of users with at least one channel.
func (r *Registry) ActiveUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		users = append(users, userID)
	}
	return users
}

// ConnectionCount returns the number of channels open for the user.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[userID])
}

// TotalConnections returns the number of channels across all users.
func (r *Registry) TotalConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, list := range r.conns {
		total += len(list)
	}
	return total
}

// CloseAll removes every channel and closes those that implement io.Closer.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	var all []Channel
	for _, list := range r.conns {
		all = append(all, list...)
	}
	r.conns = make(map[string][]Channel)
	r.mu.Unlock()

	closeAll(all)
}

func closeAll(channels []Channel) {
	for _, ch := range channels {
		if c, ok := ch.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
