// Package repo defines the repository interfaces the core depends on
// and an in-memory implementation suitable for tests and for running
// without a database. Repositories are treated as opaque by every
// other package; nothing outside repo interprets their storage
// format.
package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nugget/minionfabric/internal/coremodel"
)

// ErrNotFound is returned when a get-by-id lookup fails.
type ErrNotFound struct {
	Kind, ID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("repo: %s %q not found", e.Kind, e.ID)
}

// ChannelRepository persists Channel values.
type ChannelRepository interface {
	Save(ctx context.Context, c coremodel.Channel) error
	GetByID(ctx context.Context, id string) (coremodel.Channel, error)
	ListAll(ctx context.Context, limit, offset int) ([]coremodel.Channel, error)
	ListActive(ctx context.Context) ([]coremodel.Channel, error)
}

// MessageRepository persists Message values.
type MessageRepository interface {
	Save(ctx context.Context, m coremodel.Message) error
	GetChannelMessages(ctx context.Context, channelID string, limit int, before, after *coremodel.Message, senderID string) ([]coremodel.Message, error)
}

// MinionRepository persists Minion values.
type MinionRepository interface {
	Save(ctx context.Context, m coremodel.Minion) error
	GetByID(ctx context.Context, id string) (coremodel.Minion, error)
	ListAll(ctx context.Context) ([]coremodel.Minion, error)
	ListByStatus(ctx context.Context, status coremodel.MinionStatus) ([]coremodel.Minion, error)
}

// TaskRepository persists Task values.
type TaskRepository interface {
	Save(ctx context.Context, t coremodel.Task) error
	GetByID(ctx context.Context, id string) (coremodel.Task, error)
	ListAll(ctx context.Context) ([]coremodel.Task, error)
	ListByStatus(ctx context.Context, status coremodel.TaskStatus) ([]coremodel.Task, error)
}

// InMemoryChannels is a ChannelRepository backed by a guarded map. It
// is what the Service Container wires in when storage.driver is
// "memory" (the default).
type InMemoryChannels struct {
	mu   sync.RWMutex
	data map[string]coremodel.Channel
}

// NewInMemoryChannels returns a ready-to-use InMemoryChannels.
func NewInMemoryChannels() *InMemoryChannels {
	return &InMemoryChannels{data: make(map[string]coremodel.Channel)}
}

func (r *InMemoryChannels) Save(ctx context.Context, c coremodel.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[c.ID] = c.Copy()
	return nil
}

func (r *InMemoryChannels) GetByID(ctx context.Context, id string) (coremodel.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.data[id]
	if !ok {
		return coremodel.Channel{}, ErrNotFound{Kind: "channel", ID: id}
	}
	return c.Copy(), nil
}

func (r *InMemoryChannels) ListAll(ctx context.Context, limit, offset int) ([]coremodel.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]coremodel.Channel, 0, len(r.data))
	for _, c := range r.data {
		out = append(out, c.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *InMemoryChannels) ListActive(ctx context.Context) ([]coremodel.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []coremodel.Channel
	for _, c := range r.data {
		if !c.Deleted {
			out = append(out, c.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// InMemoryMessages is a MessageRepository backed by a guarded slice.
type InMemoryMessages struct {
	mu   sync.RWMutex
	byID map[string]coremodel.Message
	data []coremodel.Message
}

// NewInMemoryMessages returns a ready-to-use InMemoryMessages.
func NewInMemoryMessages() *InMemoryMessages {
	return &InMemoryMessages{byID: make(map[string]coremodel.Message)}
}

func (r *InMemoryMessages) Save(ctx context.Context, m coremodel.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[m.ID]; exists {
		return nil
	}
	r.byID[m.ID] = m.Copy()
	r.data = append(r.data, m.Copy())
	return nil
}

func (r *InMemoryMessages) GetChannelMessages(ctx context.Context, channelID string, limit int, before, after *coremodel.Message, senderID string) ([]coremodel.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []coremodel.Message
	for _, m := range r.data {
		if m.ChannelID != channelID {
			continue
		}
		if senderID != "" && m.SenderID != senderID {
			continue
		}
		if before != nil && !m.Timestamp.Before(before.Timestamp) {
			continue
		}
		if after != nil && !m.Timestamp.After(after.Timestamp) {
			continue
		}
		out = append(out, m.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// InMemoryMinions is a MinionRepository backed by a guarded map.
type InMemoryMinions struct {
	mu   sync.RWMutex
	data map[string]coremodel.Minion
}

// NewInMemoryMinions returns a ready-to-use InMemoryMinions.
func NewInMemoryMinions() *InMemoryMinions {
	return &InMemoryMinions{data: make(map[string]coremodel.Minion)}
}

func (r *InMemoryMinions) Save(ctx context.Context, m coremodel.Minion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[m.ID] = m
	return nil
}

func (r *InMemoryMinions) GetByID(ctx context.Context, id string) (coremodel.Minion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.data[id]
	if !ok {
		return coremodel.Minion{}, ErrNotFound{Kind: "minion", ID: id}
	}
	return m, nil
}

func (r *InMemoryMinions) ListAll(ctx context.Context) ([]coremodel.Minion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]coremodel.Minion, 0, len(r.data))
	for _, m := range r.data {
		out = append(out, m)
	}
	return out, nil
}

func (r *InMemoryMinions) ListByStatus(ctx context.Context, status coremodel.MinionStatus) ([]coremodel.Minion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []coremodel.Minion
	for _, m := range r.data {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

// InMemoryTasks is a TaskRepository backed by a guarded map.
type InMemoryTasks struct {
	mu   sync.RWMutex
	data map[string]coremodel.Task
}

// NewInMemoryTasks returns a ready-to-use InMemoryTasks.
func NewInMemoryTasks() *InMemoryTasks {
	return &InMemoryTasks{data: make(map[string]coremodel.Task)}
}

func (r *InMemoryTasks) Save(ctx context.Context, t coremodel.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[t.ID] = t
	return nil
}

func (r *InMemoryTasks) GetByID(ctx context.Context, id string) (coremodel.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.data[id]
	if !ok {
		return coremodel.Task{}, ErrNotFound{Kind: "task", ID: id}
	}
	return t, nil
}

func (r *InMemoryTasks) ListAll(ctx context.Context) ([]coremodel.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]coremodel.Task, 0, len(r.data))
	for _, t := range r.data {
		out = append(out, t)
	}
	return out, nil
}

func (r *InMemoryTasks) ListByStatus(ctx context.Context, status coremodel.TaskStatus) ([]coremodel.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []coremodel.Task
	for _, t := range r.data {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}
