// Package coremodel holds the plain domain types shared across the
// minion fabric: events, channels, messages, minions, and their
// emotional state. Nothing in this package talks to the bus, a
// repository, or an LLM — it is pure data plus the small amount of
// validation that makes a value well-formed.
package coremodel

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is a closed enumeration of every event the bus will carry.
// New values are added here, never invented ad hoc at call sites.
type EventType string

const (
	EventChannelCreated      EventType = "channel.created"
	EventChannelUpdated      EventType = "channel.updated"
	EventChannelDeleted      EventType = "channel.deleted"
	EventChannelMemberAdded  EventType = "channel.member_added"
	EventChannelMemberRemove EventType = "channel.member_removed"
	EventChannelMessage      EventType = "channel.message"

	EventMinionSpawned         EventType = "minion.spawned"
	EventMinionDespawned       EventType = "minion.despawned"
	EventMinionStateChanged    EventType = "minion.state_changed"
	EventMinionEmotionalChange EventType = "minion.emotional_change"
	EventMinionError           EventType = "minion.error"

	EventTaskCreated        EventType = "task.created"
	EventTaskUpdated        EventType = "task.updated"
	EventTaskStatusChanged  EventType = "task.status_changed"
	EventTaskAssigned       EventType = "task.assigned"
	EventTaskProgressUpdate EventType = "task.progress_update"
	EventTaskCompleted      EventType = "task.completed"
	EventTaskFailed         EventType = "task.failed"
	EventTaskCancelled      EventType = "task.cancelled"
	EventTaskDeleted        EventType = "task.deleted"

	EventSystemHealth EventType = "system.health"
	EventSystemError  EventType = "system.error"
)

// KnownEventTypes is the exhaustive registration table backing
// subscription validation and subscribe-all. It is the Go analogue of
// the enum-keyed dispatch table the spec calls for in place of dynamic
// dispatch on a free-form string.
var KnownEventTypes = []EventType{
	EventChannelCreated,
	EventChannelUpdated,
	EventChannelDeleted,
	EventChannelMemberAdded,
	EventChannelMemberRemove,
	EventChannelMessage,
	EventMinionSpawned,
	EventMinionDespawned,
	EventMinionStateChanged,
	EventMinionEmotionalChange,
	EventMinionError,
	EventTaskCreated,
	EventTaskUpdated,
	EventTaskStatusChanged,
	EventTaskAssigned,
	EventTaskProgressUpdate,
	EventTaskCompleted,
	EventTaskFailed,
	EventTaskCancelled,
	EventTaskDeleted,
	EventSystemHealth,
	EventSystemError,
}

var knownEventTypeSet = func() map[EventType]struct{} {
	m := make(map[EventType]struct{}, len(KnownEventTypes))
	for _, t := range KnownEventTypes {
		m[t] = struct{}{}
	}
	return m
}()

// IsKnownEventType reports whether t is a registered event type.
func IsKnownEventType(t EventType) bool {
	_, ok := knownEventTypeSet[t]
	return ok
}

// WireName renders an EventType in the dotted-to-underscore frame
// naming scheme used on the WebSocket bridge, e.g.
// "channel.message" -> "channel_message".
func (t EventType) WireName() string {
	out := make([]byte, len(t))
	for i := 0; i < len(t); i++ {
		if t[i] == '.' {
			out[i] = '_'
		} else {
			out[i] = t[i]
		}
	}
	return string(out)
}

// Event is an immutable record published on the bus. Equality is by
// ID; two events with the same ID are the same event.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Source    string
	Data      map[string]any
	Metadata  map[string]any
}

// NewEvent constructs an Event with a fresh ID and the given
// timestamp. It does not validate Type against KnownEventTypes; that
// check belongs to the bus at subscribe/emit time.
func NewEvent(t EventType, source string, data, metadata map[string]any, now time.Time) Event {
	return Event{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Type:      t,
		Timestamp: now,
		Source:    source,
		Data:      data,
		Metadata:  metadata,
	}
}

// ErrUnknownEventType is returned when a caller subscribes to or emits
// a type outside KnownEventTypes.
type ErrUnknownEventType struct {
	Type EventType
}

func (e ErrUnknownEventType) Error() string {
	return fmt.Sprintf("coremodel: unknown event type %q", e.Type)
}
