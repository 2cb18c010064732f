package coremodel

import "time"

// MoodVector is a minion's instantaneous affective position. Each
// axis is independently clamped to its declared range; Clamp enforces
// all six at once.
type MoodVector struct {
	Valence     float64 // [-1, 1]
	Arousal     float64 // [0, 1]
	Dominance   float64 // [0, 1]
	Curiosity   float64 // [0, 1]
	Creativity  float64 // [0, 1]
	Sociability float64 // [0, 1]
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp returns m with every axis clamped to its declared range.
func (m MoodVector) Clamp() MoodVector {
	return MoodVector{
		Valence:     clampf(m.Valence, -1, 1),
		Arousal:     clampf(m.Arousal, 0, 1),
		Dominance:   clampf(m.Dominance, 0, 1),
		Curiosity:   clampf(m.Curiosity, 0, 1),
		Creativity:  clampf(m.Creativity, 0, 1),
		Sociability: clampf(m.Sociability, 0, 1),
	}
}

// Add returns m with delta applied to every axis, unclamped.
func (m MoodVector) Add(delta MoodVector) MoodVector {
	return MoodVector{
		Valence:     m.Valence + delta.Valence,
		Arousal:     m.Arousal + delta.Arousal,
		Dominance:   m.Dominance + delta.Dominance,
		Curiosity:   m.Curiosity + delta.Curiosity,
		Creativity:  m.Creativity + delta.Creativity,
		Sociability: m.Sociability + delta.Sociability,
	}
}

// EntityType is a closed enumeration describing who/what an opinion
// is about.
type EntityType string

const (
	EntityCommander EntityType = "commander"
	EntityMinion    EntityType = "minion"
	EntityUser      EntityType = "user"
	EntityUnknown   EntityType = "unknown"
)

// CommanderEntityIDs are the entity ids whose commander-floor clamp
// applies to trust/respect/affection, per the spec's §3 invariant.
var CommanderEntityIDs = map[string]struct{}{
	"commander":        {},
	"COMMANDER_PRIME":  {},
}

// IsCommanderEntity reports whether entityID is subject to the
// commander floor clamp.
func IsCommanderEntity(entityID string) bool {
	_, ok := CommanderEntityIDs[entityID]
	return ok
}

// OpinionScore tracks one minion's running opinion of another entity.
type OpinionScore struct {
	EntityType      EntityType
	Trust           float64 // [-100, 100], or [50,100] for commander entities
	Respect         float64
	Affection       float64
	InteractionCount int
	LastInteraction time.Time
	NotableEvents   []string
}

// OverallSentiment is the derived scalar (trust+respect+affection)/3.
func (o OpinionScore) OverallSentiment() float64 {
	return (o.Trust + o.Respect + o.Affection) / 3
}

// ClampFor clamps trust/respect/affection to [-100,100], tightening to
// [50,100] when entityID is a commander entity.
func (o OpinionScore) ClampFor(entityID string) OpinionScore {
	lo, hi := -100.0, 100.0
	if IsCommanderEntity(entityID) {
		lo = 50.0
	}
	o.Trust = clampf(o.Trust, lo, hi)
	o.Respect = clampf(o.Respect, lo, hi)
	o.Affection = clampf(o.Affection, lo, hi)
	return o
}

// EmotionalState is a minion's full affective record, owned
// exclusively by that minion's emotional engine instance.
type EmotionalState struct {
	MinionID    string
	Mood        MoodVector
	Energy      float64 // [0,1]
	Stress      float64 // [0,1]
	Opinions    map[string]OpinionScore
	Reflections []string
	LastUpdated time.Time
	Version     int
}

// Copy returns an independently-owned copy of e.
func (e EmotionalState) Copy() EmotionalState {
	out := e
	if e.Opinions != nil {
		out.Opinions = make(map[string]OpinionScore, len(e.Opinions))
		for k, v := range e.Opinions {
			v.NotableEvents = append([]string(nil), v.NotableEvents...)
			out.Opinions[k] = v
		}
	}
	out.Reflections = append([]string(nil), e.Reflections...)
	return out
}

// NewEmotionalState returns the neutral baseline state for a freshly
// spawned minion.
func NewEmotionalState(minionID string, now time.Time) EmotionalState {
	return EmotionalState{
		MinionID: minionID,
		Mood: MoodVector{
			Valence:     0,
			Arousal:     0.3,
			Dominance:   0.5,
			Curiosity:   0.5,
			Creativity:  0.5,
			Sociability: 0.5,
		},
		Energy:      0.7,
		Stress:      0.2,
		Opinions:    make(map[string]OpinionScore),
		Reflections: nil,
		LastUpdated: now,
		Version:     0,
	}
}
