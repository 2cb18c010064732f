package coremodel

import (
	"fmt"
	"time"
)

// MinionStatus is a closed enumeration of a minion's lifecycle status.
type MinionStatus string

const (
	MinionIdle     MinionStatus = "idle"
	MinionThinking MinionStatus = "thinking"
	MinionEmitting MinionStatus = "emitting"
	MinionError    MinionStatus = "error"
)

// Persona describes a minion's fixed identity and generation
// configuration. Validate checks its invariants; nothing calls it
// when a Persona or Minion is built, and the Service Container wires
// minions without calling it.
type Persona struct {
	Name             string
	BasePersonality  string
	Quirks           []string
	Catchphrases     []string
	ExpertiseAreas   []string
	AllowedTools     []string
	ModelName        string
	Temperature      float64
	MaxTokens        int
}

// Validate enforces the persona construction invariants from the
// spec: temperature in [0,2], max_tokens > 0.
func (p Persona) Validate() error {
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("coremodel: persona %q temperature %v out of range [0,2]", p.Name, p.Temperature)
	}
	if p.MaxTokens <= 0 {
		return fmt.Errorf("coremodel: persona %q max_tokens %d must be > 0", p.Name, p.MaxTokens)
	}
	if p.Name == "" {
		return fmt.Errorf("coremodel: persona requires a name")
	}
	return nil
}

// Minion is a persona-driven participant with its own emotional state.
type Minion struct {
	ID             string
	Persona        Persona
	EmotionalState EmotionalState
	Status         MinionStatus
	CreatedAt      time.Time
}
