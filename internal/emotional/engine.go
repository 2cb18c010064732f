// Package emotional implements the per-minion Emotional Engine: it
// turns events into bounded mood/opinion deltas and emits
// minion.emotional_change for every update it applies.
package emotional

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nugget/minionfabric/internal/coremodel"
	"github.com/nugget/minionfabric/internal/eventbus"
)

// Per-call delta clamps, taken verbatim from the original emotional
// engine's validation step.
const (
	MaxMoodDelta    = 0.3
	MaxEnergyDelta  = 0.2
	MaxStressDelta  = 0.2
	MaxOpinionDelta = 20.0

	// MomentumDecay and MomentumGain are the EMA weights: m' = decay*m + gain*delta.
	MomentumDecay = 0.7
	MomentumGain  = 0.3
	// MomentumInfluence scales momentum's contribution to the
	// effective applied delta: effective = delta + influence*m'.
	MomentumInfluence = 0.2

	selfRegulationInterval = 60 * time.Second

	stressRegulationThreshold  = 0.85
	energyRegulationThreshold  = 0.15
	valenceRegulationThreshold = 0.85
	regulationPull             = 0.1
)

// OpinionDelta is a proposed change to one entity's opinion score.
type OpinionDelta struct {
	EntityType coremodel.EntityType
	Trust      float64
	Respect    float64
	Affection  float64
}

// Update is a proposed emotional change produced by a heuristic or a
// policy LLM call, before clamping and momentum are applied.
type Update struct {
	Mood          coremodel.MoodVector
	EnergyDelta   float64
	StressDelta   float64
	OpinionDeltas map[string]OpinionDelta
	Reflection    string
}

// Engine owns one minion's EmotionalState exclusively; no other
// component may mutate it directly.
type Engine struct {
	minionID string
	bus      *eventbus.Bus
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	state    coremodel.EmotionalState
	momentum coremodel.MoodVector

	cron *cron.Cron
	subs []eventbus.SubscriptionID
}

// New constructs an Engine seeded with the neutral baseline state.
func New(minionID string, bus *eventbus.Bus, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	now := time.Now
	return &Engine{
		minionID: minionID,
		bus:      bus,
		log:      log,
		now:      now,
		state:    coremodel.NewEmotionalState(minionID, now()),
	}
}

// State returns an independently-owned snapshot.
func (e *Engine) State() coremodel.EmotionalState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Copy()
}

// Start subscribes to the events this minion's emotional state reacts
// to and launches the self-regulation loop.
func (e *Engine) Start(ctx context.Context) error {
	handler := func(_ context.Context, ev coremodel.Event) { e.onEvent(ev) }

	for _, t := range []coremodel.EventType{
		coremodel.EventChannelMessage,
		coremodel.EventTaskAssigned,
		coremodel.EventTaskCompleted,
		coremodel.EventTaskFailed,
		coremodel.EventMinionSpawned,
	} {
		id, err := e.bus.Subscribe(t, handler)
		if err != nil {
			return fmt.Errorf("emotional: subscribe %s: %w", t, err)
		}
		e.subs = append(e.subs, id)
	}

	e.cron = cron.New()
	if _, err := e.cron.AddFunc(fmt.Sprintf("@every %s", selfRegulationInterval), e.selfRegulate); err != nil {
		return fmt.Errorf("emotional: schedule self-regulation: %w", err)
	}
	e.cron.Start()
	return nil
}

// Stop unsubscribes from the bus and halts self-regulation.
func (e *Engine) Stop() {
	for _, id := range e.subs {
		e.bus.Unsubscribe(id)
	}
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
}

// onEvent filters to events relevant to this minion and, for relevant
// ones, derives and applies an Update.
func (e *Engine) onEvent(ev coremodel.Event) {
	if !e.relevant(ev) {
		return
	}
	update := DeriveUpdate(e.minionID, ev)
	e.Apply(update, ev.Source)
}

// relevant implements the Engine's subscription filter: channel
// messages only when this minion is sender or @-mentioned; task
// events only when assigned_to is this minion; minion.spawned always
// (another minion joining).
func (e *Engine) relevant(ev coremodel.Event) bool {
	switch ev.Type {
	case coremodel.EventChannelMessage:
		sender, _ := ev.Data["sender_id"].(string)
		content, _ := ev.Data["content"].(string)
		return sender == e.minionID || mentions(content, e.minionID)
	case coremodel.EventTaskAssigned, coremodel.EventTaskCompleted, coremodel.EventTaskFailed:
		assignedTo, _ := ev.Data["assigned_to"].(string)
		return assignedTo == e.minionID
	case coremodel.EventMinionSpawned:
		return true
	default:
		return false
	}
}

func mentions(content, minionID string) bool {
	needle := "@" + minionID
	for i := 0; i+len(needle) <= len(content); i++ {
		if content[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// Apply validates update's deltas, applies mood momentum, and commits
// the result as a new state version. It always emits
// minion.emotional_change; callers that want to skip no-op updates
// should not call Apply with a zero Update.
func (e *Engine) Apply(update Update, source string) coremodel.EmotionalState {
	e.mu.Lock()

	moodDelta := clampMood(update.Mood)
	e.momentum = coremodel.MoodVector{
		Valence:     MomentumDecay*e.momentum.Valence + MomentumGain*moodDelta.Valence,
		Arousal:     MomentumDecay*e.momentum.Arousal + MomentumGain*moodDelta.Arousal,
		Dominance:   MomentumDecay*e.momentum.Dominance + MomentumGain*moodDelta.Dominance,
		Curiosity:   MomentumDecay*e.momentum.Curiosity + MomentumGain*moodDelta.Curiosity,
		Creativity:  MomentumDecay*e.momentum.Creativity + MomentumGain*moodDelta.Creativity,
		Sociability: MomentumDecay*e.momentum.Sociability + MomentumGain*moodDelta.Sociability,
	}

	effective := coremodel.MoodVector{
		Valence:     moodDelta.Valence + MomentumInfluence*e.momentum.Valence,
		Arousal:     moodDelta.Arousal + MomentumInfluence*e.momentum.Arousal,
		Dominance:   moodDelta.Dominance + MomentumInfluence*e.momentum.Dominance,
		Curiosity:   moodDelta.Curiosity + MomentumInfluence*e.momentum.Curiosity,
		Creativity:  moodDelta.Creativity + MomentumInfluence*e.momentum.Creativity,
		Sociability: moodDelta.Sociability + MomentumInfluence*e.momentum.Sociability,
	}

	e.state.Mood = e.state.Mood.Add(effective).Clamp()
	e.state.Energy = clampUnit(e.state.Energy + clampAbs(update.EnergyDelta, MaxEnergyDelta))
	e.state.Stress = clampUnit(e.state.Stress + clampAbs(update.StressDelta, MaxStressDelta))

	if e.state.Opinions == nil {
		e.state.Opinions = make(map[string]coremodel.OpinionScore)
	}
	for entityID, d := range update.OpinionDeltas {
		op := e.state.Opinions[entityID]
		op.EntityType = d.EntityType
		op.Trust += clampAbs(d.Trust, MaxOpinionDelta)
		op.Respect += clampAbs(d.Respect, MaxOpinionDelta)
		op.Affection += clampAbs(d.Affection, MaxOpinionDelta)
		op.InteractionCount++
		op.LastInteraction = e.now()
		op = op.ClampFor(entityID)
		e.state.Opinions[entityID] = op
	}

	if update.Reflection != "" {
		e.state.Reflections = append(e.state.Reflections, update.Reflection)
	}

	e.state.Version++
	e.state.LastUpdated = e.now()
	snapshot := e.state.Copy()
	e.mu.Unlock()

	e.emitChange(snapshot, source)
	return snapshot
}

func (e *Engine) emitChange(state coremodel.EmotionalState, source string) {
	commanderScalar := 0.0
	for id, op := range state.Opinions {
		if coremodel.IsCommanderEntity(id) {
			commanderScalar = op.OverallSentiment()
			break
		}
	}
	data := map[string]any{
		"minion_id":          e.minionID,
		"mood":               state.Mood,
		"energy":             state.Energy,
		"stress":             state.Stress,
		"commander_opinion":  commanderScalar,
		"version":            state.Version,
	}
	if _, err := e.bus.Emit(coremodel.EventMinionEmotionalChange, data, nil, source); err != nil {
		e.log.Warn("emotional: emit minion.emotional_change failed", zap.String("minion_id", e.minionID), zap.Error(err))
	}
}

// selfRegulate nudges extreme values back toward neutral.
func (e *Engine) selfRegulate() {
	e.mu.Lock()
	changed := false
	if e.state.Stress > stressRegulationThreshold {
		e.state.Stress -= regulationPull
		changed = true
	}
	if e.state.Energy < energyRegulationThreshold {
		e.state.Energy += regulationPull
		changed = true
	}
	if e.state.Mood.Valence > valenceRegulationThreshold {
		e.state.Mood.Valence -= regulationPull
		changed = true
	} else if e.state.Mood.Valence < -valenceRegulationThreshold {
		e.state.Mood.Valence += regulationPull
		changed = true
	}
	if !changed {
		e.mu.Unlock()
		return
	}
	e.state.Mood = e.state.Mood.Clamp()
	e.state.Energy = clampUnit(e.state.Energy)
	e.state.Stress = clampUnit(e.state.Stress)
	e.state.Version++
	e.state.LastUpdated = e.now()
	snapshot := e.state.Copy()
	e.mu.Unlock()

	e.emitChange(snapshot, "emotional.self_regulation")
}

func clampMood(m coremodel.MoodVector) coremodel.MoodVector {
	return coremodel.MoodVector{
		Valence:     clampAbs(m.Valence, MaxMoodDelta),
		Arousal:     clampAbs(m.Arousal, MaxMoodDelta),
		Dominance:   clampAbs(m.Dominance, MaxMoodDelta),
		Curiosity:   clampAbs(m.Curiosity, MaxMoodDelta),
		Creativity:  clampAbs(m.Creativity, MaxMoodDelta),
		Sociability: clampAbs(m.Sociability, MaxMoodDelta),
	}
}

func clampAbs(v, max float64) float64 {
	if v > max {
		return max
	}
	if v < -max {
		return -max
	}
	return v
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
