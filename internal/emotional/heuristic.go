package emotional

import (
	"fmt"
	"strings"

	"github.com/nugget/minionfabric/internal/coremodel"
)

// keywordWeights maps lowercase substrings to the mood/stress/energy
// nudge they contribute. This is the default heuristic the spec
// allows in place of a policy LLM call; it is intentionally coarse.
var keywordWeights = []struct {
	keyword string
	valence float64
	arousal float64
	stress  float64
	energy  float64
}{
	{"thanks", 0.15, 0.05, -0.02, 0.02},
	{"thank you", 0.15, 0.05, -0.02, 0.02},
	{"great job", 0.2, 0.1, -0.05, 0.05},
	{"well done", 0.2, 0.1, -0.05, 0.05},
	{"sorry", -0.1, 0.05, 0.05, -0.02},
	{"urgent", -0.05, 0.2, 0.15, -0.05},
	{"error", -0.15, 0.1, 0.1, -0.05},
	{"failed", -0.2, 0.1, 0.15, -0.08},
	{"broken", -0.2, 0.1, 0.1, -0.05},
	{"love", 0.2, 0.1, -0.05, 0.03},
	{"hate", -0.2, 0.15, 0.1, -0.05},
	{"please", 0.03, 0.0, 0.0, 0.0},
	{"?", 0.0, 0.05, 0.02, -0.01},
}

// DeriveUpdate computes a proposed Update for ev via the keyword
// heuristic. minionID identifies the engine this update is for, used
// to decide which entity opinion (if any) is affected.
func DeriveUpdate(minionID string, ev coremodel.Event) Update {
	switch ev.Type {
	case coremodel.EventChannelMessage:
		return deriveFromMessage(minionID, ev)
	case coremodel.EventTaskAssigned:
		return Update{Mood: coremodel.MoodVector{Arousal: 0.1, Dominance: 0.05}, EnergyDelta: -0.02}
	case coremodel.EventTaskCompleted:
		return Update{Mood: coremodel.MoodVector{Valence: 0.2, Dominance: 0.1}, EnergyDelta: -0.05, StressDelta: -0.1}
	case coremodel.EventTaskFailed:
		return Update{Mood: coremodel.MoodVector{Valence: -0.2, Dominance: -0.05}, StressDelta: 0.15}
	case coremodel.EventMinionSpawned:
		return Update{Mood: coremodel.MoodVector{Sociability: 0.05, Curiosity: 0.05}}
	default:
		return Update{}
	}
}

func deriveFromMessage(minionID string, ev coremodel.Event) Update {
	content, _ := ev.Data["content"].(string)
	sender, _ := ev.Data["sender_id"].(string)
	lower := strings.ToLower(content)

	var mood coremodel.MoodVector
	var stress, energy float64
	for _, kw := range keywordWeights {
		if strings.Contains(lower, kw.keyword) {
			mood.Valence += kw.valence
			mood.Arousal += kw.arousal
			stress += kw.stress
			energy += kw.energy
		}
	}

	opinions := map[string]OpinionDelta{}
	if sender != "" && sender != minionID {
		entityType := coremodel.EntityMinion
		if coremodel.IsCommanderEntity(sender) {
			entityType = coremodel.EntityCommander
		}
		opinions[sender] = OpinionDelta{
			EntityType: entityType,
			Trust:      mood.Valence * 10,
			Respect:    mood.Valence * 5,
			Affection:  mood.Valence * 8,
		}
	}

	return Update{
		Mood:          mood,
		StressDelta:   stress,
		EnergyDelta:   energy,
		OpinionDeltas: opinions,
	}
}

// MoodCue renders a short natural-language paragraph describing the
// current mood, for splicing into the Agent Runtime's system
// instruction at the <current_emotional_cue> placeholder.
func (e *Engine) MoodCue() string {
	s := e.State()
	tone := "even-keeled"
	switch {
	case s.Mood.Valence > 0.4:
		tone = "upbeat"
	case s.Mood.Valence < -0.4:
		tone = "down"
	}
	energyWord := "steady"
	switch {
	case s.Energy > 0.7:
		energyWord = "energetic"
	case s.Energy < 0.3:
		energyWord = "low on energy"
	}
	stressWord := ""
	if s.Stress > 0.6 {
		stressWord = " and a bit stressed"
	}
	return fmt.Sprintf("You are feeling %s and %s%s right now.", tone, energyWord, stressWord)
}
