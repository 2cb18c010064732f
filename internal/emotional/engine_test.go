package emotional_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/minionfabric/internal/coremodel"
	"github.com/nugget/minionfabric/internal/emotional"
	"github.com/nugget/minionfabric/internal/eventbus"
)

func TestApplyClampsMoodDeltaToCapPlusMomentum(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()
	eng := emotional.New("m1", bus, nil)

	before := eng.State()
	eng.Apply(emotional.Update{Mood: coremodel.MoodVector{Valence: 10}}, "test")
	after := eng.State()

	delta := after.Mood.Valence - before.Mood.Valence
	assert.LessOrEqual(t, delta, emotional.MaxMoodDelta+emotional.MomentumInfluence*emotional.MaxMoodDelta+1e-9)
	assert.GreaterOrEqual(t, after.Mood.Valence, -1.0)
	assert.LessOrEqual(t, after.Mood.Valence, 1.0)
}

func TestApplyClampsEnergyAndStressDeltas(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()
	eng := emotional.New("m1", bus, nil)

	eng.Apply(emotional.Update{EnergyDelta: -10, StressDelta: 10}, "test")
	after := eng.State()
	assert.GreaterOrEqual(t, after.Energy, 0.0)
	assert.LessOrEqual(t, after.Stress, 1.0)
}

func TestCommanderOpinionStaysInFloorRange(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()
	eng := emotional.New("m1", bus, nil)

	for i := 0; i < 20; i++ {
		eng.Apply(emotional.Update{
			OpinionDeltas: map[string]emotional.OpinionDelta{
				"commander": {EntityType: coremodel.EntityCommander, Trust: -50, Respect: -50, Affection: -50},
			},
		}, "test")
	}
	state := eng.State()
	op := state.Opinions["commander"]
	assert.GreaterOrEqual(t, op.Trust, 50.0)
	assert.GreaterOrEqual(t, op.Respect, 50.0)
	assert.GreaterOrEqual(t, op.Affection, 50.0)
}

func TestApplyEmitsEmotionalChange(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()
	eng := emotional.New("m1", bus, nil)

	var got coremodel.Event
	done := make(chan struct{}, 1)
	_, err := bus.Subscribe(coremodel.EventMinionEmotionalChange, func(_ context.Context, e coremodel.Event) {
		got = e
		select {
		case done <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	eng.Apply(emotional.Update{Mood: coremodel.MoodVector{Valence: 0.1}}, "test")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for minion.emotional_change")
	}
	assert.Equal(t, "m1", got.Data["minion_id"])
}

func TestDeriveUpdateFromMessageReactsToKeywords(t *testing.T) {
	ev := coremodel.Event{
		Type: coremodel.EventChannelMessage,
		Data: map[string]any{
			"sender_id": "u1",
			"content":   "great job, thanks!",
		},
	}
	u := emotional.DeriveUpdate("m1", ev)
	assert.Greater(t, u.Mood.Valence, 0.0)
	assert.Contains(t, u.OpinionDeltas, "u1")
}

func TestDeriveUpdateIgnoresSelfSentMessages(t *testing.T) {
	ev := coremodel.Event{
		Type: coremodel.EventChannelMessage,
		Data: map[string]any{
			"sender_id": "m1",
			"content":   "great job",
		},
	}
	u := emotional.DeriveUpdate("m1", ev)
	assert.NotContains(t, u.OpinionDeltas, "m1")
}

func TestMoodCueIsNonEmpty(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()
	eng := emotional.New("m1", bus, nil)
	assert.NotEmpty(t, eng.MoodCue())
}
