// Package minionrt is the per-minion Agent Runtime: it subscribes to
// channel.message, decides when to respond, invokes the response
// generator, and dispatches tool calls. It never emits channel.message
// directly — replies always go through the send_channel_message tool,
// which in turn calls the Channel Service.
package minionrt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nugget/minionfabric/internal/channelsvc"
	"github.com/nugget/minionfabric/internal/coremodel"
	"github.com/nugget/minionfabric/internal/emotional"
	"github.com/nugget/minionfabric/internal/eventbus"
	"github.com/nugget/minionfabric/internal/llmgen"
	"github.com/nugget/minionfabric/internal/minionrt/toolset"
)

// State is the per-agent state machine position.
type State string

const (
	StateIdle     State = "idle"
	StateThinking State = "thinking"
	StateEmitting State = "emitting"
	StateError    State = "error"
)

const (
	generationDeadline = 30 * time.Second
	maxToolIterations  = 6

	// DefaultResponseRateLimit is the per-channel response cap: 3 per
	// minute, configurable per Runtime.
	DefaultResponseRateLimit = 3
	responseRateWindow       = time.Minute
)

// MemoryProvider supplies a bounded, formatted conversation transcript
// for the system instruction's <conversation_history_cue>.
type MemoryProvider interface {
	RecentContext(ctx context.Context, channelID string, approxTokens int) (string, error)
}

// ChannelMemory is the default MemoryProvider: a plain formatted
// transcript, oldest first, built from the Channel Service's own
// message log.
type ChannelMemory struct {
	Channels *channelsvc.Service
}

// RecentContext implements MemoryProvider. approxTokens is treated as
// an approximate message-count budget (4 chars/token, ~15 tokens/line).
func (m ChannelMemory) RecentContext(ctx context.Context, channelID string, approxTokens int) (string, error) {
	limit := approxTokens / 15
	if limit <= 0 {
		limit = 20
	}
	msgs, _, _, err := m.Channels.GetMessages(ctx, channelID, limit, 0)
	if err != nil {
		return "", err
	}
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[len(msgs)-1-i] = fmt.Sprintf("%s: %s", m.SenderID, m.Content)
	}
	return strings.Join(lines, "\n"), nil
}

// Runtime is one minion's Agent Runtime instance.
type Runtime struct {
	minion    coremodel.Minion
	bus       *eventbus.Bus
	channels  *channelsvc.Service
	emotional *emotional.Engine
	generator llmgen.Generator
	memory    MemoryProvider
	tools     *toolset.Toolset
	log       *slog.Logger
	now       func() time.Time

	mu                 sync.Mutex
	state              State
	subscribedChannels map[string]struct{}
	responseLimiters   map[string]*rate.Limiter

	sub eventbus.SubscriptionID
}

// New constructs a Runtime for minion, wired to the shared Channel
// Service, its own Emotional Engine, and a response generator.
func New(minion coremodel.Minion, bus *eventbus.Bus, channels *channelsvc.Service, eng *emotional.Engine, generator llmgen.Generator, memory MemoryProvider, log *slog.Logger) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	if memory == nil {
		memory = ChannelMemory{Channels: channels}
	}
	return &Runtime{
		minion:             minion,
		bus:                bus,
		channels:           channels,
		emotional:          eng,
		generator:          generator,
		memory:             memory,
		tools:              toolset.New(channels, minion.ID),
		log:                log,
		now:                time.Now,
		state:              StateIdle,
		subscribedChannels: make(map[string]struct{}),
		responseLimiters:   make(map[string]*rate.Limiter),
	}
}

// State returns the runtime's current state machine position.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// SubscribeChannel adds channelID to the set this minion listens to.
func (r *Runtime) SubscribeChannel(channelID string) {
	r.mu.Lock()
	r.subscribedChannels[channelID] = struct{}{}
	r.mu.Unlock()
}

// UnsubscribeChannel removes channelID from the listened-to set.
func (r *Runtime) UnsubscribeChannel(channelID string) {
	r.mu.Lock()
	delete(r.subscribedChannels, channelID)
	r.mu.Unlock()
}

func (r *Runtime) isSubscribed(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subscribedChannels[channelID]
	return ok
}

// Start subscribes to channel.message on the bus.
func (r *Runtime) Start(ctx context.Context) error {
	id, err := r.bus.Subscribe(coremodel.EventChannelMessage, func(handlerCtx context.Context, e coremodel.Event) {
		r.onChannelMessage(ctx, e)
	})
	if err != nil {
		return fmt.Errorf("minionrt: subscribe channel.message: %w", err)
	}
	r.sub = id
	return nil
}

// Stop unsubscribes from the bus. Any in-flight generation is left to
// its own context deadline; callers that need immediate cancellation
// should cancel the context passed to Start.
func (r *Runtime) Stop() {
	r.bus.Unsubscribe(r.sub)
}

// onChannelMessage implements the per-event decision procedure from
// the Agent Runtime's loop-avoidance contract and response pipeline.
func (r *Runtime) onChannelMessage(ctx context.Context, e coremodel.Event) {
	senderID, _ := e.Data["sender_id"].(string)
	channelID, _ := e.Data["channel_id"].(string)
	content, _ := e.Data["content"].(string)

	if senderID == r.minion.ID {
		return
	}
	if r.State() == StateError {
		return
	}
	if !r.isSubscribed(channelID) {
		return
	}
	if r.isIgnoredSystemMessage(e) {
		return
	}
	if !r.allowResponse(channelID) {
		r.log.Debug("minionrt: per-channel response rate limit hit", "minion_id", r.minion.ID, "channel_id", channelID)
		return
	}

	r.respond(ctx, channelID, senderID, content)
}

// isIgnoredSystemMessage implements the second half of the
// loop-avoidance contract: never respond to membership/lifecycle
// system notices.
func (r *Runtime) isIgnoredSystemMessage(e coremodel.Event) bool {
	meta, _ := e.Metadata["event"].(string)
	switch meta {
	case "member_joined", "member_left", "channel_deleted":
		return true
	default:
		return false
	}
}

func (r *Runtime) allowResponse(channelID string) bool {
	r.mu.Lock()
	lim, ok := r.responseLimiters[channelID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(responseRateWindow/DefaultResponseRateLimit), DefaultResponseRateLimit)
		r.responseLimiters[channelID] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}

// systemInstruction renders the persona into the two-cue
// system instruction the spec describes.
func (r *Runtime) systemInstruction(emotionalCue, historyCue string) string {
	p := r.minion.Persona
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. %s\n", p.Name, p.BasePersonality)
	if len(p.Quirks) > 0 {
		fmt.Fprintf(&b, "Quirks: %s\n", strings.Join(p.Quirks, "; "))
	}
	if len(p.Catchphrases) > 0 {
		fmt.Fprintf(&b, "You sometimes say things like: %s\n", strings.Join(p.Catchphrases, " / "))
	}
	fmt.Fprintf(&b, "<current_emotional_cue>%s</current_emotional_cue>\n", emotionalCue)
	fmt.Fprintf(&b, "<conversation_history_cue>%s</conversation_history_cue>\n", historyCue)
	return b.String()
}

func (r *Runtime) respond(parent context.Context, channelID, senderID, content string) {
	r.setState(StateThinking)

	ctx, cancel := context.WithTimeout(parent, generationDeadline)
	defer cancel()

	history, err := r.memory.RecentContext(ctx, channelID, 500)
	if err != nil {
		r.log.Warn("minionrt: recent context failed", "minion_id", r.minion.ID, "error", err)
	}
	emotionalCue := ""
	if r.emotional != nil {
		emotionalCue = r.emotional.MoodCue()
	}

	req := llmgen.Request{
		SystemInstruction: r.systemInstruction(emotionalCue, history),
		History:           history,
		Tools:             r.tools.Descriptors(),
		Config: llmgen.GenerationConfig{
			Temperature:     r.minion.Persona.Temperature,
			TopP:            0.95,
			TopK:            40,
			MaxOutputTokens: r.minion.Persona.MaxTokens,
		},
	}

	for i := 0; i < maxToolIterations; i++ {
		if ctx.Err() != nil {
			r.setState(StateIdle)
			return
		}
		resp, err := r.generator.Generate(ctx, req)
		if err != nil {
			r.onGeneratorFault(err)
			return
		}
		if resp.IsText() {
			r.setState(StateIdle)
			return
		}

		r.setState(StateEmitting)
		var results []string
		for _, call := range resp.ToolCalls {
			result := r.tools.Dispatch(ctx, call)
			results = append(results, fmt.Sprintf("%s -> success=%v status=%s error=%s", call.Name, result.Success, result.Status, result.Error))
		}
		req.History = req.History + "\n" + strings.Join(results, "\n")
	}
	r.setState(StateIdle)
}

func (r *Runtime) onGeneratorFault(err error) {
	r.setState(StateError)
	r.log.Error("minionrt: generator fault", "minion_id", r.minion.ID, "error", err)
	if _, emitErr := r.bus.Emit(coremodel.EventMinionError, map[string]any{
		"minion_id": r.minion.ID,
		"error":     err.Error(),
	}, nil, "minionrt"); emitErr != nil {
		r.log.Warn("minionrt: emit minion.error failed", "minion_id", r.minion.ID, "error", emitErr)
	}
}

// Restart clears an error state, allowing the runtime to resume
// responding. The state machine requires an explicit restart per the
// spec; nothing does this automatically.
func (r *Runtime) Restart() {
	r.setState(StateIdle)
}
