// Package toolset implements the tool-call protocol exposed to the
// response generator: send_channel_message, listen_to_channel,
// get_channel_history, send_direct_message. Every tool is synchronous
// to the generator even though it may schedule asynchronous work
// internally (event emission via the Channel Service).
package toolset

import (
	"context"
	"fmt"

	"github.com/nugget/minionfabric/internal/channelsvc"
	"github.com/nugget/minionfabric/internal/coremodel"
	"github.com/nugget/minionfabric/internal/llmgen"
)

const (
	NameSendChannelMessage = "send_channel_message"
	NameListenToChannel    = "listen_to_channel"
	NameGetChannelHistory  = "get_channel_history"
	NameSendDirectMessage  = "send_direct_message"

	messagePreviewLen = 80
)

// Toolset binds the four agent-facing tools to one minion's identity
// and the shared Channel Service.
type Toolset struct {
	channels *channelsvc.Service
	minionID string
}

// New constructs a Toolset for minionID.
func New(channels *channelsvc.Service, minionID string) *Toolset {
	return &Toolset{channels: channels, minionID: minionID}
}

// Descriptors returns the JSON-schema-shaped tool contracts to hand
// the response generator.
func (t *Toolset) Descriptors() []llmgen.ToolDescriptor {
	return []llmgen.ToolDescriptor{
		{
			Name:        NameSendChannelMessage,
			Description: "Send a chat message to a channel as this minion.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"channel": map[string]any{"type": "string"},
					"message": map[string]any{"type": "string"},
				},
				"required": []string{"channel", "message"},
			},
		},
		{
			Name:        NameListenToChannel,
			Description: "Wait for further activity on a channel before responding.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"channel":  map[string]any{"type": "string"},
					"duration": map[string]any{"type": "number"},
				},
				"required": []string{"channel"},
			},
		},
		{
			Name:        NameGetChannelHistory,
			Description: "Fetch recent messages from a channel.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"channel": map[string]any{"type": "string"},
					"limit":   map[string]any{"type": "integer"},
				},
				"required": []string{"channel"},
			},
		},
		{
			Name:        NameSendDirectMessage,
			Description: "Send a direct message to another entity.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"recipient": map[string]any{"type": "string"},
					"message":   map[string]any{"type": "string"},
				},
				"required": []string{"recipient", "message"},
			},
		},
	}
}

// Result is the structured value every tool returns, marshaled to the
// generator's tool-result turn.
type Result struct {
	Success       bool   `json:"success"`
	Status        string `json:"status,omitempty"`
	Error         string `json:"error,omitempty"`
	ToolUsed      string `json:"tool_used"`
	Channel       string `json:"channel,omitempty"`
	MessagePreview string `json:"message_preview,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Dispatch runs the named tool call and returns its structured
// result. An unknown tool name is a programmer error in the caller's
// tool-descriptor wiring, reported as a failed Result rather than an
// error so the generator sees it as a tool-level failure.
func (t *Toolset) Dispatch(ctx context.Context, call llmgen.ToolCall) Result {
	switch call.Name {
	case NameSendChannelMessage:
		return t.sendChannelMessage(ctx, call.Arguments)
	case NameListenToChannel:
		return t.listenToChannel(call.Arguments)
	case NameGetChannelHistory:
		return t.getChannelHistory(ctx, call.Arguments)
	case NameSendDirectMessage:
		return t.sendDirectMessage(call.Arguments)
	default:
		return Result{ToolUsed: call.Name, Error: fmt.Sprintf("unknown tool %q", call.Name)}
	}
}

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func (t *Toolset) sendChannelMessage(ctx context.Context, args map[string]any) Result {
	channel := argString(args, "channel")
	message := argString(args, "message")
	preview := message
	if len(preview) > messagePreviewLen {
		preview = preview[:messagePreviewLen]
	}
	_, err := t.channels.SendMessage(ctx, channel, t.minionID, message, coremodel.MessageChat, nil, "")
	if err != nil {
		return Result{ToolUsed: NameSendChannelMessage, Channel: channel, Error: err.Error()}
	}
	return Result{Success: true, Status: "sent", ToolUsed: NameSendChannelMessage, Channel: channel, MessagePreview: preview}
}

func (t *Toolset) getChannelHistory(ctx context.Context, args map[string]any) Result {
	channel := argString(args, "channel")
	limit := 20
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	msgs, total, _, err := t.channels.GetMessages(ctx, channel, limit, 0)
	if err != nil {
		return Result{ToolUsed: NameGetChannelHistory, Channel: channel, Error: err.Error()}
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("%s: %s", m.SenderID, m.Content))
	}
	return Result{Success: true, ToolUsed: NameGetChannelHistory, Channel: channel, Extra: map[string]any{"messages": lines, "total": total}}
}

// listenToChannel and sendDirectMessage are stubs: full
// implementations (suspending the agent loop pending further channel
// activity, and a real direct-messaging path) are out of core scope
// per the spec's Agent Runtime section.
func (t *Toolset) listenToChannel(args map[string]any) Result {
	return Result{Success: false, Status: "not_implemented", ToolUsed: NameListenToChannel, Channel: argString(args, "channel")}
}

func (t *Toolset) sendDirectMessage(args map[string]any) Result {
	return Result{Success: false, Status: "not_implemented", ToolUsed: NameSendDirectMessage}
}
