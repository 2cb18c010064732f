package container_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/minionfabric/internal/config"
	"github.com/nugget/minionfabric/internal/container"
	"github.com/nugget/minionfabric/internal/llmgen"
)

func TestContainerStartStopWithInMemoryStorage(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"

	c, err := container.New(cfg, nil, &llmgen.EchoGenerator{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	channels := c.Channels.ListChannels()
	assert.NotEmpty(t, channels, "default channels should be created on start")

	require.NoError(t, c.Stop(ctx))
}

func TestContainerMinionRespondsEndToEnd(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Minions = []config.MinionConfig{
		{ID: "aria", Name: "Aria", Channels: []string{"general"}},
	}

	fake := &llmgen.Fake{
		Script: []llmgen.Response{
			{ToolCalls: []llmgen.ToolCall{{Name: "send_channel_message", Arguments: map[string]any{"channel": "general", "message": "hi!"}}}},
			{Text: "done"},
		},
	}

	c, err := container.New(cfg, nil, fake)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	_, err = c.Channels.SendMessage(ctx, "general", "u1", "hello minions", "", nil, "")
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	var found bool
	for time.Now().Before(deadline) {
		msgs, _, _, err := c.Channels.GetMessages(ctx, "general", 0, 0)
		require.NoError(t, err)
		for _, m := range msgs {
			if m.SenderID == "aria" {
				found = true
				break
			}
		}
		if found {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, found, "aria should have replied via the wired agent runtime")
}
