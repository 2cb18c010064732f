package llmgen_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/minionfabric/internal/llmgen"
)

func TestFakeReturnsScriptedResponsesInOrder(t *testing.T) {
	f := &llmgen.Fake{
		Script: []llmgen.Response{
			{ToolCalls: []llmgen.ToolCall{{Name: "send_channel_message", Arguments: map[string]any{"channel": "general", "message": "hi"}}}},
			{Text: "done"},
		},
	}

	r1, err := f.Generate(context.Background(), llmgen.Request{})
	require.NoError(t, err)
	assert.False(t, r1.IsText())
	assert.Equal(t, "send_channel_message", r1.ToolCalls[0].Name)

	r2, err := f.Generate(context.Background(), llmgen.Request{})
	require.NoError(t, err)
	assert.True(t, r2.IsText())
	assert.Equal(t, "done", r2.Text)

	assert.Len(t, f.Requests, 2)
}

func TestFakeHonorsCancellation(t *testing.T) {
	f := &llmgen.Fake{Reply: llmgen.Response{Text: "unused"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Generate(ctx, llmgen.Request{})
	assert.Error(t, err)
}

func TestEchoGeneratorReturnsText(t *testing.T) {
	g := llmgen.EchoGenerator{}
	r, err := g.Generate(context.Background(), llmgen.Request{History: "u1: hello\nu2: hi there"})
	require.NoError(t, err)
	assert.True(t, r.IsText())
	assert.Contains(t, r.Text, "hi there")
}
