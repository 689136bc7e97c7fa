package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnichat/internal/models"
	"omnichat/internal/platform"
	"omnichat/internal/platform/memory"
)

func TestExchangeSuccessConcatenatesFragments(t *testing.T) {
	inf := memory.NewInference(memory.Reply{Fragments: []string{"Hel", "lo ", "there"}})
	e := NewEngine(inf)

	var seen []string
	res := e.Exchange(context.Background(), Request{
		Input:      "Hello",
		Model:      "gpt-4o",
		OnFragment: func(acc string) { seen = append(seen, acc) },
	})

	require.NoError(t, res.Err)
	msgs := res.Messages(nil)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello there", msgs[1].Content)
	assert.Equal(t, "gpt-4o", msgs[1].Model)
	assert.False(t, msgs[1].IsError)
	assert.Equal(t, []string{"Hel", "Hello ", "Hello there"}, seen)
}

func TestExchangeFailureAfterZeroFragments(t *testing.T) {
	inf := memory.NewInference(memory.Reply{StreamErr: errors.New("auth required")})
	res := NewEngine(inf).Exchange(context.Background(), Request{Input: "Hello", Model: "gpt-4o"})

	msgs := res.Messages(nil)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.True(t, msgs[1].IsError)
	assert.Equal(t, "Error: auth required", msgs[1].Content)
	assert.Empty(t, msgs[1].Model)
	assert.Error(t, res.Err)
}

func TestExchangeFailureMidStreamDiscardsPartialText(t *testing.T) {
	inf := memory.NewInference(memory.Reply{Fragments: []string{"partial"}, StreamErr: errors.New("reset")})
	res := NewEngine(inf).Exchange(context.Background(), Request{Input: "x"})
	assert.True(t, res.Reply.IsError)
	assert.Equal(t, "Error: reset", res.Reply.Content)
}

func TestExchangeChatCallFailure(t *testing.T) {
	inf := memory.NewInference(memory.Reply{ChatErr: errors.New("")})
	res := NewEngine(inf).Exchange(context.Background(), Request{Input: "x"})
	assert.Equal(t, "Error: Something went wrong. Please check your connection or sign in.", res.Reply.Content)
}

func TestExchangePayloadAndTools(t *testing.T) {
	inf := memory.NewInference(memory.Reply{Fragments: []string{"ok"}})
	history := []models.Message{
		{ID: "1", Role: models.RoleUser, Content: "first", Model: "m", Attachments: []string{"a.txt"}},
		{ID: "2", Role: models.RoleAssistant, Content: "answer"},
	}
	NewEngine(inf).Exchange(context.Background(), Request{History: history, Input: "second", Model: "deepseek-reasoner", WebSearch: true})

	calls := inf.Calls()
	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, []platform.ChatMessage{
		{Role: models.RoleSystem, Content: SystemInstruction},
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleAssistant, Content: "answer"},
		{Role: models.RoleUser, Content: "second"},
	}, call.Messages)
	assert.Equal(t, "deepseek-reasoner", call.Options.Model)
	assert.True(t, call.Options.Stream)
	assert.True(t, call.Options.HasTool(platform.ToolWebSearch))
	assert.Len(t, history, 2, "history must not be mutated")
}

func TestExchangeWithoutWebSearchHasNoTools(t *testing.T) {
	inf := memory.NewInference(memory.Reply{Fragments: []string{"ok"}})
	NewEngine(inf).Exchange(context.Background(), Request{Input: "hi"})
	assert.Empty(t, inf.Calls()[0].Options.Tools)
}
