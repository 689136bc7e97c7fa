package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnichat/internal/app"
	"omnichat/internal/attachment"
	"omnichat/internal/models"
	"omnichat/internal/platform"
	"omnichat/internal/platform/memory"
)

type harness struct {
	m    Model
	ctrl *app.Controller
	inf  *memory.Inference
}

func newHarness(t *testing.T, readFile func(string) ([]byte, error), replies ...memory.Reply) *harness {
	t.Helper()
	inf := memory.NewInference(replies...)
	ctrl, err := app.New(context.Background(), platform.Services{
		Identity:  memory.NewIdentity(models.User{Username: "ada", UID: "1"}, true),
		KV:        memory.NewKV(),
		Files:     memory.NewFiles(),
		Inference: inf,
	}, app.Options{})
	require.NoError(t, err)
	ctrl.Init(context.Background())

	h := &harness{m: New(context.Background(), ctrl, Options{Style: "notty", ReadFile: readFile}), ctrl: ctrl, inf: inf}
	h.update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return h
}

// update feeds msg to the model and returns the command it produced.
func (h *harness) update(msg tea.Msg) tea.Cmd {
	model, cmd := h.m.Update(msg)
	h.m = model.(Model)
	return cmd
}

func (h *harness) typeText(s string) {
	h.update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

func (h *harness) messages() []models.Message {
	return h.ctrl.Snapshot().ActiveSession.Messages
}

func TestEnterSendsAndClearsInput(t *testing.T) {
	h := newHarness(t, nil, memory.Reply{Fragments: []string{"Hi ", "Ada"}})

	h.typeText("hello there")
	assert.Equal(t, "hello there", h.ctrl.Snapshot().Input)

	cmd := h.update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Empty(t, h.m.textarea.Value())

	h.update(cmd())
	msgs := h.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.Equal(t, "Hi Ada", msgs[1].Content)
	assert.Contains(t, h.m.View(), "Hi Ada")
}

func TestEnterIgnoresBlankInput(t *testing.T) {
	h := newHarness(t, nil)
	h.typeText("   ")
	assert.Nil(t, h.update(tea.KeyMsg{Type: tea.KeyEnter}))
	assert.Empty(t, h.messages())
}

func TestAltEnterInsertsNewline(t *testing.T) {
	h := newHarness(t, nil)
	h.typeText("line one")
	h.update(tea.KeyMsg{Type: tea.KeyEnter, Alt: true})
	h.typeText("line two")
	assert.Equal(t, "line one\nline two", h.m.textarea.Value())
	assert.Empty(t, h.messages())
}

func TestEnterIgnoredWhileReplyPending(t *testing.T) {
	h := newHarness(t, nil, memory.Reply{Fragments: []string{"slow"}})
	gate := make(chan struct{})
	h.inf.Gate = gate

	h.typeText("first")
	cmd := h.update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()
	require.Eventually(t, h.ctrl.Pending, time.Second, 5*time.Millisecond)

	h.typeText("second")
	assert.Nil(t, h.update(tea.KeyMsg{Type: tea.KeyEnter}))
	assert.Equal(t, "second", h.m.textarea.Value())
	h.update(h.m.spinner.Tick())
	assert.Contains(t, h.m.View(), "thinking")

	close(gate)
	h.update(<-done)
	assert.Len(t, h.messages(), 2)
	assert.Len(t, h.inf.Calls(), 1)
}

func TestFailedReplyShowsAlert(t *testing.T) {
	h := newHarness(t, nil, memory.Reply{ChatErr: errors.New("quota exceeded")})
	h.typeText("hi")
	cmd := h.update(tea.KeyMsg{Type: tea.KeyEnter})
	h.update(cmd())

	msgs := h.messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsError)
	assert.Equal(t, "Error: quota exceeded", h.m.alert)
}

func TestChatNavigationKeys(t *testing.T) {
	h := newHarness(t, nil)
	first := h.ctrl.Snapshot().ActiveSessionID

	h.update(tea.KeyMsg{Type: tea.KeyCtrlN})
	v := h.ctrl.Snapshot()
	require.Len(t, v.Sessions, 2)
	second := v.ActiveSessionID
	assert.NotEqual(t, first, second)

	h.update(tea.KeyMsg{Type: tea.KeyCtrlDown})
	assert.NotEqual(t, second, h.ctrl.Snapshot().ActiveSessionID)
	h.update(tea.KeyMsg{Type: tea.KeyCtrlUp})
	assert.Equal(t, second, h.ctrl.Snapshot().ActiveSessionID)

	h.update(tea.KeyMsg{Type: tea.KeyCtrlD})
	v = h.ctrl.Snapshot()
	require.Len(t, v.Sessions, 1)
	assert.NotEqual(t, second, v.ActiveSessionID)
}

func TestSettingKeys(t *testing.T) {
	h := newHarness(t, nil)
	before := h.ctrl.Snapshot()

	h.update(tea.KeyMsg{Type: tea.KeyCtrlO})
	h.update(tea.KeyMsg{Type: tea.KeyCtrlW})
	h.update(tea.KeyMsg{Type: tea.KeyCtrlB})

	after := h.ctrl.Snapshot()
	assert.NotEqual(t, before.SelectedModel, after.SelectedModel)
	assert.True(t, after.WebSearch)
	assert.False(t, after.SidebarOpen)
	assert.Contains(t, h.m.View(), "web search: on")
	assert.NotContains(t, h.m.View(), "Chats")
}

func TestAttachSeedsInput(t *testing.T) {
	read := func(path string) ([]byte, error) {
		assert.Equal(t, "/tmp/notes.txt", path)
		return []byte("meeting at noon"), nil
	}
	h := newHarness(t, read)

	h.update(tea.KeyMsg{Type: tea.KeyCtrlU})
	require.True(t, h.m.attaching)
	h.typeText("/tmp/notes.txt")
	cmd := h.update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.False(t, h.m.attaching)

	h.update(cmd())
	value := h.m.textarea.Value()
	assert.Contains(t, value, "notes.txt")
	assert.Contains(t, value, "meeting at noon")
	assert.Empty(t, h.m.alert)
	assert.Equal(t, value, h.ctrl.Snapshot().Input)
}

func TestAttachFailureShowsAlert(t *testing.T) {
	read := func(string) ([]byte, error) {
		return nil, errors.New("permission denied")
	}
	h := newHarness(t, read)

	h.update(tea.KeyMsg{Type: tea.KeyCtrlU})
	h.typeText("secret.pdf")
	cmd := h.update(tea.KeyMsg{Type: tea.KeyEnter})
	h.update(cmd())

	assert.Equal(t, attachment.AlertMessage, h.m.alert)
	assert.Contains(t, h.m.View(), attachment.AlertMessage)
	assert.Empty(t, h.m.textarea.Value())
}

func TestAttachEscCancels(t *testing.T) {
	h := newHarness(t, nil)
	h.update(tea.KeyMsg{Type: tea.KeyCtrlU})
	h.typeText("x")
	assert.Nil(t, h.update(tea.KeyMsg{Type: tea.KeyEsc}))
	assert.False(t, h.m.attaching)
	assert.True(t, h.m.textarea.Focused())
}

func TestRenderMessageStyles(t *testing.T) {
	md := newMarkdown("notty")
	ts := time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local).UnixMilli()

	user := renderMessage(models.Message{Role: models.RoleUser, Content: "question", Timestamp: ts}, md, 80)
	assert.Contains(t, user, "You")
	assert.Contains(t, user, "09:30")

	reply := renderMessage(models.Message{Role: models.RoleAssistant, Content: "**bold** answer", Model: "gpt-4o", Timestamp: ts}, md, 80)
	assert.Contains(t, reply, "[gpt-4o]")
	assert.Contains(t, reply, "answer")

	failed := renderMessage(models.Message{Role: models.RoleAssistant, Content: "Error: boom", IsError: true, Timestamp: ts}, md, 80)
	assert.True(t, strings.HasPrefix(failed, errorLabelStyle.Render("Error")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
