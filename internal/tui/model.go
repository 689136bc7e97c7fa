// Package tui is the interactive terminal shell over app.Controller.
package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"omnichat/internal/app"
	"omnichat/internal/attachment"
	"omnichat/internal/chat"
	"omnichat/internal/observability"
)

// Options tunes the shell. Style is a glamour style name; empty picks one
// from the terminal background.
type Options struct {
	Style    string
	ReadFile func(path string) ([]byte, error)
}

type sendDoneMsg struct {
	res chat.Result
	err error
}

type attachDoneMsg struct {
	name   string
	prompt string
	err    error
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctx  context.Context
	ctrl *app.Controller

	viewport  viewport.Model
	textarea  textarea.Model
	pathInput textinput.Model
	spinner   spinner.Model
	md        *markdown
	readFile  func(string) ([]byte, error)

	width     int
	height    int
	ready     bool
	attaching bool
	status    string
	alert     string
}

func New(ctx context.Context, ctrl *app.Controller, opts Options) Model {
	ta := textarea.New()
	ta.Placeholder = "Message OmniChat... (enter to send, alt+enter for newline)"
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline = keys.Newline
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.Focus()

	ti := textinput.New()
	ti.Placeholder = "path to file"
	ti.Prompt = "attach: "

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = typingStyle

	readFile := opts.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}

	return Model{
		ctx:       ctx,
		ctrl:      ctrl,
		textarea:  ta,
		pathInput: ti,
		spinner:   sp,
		md:        newMarkdown(opts.Style),
		readFile:  readFile,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if m.attaching {
			return m.updateAttach(msg)
		}
		if model, cmd, handled := m.handleKey(msg); handled {
			return model, cmd
		}
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		m.ctrl.SetInput(m.textarea.Value())
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.ctrl.Busy() {
			m.refresh()
		}
		return m, cmd

	case sendDoneMsg:
		m.status = ""
		switch {
		case msg.err != nil:
			m.alert = msg.err.Error()
		case msg.res.Err != nil:
			m.alert = msg.res.Reply.Content
		default:
			m.alert = ""
		}
		m.refresh()
		return m, nil

	case attachDoneMsg:
		m.status = ""
		if msg.err != nil {
			m.alert = attachAlert(msg.err)
		} else {
			m.alert = ""
			m.status = "attached " + msg.name
			m.textarea.SetValue(msg.prompt)
		}
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit, true

	case key.Matches(msg, keys.Send):
		cmd := m.send()
		return m, cmd, true

	case key.Matches(msg, keys.NewChat):
		m.ctrl.NewChat(m.ctx)
		m.alert = ""

	case key.Matches(msg, keys.DeleteChat):
		if id := m.ctrl.Snapshot().ActiveSessionID; id != "" {
			m.ctrl.DeleteChat(m.ctx, id)
		}

	case key.Matches(msg, keys.PrevChat):
		m.ctrl.CycleChat(-1)

	case key.Matches(msg, keys.NextChat):
		m.ctrl.CycleChat(1)

	case key.Matches(msg, keys.CycleModel):
		m.ctrl.CycleModel()

	case key.Matches(msg, keys.WebSearch):
		m.ctrl.ToggleWebSearch()

	case key.Matches(msg, keys.ToggleSidebar):
		m.ctrl.ToggleSidebar()
		m.resize()

	case key.Matches(msg, keys.Attach):
		if m.ctrl.Busy() {
			return m, nil, true
		}
		m.attaching = true
		m.textarea.Blur()
		m.pathInput.SetValue("")
		cmd := m.pathInput.Focus()
		return m, cmd, true

	default:
		return m, nil, false
	}
	m.refresh()
	return m, nil, true
}

func (m Model) updateAttach(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Cancel):
		m.leaveAttach()
		return m, nil
	case msg.Type == tea.KeyEnter:
		path := strings.TrimSpace(m.pathInput.Value())
		m.leaveAttach()
		if path == "" {
			return m, nil
		}
		m.status = "processing " + filepath.Base(path) + "..."
		return m, m.attach(path)
	}
	var cmd tea.Cmd
	m.pathInput, cmd = m.pathInput.Update(msg)
	return m, cmd
}

func (m *Model) leaveAttach() {
	m.attaching = false
	m.pathInput.Blur()
	m.textarea.Focus()
}

// send is a no-op while a reply is pending or the input is blank; the typed
// text stays in place in that case.
func (m *Model) send() tea.Cmd {
	text := m.textarea.Value()
	if strings.TrimSpace(text) == "" || m.ctrl.Pending() {
		return nil
	}
	m.textarea.Reset()
	m.alert = ""
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		res, err := ctrl.Send(ctx, text, nil)
		return sendDoneMsg{res: res, err: err}
	}
}

func (m *Model) attach(path string) tea.Cmd {
	ctx, ctrl, readFile := m.ctx, m.ctrl, m.readFile
	name := filepath.Base(path)
	return func() tea.Msg {
		data, err := readFile(path)
		if err != nil {
			observability.LoggerFromContext(ctx).Warn("read attachment failed", "path", path, "error", err)
			return attachDoneMsg{name: name, err: fmt.Errorf("%w: %w", attachment.ErrProcessFile, err)}
		}
		prompt, err := ctrl.Attach(ctx, attachment.File{Name: name, Data: data})
		return attachDoneMsg{name: name, prompt: prompt, err: err}
	}
}

func attachAlert(err error) string {
	if errors.Is(err, attachment.ErrProcessFile) {
		return attachment.AlertMessage
	}
	return err.Error()
}

func (m *Model) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}
	m.textarea.SetWidth(m.mainWidth() - 2)
	m.pathInput.Width = m.mainWidth() - 12

	// header, input with border, status line
	vh := m.height - 1 - (m.textarea.Height() + 2) - 1
	if vh < 1 {
		vh = 1
	}
	if !m.ready {
		m.viewport = viewport.New(m.mainWidth(), vh)
		m.ready = true
	} else {
		m.viewport.Width = m.mainWidth()
		m.viewport.Height = vh
	}
}

func (m Model) mainWidth() int {
	w := m.width
	if m.ctrl.Snapshot().SidebarOpen {
		w -= sidebarWidth
	}
	if w < 20 {
		w = 20
	}
	return w
}

// refresh re-renders the conversation and keeps the view pinned to the bottom.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	v := m.ctrl.Snapshot()
	m.viewport.SetContent(renderConversation(v, m.md, m.viewport.Width, m.spinner.View()))
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	v := m.ctrl.Snapshot()

	var input string
	if m.attaching {
		input = inputStyle.Width(m.mainWidth() - 2).Render(m.pathInput.View())
	} else {
		input = inputStyle.Render(m.textarea.View())
	}
	main := lipgloss.JoinVertical(lipgloss.Left, m.viewport.View(), input)
	body := main
	if v.SidebarOpen {
		body = lipgloss.JoinHorizontal(lipgloss.Top, renderSidebar(v, lipgloss.Height(main)), main)
	}
	return lipgloss.JoinVertical(lipgloss.Left, renderHeader(v, m.width), body, m.statusLine())
}

func (m Model) statusLine() string {
	if m.alert != "" {
		return alertStyle.Render(m.alert)
	}
	if m.status != "" {
		return statusStyle.Render(m.status)
	}
	var hints []string
	for _, b := range keys.hints() {
		h := b.Help()
		hints = append(hints, h.Key+" "+h.Desc)
	}
	return statusStyle.Render(strings.Join(hints, " · "))
}

// Run starts the full-screen program and blocks until the user quits.
func Run(ctx context.Context, ctrl *app.Controller, opts Options) error {
	p := tea.NewProgram(New(ctx, ctrl, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
