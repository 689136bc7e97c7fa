package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Send          key.Binding
	Newline       key.Binding
	NewChat       key.Binding
	DeleteChat    key.Binding
	PrevChat      key.Binding
	NextChat      key.Binding
	CycleModel    key.Binding
	WebSearch     key.Binding
	Attach        key.Binding
	ToggleSidebar key.Binding
	Cancel        key.Binding
	Quit          key.Binding
}

// Terminals do not report shift+enter, so newlines use alt+enter or ctrl+j.
var keys = keyMap{
	Send:          key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
	Newline:       key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"), key.WithHelp("alt+enter", "newline")),
	NewChat:       key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "new chat")),
	DeleteChat:    key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "delete chat")),
	PrevChat:      key.NewBinding(key.WithKeys("ctrl+up"), key.WithHelp("ctrl+↑", "prev chat")),
	NextChat:      key.NewBinding(key.WithKeys("ctrl+down"), key.WithHelp("ctrl+↓", "next chat")),
	CycleModel:    key.NewBinding(key.WithKeys("ctrl+o"), key.WithHelp("ctrl+o", "model")),
	WebSearch:     key.NewBinding(key.WithKeys("ctrl+w"), key.WithHelp("ctrl+w", "web search")),
	Attach:        key.NewBinding(key.WithKeys("ctrl+u"), key.WithHelp("ctrl+u", "attach")),
	ToggleSidebar: key.NewBinding(key.WithKeys("ctrl+b"), key.WithHelp("ctrl+b", "sidebar")),
	Cancel:        key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	Quit:          key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}

func (k keyMap) hints() []key.Binding {
	return []key.Binding{k.Send, k.Newline, k.NewChat, k.CycleModel, k.WebSearch, k.Attach, k.ToggleSidebar, k.Quit}
}
