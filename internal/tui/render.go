package tui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"omnichat/internal/app"
	"omnichat/internal/models"
)

const (
	sidebarWidth = 28
	timeLayout   = "15:04"
)

// markdown renders assistant text and caches the output per width.
type markdown struct {
	style string

	mu       sync.Mutex
	width    int
	renderer *glamour.TermRenderer
	cache    map[string]string
}

func newMarkdown(style string) *markdown {
	return &markdown{style: style, cache: map[string]string{}}
}

func (m *markdown) render(text string, width int) string {
	if width < 20 {
		width = 20
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.renderer == nil || m.width != width {
		opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
		if m.style == "" || m.style == "auto" {
			opts = append(opts, glamour.WithAutoStyle())
		} else {
			opts = append(opts, glamour.WithStandardStyle(m.style))
		}
		r, err := glamour.NewTermRenderer(opts...)
		if err != nil {
			return text
		}
		m.renderer = r
		m.width = width
		m.cache = map[string]string{}
	}
	if out, ok := m.cache[text]; ok {
		return out
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	out = strings.TrimRight(out, "\n")
	m.cache[text] = out
	return out
}

func renderHeader(v app.View, width int) string {
	search := "off"
	if v.WebSearch {
		search = "on"
	}
	title := headerStyle.Render("OmniChat")
	info := headerInfoStyle.Render(fmt.Sprintf("model: %s · web search: %s", v.ModelName(), search))
	if v.User != nil {
		info += headerInfoStyle.Render(" · " + v.User.Username)
	}
	gap := width - lipgloss.Width(title) - lipgloss.Width(info)
	if gap < 1 {
		gap = 1
	}
	return title + strings.Repeat(" ", gap) + info
}

func renderSidebar(v app.View, height int) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Chats"))
	b.WriteString("\n")
	inner := sidebarWidth - 4
	for _, s := range v.Sessions {
		title := truncate(s.Title, inner-2)
		if s.ID == v.ActiveSessionID {
			b.WriteString(activeSessionStyle.Render("▸ " + title))
		} else {
			b.WriteString(sessionStyle.Render("  " + title))
		}
		b.WriteString("\n")
	}
	if height < 3 {
		height = 3
	}
	return sidebarStyle.Width(sidebarWidth - 2).Height(height - 2).Render(strings.TrimRight(b.String(), "\n"))
}

// renderConversation lays out the active session's messages and, while a
// reply is pending, the partial text.
func renderConversation(v app.View, md *markdown, width int, typing string) string {
	if v.ActiveSession == nil {
		return sessionStyle.Render("No chat selected. Press ctrl+n to start one.")
	}
	msgs := v.ActiveSession.Messages
	if len(msgs) == 0 && !v.Typing {
		return sessionStyle.Render("Ask anything. Press ctrl+u to attach a file.")
	}

	var parts []string
	for _, m := range msgs {
		parts = append(parts, renderMessage(m, md, width))
	}
	if v.Typing {
		if v.Streaming != "" {
			label := assistantLabelStyle.Render("Assistant")
			parts = append(parts, label+"\n"+md.render(v.Streaming, width-2))
		}
		parts = append(parts, typingStyle.Render(typing+" thinking..."))
	}
	return strings.Join(parts, "\n\n")
}

func renderMessage(m models.Message, md *markdown, width int) string {
	stamp := timestampStyle.Render(m.Time().Format(timeLayout))
	switch {
	case m.IsError:
		return errorLabelStyle.Render("Error") + " " + stamp + "\n" +
			errorBubbleStyle.Width(width-2).Render(m.Content)
	case m.Role == models.RoleUser:
		return userLabelStyle.Render("You") + " " + stamp + "\n" +
			userBubbleStyle.Width(width-2).Render(m.Content)
	default:
		head := assistantLabelStyle.Render("Assistant") + " " + stamp
		if m.Model != "" {
			head += " " + timestampStyle.Render("["+m.Model+"]")
		}
		return head + "\n" + md.render(m.Content, width-2)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
