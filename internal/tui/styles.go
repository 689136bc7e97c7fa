package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#5A4FCF", Dark: "#A59BFF"}
	colorAccent  = lipgloss.AdaptiveColor{Light: "#0F7B6C", Dark: "#5FD7B5"}
	colorError   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#FF6B6B"}
	colorDim     = lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6C6C6C"}
	colorBorder  = lipgloss.AdaptiveColor{Light: "#D0D0D0", Dark: "#3A3A3A"}
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			Padding(0, 1)

	headerInfoStyle = lipgloss.NewStyle().Foreground(colorDim)

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	sessionStyle       = lipgloss.NewStyle().Foreground(colorDim)
	activeSessionStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)

	userLabelStyle      = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	assistantLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	errorLabelStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorError)
	timestampStyle      = lipgloss.NewStyle().Foreground(colorDim)
	userBubbleStyle     = lipgloss.NewStyle().PaddingLeft(2)
	errorBubbleStyle    = lipgloss.NewStyle().PaddingLeft(2).Foreground(colorError)

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder)

	statusStyle = lipgloss.NewStyle().Foreground(colorDim).Padding(0, 1)
	alertStyle  = lipgloss.NewStyle().Foreground(colorError).Bold(true).Padding(0, 1)
	typingStyle = lipgloss.NewStyle().Foreground(colorAccent).PaddingLeft(2)
)
