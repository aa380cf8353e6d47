package tui

import "github.com/charmbracelet/lipgloss"

// Tokyonight palette
var (
	colorBg        = lipgloss.Color("#1a1b26")
	colorBorder    = lipgloss.Color("#414868")
	colorMuted     = lipgloss.Color("#565f89")
	colorSubtle    = lipgloss.Color("#787c99")
	colorText      = lipgloss.Color("#a9b1d6")
	colorPrimary   = lipgloss.Color("#7aa2f7")
	colorSuccess   = lipgloss.Color("#9ece6a")
	colorWarning   = lipgloss.Color("#e0af68")
	colorSecondary = lipgloss.Color("#bb9af7")
	colorAccent    = lipgloss.Color("#7dcfff")
	colorRose      = lipgloss.Color("#f7768e")
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

func box(padY, padX int) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Padding(padY, padX)
}

var (
	headerStyle  = box(0, 2)
	contentStyle = box(1, 2)

	titleStyle    = fg(colorPrimary).Bold(true)
	subtitleStyle = fg(colorAccent).Bold(true)
	labelStyle    = fg(colorMuted)
	valueStyle    = fg(colorText)
	dimStyle      = fg(colorMuted)

	successStyle = fg(colorSuccess).Bold(true)
	errorStyle   = fg(colorRose).Bold(true)
	warningStyle = fg(colorWarning)
	spinnerStyle = fg(colorPrimary)

	helpStyle    = fg(colorMuted)
	keyHelpStyle = fg(colorSubtle)

	statLabelStyle = fg(colorSubtle)
	statValueStyle = fg(colorAccent).Bold(true)

	encryptedBadge = lipgloss.NewStyle().
			Foreground(colorBg).
			Background(colorSecondary).
			Padding(0, 1).
			Bold(true)
)

var spinner = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
