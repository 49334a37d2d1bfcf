package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#00BFFF")
	colorRain    = lipgloss.Color("#4A90E2")
	colorDanger  = lipgloss.Color("#FF6B6B")
	colorWarning = lipgloss.Color("#FFD93D")
	colorSuccess = lipgloss.Color("#6BCF7F")
	colorMuted   = lipgloss.Color("#6C757D")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorRain).
			Padding(0, 2).
			MarginRight(1)

	alertStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDanger).
			Padding(1, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	bigValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF"))

	alertTitleStyle = lipgloss.NewStyle().
			Foreground(colorDanger).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	fadingStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Faint(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(1, 0)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorPrimary).
				Bold(true).
				Underline(true)
)

// riskStyle colours a chart bar by its waterlogging probability.
func riskStyle(v float64) lipgloss.Style {
	switch {
	case v >= 0.7:
		return lipgloss.NewStyle().Foreground(colorDanger)
	case v >= 0.4:
		return lipgloss.NewStyle().Foreground(colorWarning)
	default:
		return lipgloss.NewStyle().Foreground(colorSuccess)
	}
}
