package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kjstillabower/waterlogging-dashboard/internal/dashboard"
)

const barWidth = 30

// renderView lays out a dashboard view as terminal cards.
func renderView(v dashboard.View) string {
	var sections []string
	sections = append(sections, titleStyle.Render(v.Title), "")
	if v.Alert != nil {
		sections = append(sections, renderAlert(*v.Alert), "")
	}
	sections = append(sections,
		lipgloss.JoinHorizontal(lipgloss.Top, renderCurrent(v.Current), renderDetails(v.Details)),
		"",
		renderChart(v.Chart),
		"",
		renderForecast(v),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderAlert(a dashboard.Alert) string {
	return alertStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		alertTitleStyle.Render(a.Title),
		valueStyle.Render(a.Message),
	))
}

func renderCurrent(c dashboard.CurrentCard) string {
	lines := []string{sectionHeaderStyle.Render(c.Location)}
	if c.Placeholder != "" {
		lines = append(lines, mutedStyle.Render(c.Placeholder))
		return cardStyle.Render(strings.Join(lines, "\n"))
	}
	lines = append(lines,
		bigValueStyle.Render(c.Temperature),
		valueStyle.Render(c.Description),
		field("Feels like", c.FeelsLike),
		field("Humidity", c.Humidity),
		field("Wind", c.Wind),
	)
	return cardStyle.Render(strings.Join(lines, "\n"))
}

func renderDetails(details []dashboard.Detail) string {
	lines := []string{sectionHeaderStyle.Render("Details")}
	for _, d := range details {
		lines = append(lines, field(d.Title, d.Value))
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

func renderChart(c dashboard.Chart) string {
	lines := []string{sectionHeaderStyle.Render("Waterlogging Risk")}
	if c.Placeholder != "" {
		lines = append(lines, mutedStyle.Render(c.Placeholder))
	}
	for _, b := range c.Bars {
		if b.Value == nil {
			lines = append(lines, fmt.Sprintf("%-6s %s", b.Label, mutedStyle.Render(b.Text)))
			continue
		}
		frac := b.Percent / 100
		n := int(frac*barWidth + 0.5)
		if n > barWidth {
			n = barWidth
		} else if n < 0 {
			n = 0
		}
		bar := riskStyle(frac).Render(strings.Repeat("█", n)) + mutedStyle.Render(strings.Repeat("░", barWidth-n))
		lines = append(lines, fmt.Sprintf("%-6s %s %s", b.Label, bar, b.Text))
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

func renderForecast(v dashboard.View) string {
	lines := []string{sectionHeaderStyle.Render("Forecast")}
	if len(v.Forecast) == 0 {
		placeholder := v.ForecastPlaceholder
		if placeholder == "" {
			placeholder = dashboard.TextNoForecast
		}
		lines = append(lines, mutedStyle.Render(placeholder))
		return cardStyle.Render(strings.Join(lines, "\n"))
	}
	for _, f := range v.Forecast {
		lines = append(lines, fmt.Sprintf("%s  %s  %s / %s  %s  %s",
			labelStyle.Render(f.Date),
			valueStyle.Render(f.Description),
			f.High, f.Low, f.Precipitation, f.Chance))
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

func field(label, value string) string {
	return labelStyle.Render(label+":") + " " + valueStyle.Render(value)
}
