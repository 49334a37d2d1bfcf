// Package tui is the terminal front end for the waterlogging dashboard.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/waterlogging-dashboard/internal/dashboard"
	"github.com/kjstillabower/waterlogging-dashboard/internal/geolocation"
	"github.com/kjstillabower/waterlogging-dashboard/internal/splash"
)

const defaultRequestTimeout = 30 * time.Second

// Options configures a Model.
type Options struct {
	Tracker *geolocation.Tracker
	Pages   PageFetcher
	// Clock drives the splash timer. Nil uses the real clock.
	Clock          clockwork.Clock
	ShowFor        time.Duration
	FadeFor        time.Duration
	RequestTimeout time.Duration
}

// Model is the bubbletea model for the dashboard page.
type Model struct {
	tracker *geolocation.Tracker
	pages   PageFetcher
	timeout time.Duration

	screen *splash.Screen
	phases chan splash.Phase
	phase  splash.Phase

	location    geolocation.Snapshot
	spinner     spinner.Model
	view        *dashboard.View
	fetchErr    error
	loadingView bool

	width  int
	height int
}

// NewModel starts the splash timer and returns a model that locates the
// user once Init runs.
func NewModel(opts Options) Model {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorPrimary)

	// Two transitions at most: splash -> fading -> hidden.
	phases := make(chan splash.Phase, 2)
	screen := splash.Start(splash.Options{
		Clock:   opts.Clock,
		ShowFor: opts.ShowFor,
		FadeFor: opts.FadeFor,
		OnPhase: func(p splash.Phase) { phases <- p },
	})

	return Model{
		tracker:  opts.Tracker,
		pages:    opts.Pages,
		timeout:  opts.RequestTimeout,
		screen:   screen,
		phases:   phases,
		phase:    splash.PhaseSplash,
		location: geolocation.Snapshot{Loading: true},
		spinner:  s,
	}
}

// Init starts the spinner, the splash listener and the first locate call.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForPhase(m.phases),
		locate(m.tracker, m.timeout),
	)
}

// Page reports which dashboard page state is showing.
func (m Model) Page() dashboard.PageState {
	return dashboard.ResolvePage(m.phase, m.location)
}

// Update handles messages and key presses.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case phaseMsg:
		m.phase = msg.phase
		if m.phase == splash.PhaseHidden {
			return m, nil
		}
		return m, waitForPhase(m.phases)

	case locationMsg:
		m.location = msg.snapshot
		if m.location.Coordinates == nil {
			return m, nil
		}
		m.loadingView = true
		m.fetchErr = nil
		return m, fetchView(m.pages, m.location, m.timeout)

	case viewFetchedMsg:
		m.loadingView = false
		if msg.err != nil {
			m.fetchErr = msg.err
			return m, nil
		}
		v := msg.view
		m.view = &v
		m.fetchErr = nil
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.screen.Stop()
		return m, tea.Quit
	case "r":
		switch m.Page() {
		case dashboard.PageError, dashboard.PageNoPermission:
			m.location = geolocation.Snapshot{Loading: true}
			return m, locate(m.tracker, m.timeout)
		case dashboard.PageRendering:
			if m.loadingView {
				return m, nil
			}
			m.loadingView = true
			m.fetchErr = nil
			return m, fetchView(m.pages, m.location, m.timeout)
		}
	}
	return m, nil
}

// View renders the current page state.
func (m Model) View() string {
	var body string
	switch m.Page() {
	case dashboard.PageSplash:
		body = m.viewSplash()
	case dashboard.PageLocationCheck:
		body = fmt.Sprintf("%s %s", m.spinner.View(), mutedStyle.Render("Getting your location..."))
	case dashboard.PageError, dashboard.PageNoPermission:
		alert := dashboard.Prompt(m.Page(), m.location)
		body = lipgloss.JoinVertical(lipgloss.Left,
			renderAlert(*alert),
			helpStyle.Render("Press r to Enable Location"),
		)
	case dashboard.PageRendering:
		body = m.viewDashboard()
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, helpStyle.Render("r: refresh • q: quit"))
}

func (m Model) viewSplash() string {
	style := titleStyle
	if m.phase == splash.PhaseFading {
		style = fadingStyle
	}
	return lipgloss.JoinVertical(lipgloss.Center,
		"",
		style.Render("Waterlogging Dashboard"),
		"",
		mutedStyle.Render("Rain, runoff and drainage at a glance"),
	)
}

func (m Model) viewDashboard() string {
	switch {
	case m.view != nil:
		return renderView(*m.view)
	case m.fetchErr != nil:
		return renderAlert(dashboard.Alert{Title: "Dashboard Error", Message: m.fetchErr.Error()})
	default:
		return fmt.Sprintf("%s %s", m.spinner.View(), mutedStyle.Render("Loading dashboard..."))
	}
}

func waitForPhase(phases <-chan splash.Phase) tea.Cmd {
	return func() tea.Msg {
		return phaseMsg{phase: <-phases}
	}
}

func locate(tracker *geolocation.Tracker, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return locationMsg{snapshot: tracker.GetLocation(ctx)}
	}
}

func fetchView(pages PageFetcher, loc geolocation.Snapshot, timeout time.Duration) tea.Cmd {
	c := *loc.Coordinates
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		v, err := pages.Dashboard(ctx, c)
		return viewFetchedMsg{view: v, err: err}
	}
}
