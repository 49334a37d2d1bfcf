package tui

import (
	"github.com/kjstillabower/waterlogging-dashboard/internal/dashboard"
	"github.com/kjstillabower/waterlogging-dashboard/internal/geolocation"
	"github.com/kjstillabower/waterlogging-dashboard/internal/splash"
)

type phaseMsg struct {
	phase splash.Phase
}

type locationMsg struct {
	snapshot geolocation.Snapshot
}

type viewFetchedMsg struct {
	view dashboard.View
	err  error
}
