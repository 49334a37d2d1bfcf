package dashboard

import (
	"github.com/kjstillabower/waterlogging-dashboard/internal/geolocation"
	"github.com/kjstillabower/waterlogging-dashboard/internal/splash"
)

// PageState is what the dashboard page shows before, or instead of, the view.
type PageState string

const (
	PageSplash        PageState = "splash"
	PageLocationCheck PageState = "location-check"
	PageError         PageState = "error"
	PageNoPermission  PageState = "no-permission"
	PageRendering     PageState = "rendering"
)

// ResolvePage picks the dashboard page state. The splash wins until it is
// hidden, then the location outcome decides.
func ResolvePage(phase splash.Phase, loc geolocation.Snapshot) PageState {
	switch {
	case phase != splash.PhaseHidden:
		return PageSplash
	case loc.Loading:
		return PageLocationCheck
	case loc.Error != "":
		return PageError
	case loc.Coordinates == nil:
		return PageNoPermission
	default:
		return PageRendering
	}
}

// Prompt returns the alert shown for the error and no-permission states.
// Both offer the "Enable Location" retry action.
func Prompt(state PageState, loc geolocation.Snapshot) *Alert {
	switch state {
	case PageError:
		return &Alert{Title: "Location Error", Message: loc.Error}
	case PageNoPermission:
		return &Alert{Title: "Location Required", Message: "Please enable location access to see your local weather."}
	default:
		return nil
	}
}
