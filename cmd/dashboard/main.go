package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kjstillabower/waterlogging-dashboard/internal/geolocation"
	"github.com/kjstillabower/waterlogging-dashboard/internal/tui"
	"github.com/kjstillabower/waterlogging-dashboard/internal/validation"
)

func main() {
	serviceURL := flag.String("service", envOr("DASHBOARD_SERVICE_URL", "http://localhost:8080"), "Base URL of the dashboard service")
	locatorName := flag.String("locator", "ip", "Location source: ip, static or disabled")
	lat := flag.String("lat", "", "Latitude for -locator static")
	lon := flag.String("lon", "", "Longitude for -locator static")
	ipEndpoint := flag.String("ip-endpoint", "", "ip-api.com compatible endpoint for -locator ip")
	timeout := flag.Duration("timeout", 30*time.Second, "Per-request timeout")
	flag.Parse()

	locator, err := buildLocator(*locatorName, *lat, *lon, *ipEndpoint, *timeout)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	m := tui.NewModel(tui.Options{
		Tracker:        geolocation.NewTracker(locator),
		Pages:          tui.NewServiceClient(*serviceURL, *timeout),
		RequestTimeout: *timeout,
	})
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}

func buildLocator(name, lat, lon, ipEndpoint string, timeout time.Duration) (geolocation.Locator, error) {
	switch name {
	case "ip":
		return geolocation.NewIPLocator(ipEndpoint, timeout), nil
	case "static":
		c, err := validation.ValidateCoordinates(lat, lon)
		if err != nil {
			return nil, fmt.Errorf("-locator static needs valid -lat and -lon: %w", err)
		}
		return geolocation.StaticLocator{Coordinates: c}, nil
	case "disabled":
		return geolocation.DisabledLocator{}, nil
	default:
		return nil, fmt.Errorf("unknown locator %q", name)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
