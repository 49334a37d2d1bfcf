package models

import (
	"fmt"
	"strconv"
)

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Key returns a stable cache key for the pair at 6 decimal places.
func (c Coordinates) Key() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

func (c Coordinates) String() string {
	return strconv.FormatFloat(c.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(c.Longitude, 'f', -1, 64)
}

// Place is a geocoded location.
type Place struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"displayName"`
	Country     string      `json:"country,omitempty"`
	Coordinates Coordinates `json:"coordinates"`
}
