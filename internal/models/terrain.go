package models

// TerrainRecord holds the static terrain attributes for one location.
type TerrainRecord struct {
	Drainage          float64 `json:"drainage"`
	Elevation         float64 `json:"elevation"`
	WaterTable        string  `json:"waterTable"`
	Urbanization      string  `json:"urbanization"`
	RunoffCoefficient float64 `json:"runoffCoefficient"`
}
