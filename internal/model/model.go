// Package model defines the domain types shared across the service.
package model

// POI is a point of interest stored in the geo index and its hash record.
type POI struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Category string            `json:"category,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// POIResult is a POI enriched with its distance from a query point.
type POIResult struct {
	POI
	DistanceKM float64 `json:"distance_km"`
}

// NearbyQuery is a validated proximity query.
type NearbyQuery struct {
	Lat      float64
	Lon      float64
	RadiusKM float64
	Limit    int
	Category string
	Tag      string
}

// Weather is the current-weather document served by /weather. Stale is set
// only when the value came from the long-TTL fallback copy after an
// upstream failure.
type Weather struct {
	Temperature   float64 `json:"temperature"`
	WindSpeed     float64 `json:"windspeed"`
	WindDirection float64 `json:"winddirection"`
	WeatherCode   int     `json:"weathercode"`
	IsDay         int     `json:"is_day"`
	Time          string  `json:"time"`
	City          string  `json:"city"`
	Country       string  `json:"country,omitempty"`
	Stale         bool    `json:"stale,omitempty"`
}
