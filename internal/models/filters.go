package models

// ActiveSessionFilter represents query parameters for the time cursor
type ActiveSessionFilter struct {
	At int64 `form:"at"` // Unix timestamp, defaults to now
}

// MapViewFilter represents query parameters used when mounting a map view
type MapViewFilter struct {
	At     int64   `form:"at"`     // Unix timestamp, defaults to now
	Width  int     `form:"width"`  // Viewport width in pixels
	Height int     `form:"height"` // Viewport height in pixels
	Lat    float64 `form:"lat"`    // Initial centre
	Lng    float64 `form:"lng"`    // Initial centre
	Zoom   float64 `form:"zoom"`   // Initial zoom
}
