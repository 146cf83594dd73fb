package models

import (
	"time"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// Session represents one visitor's recorded visit
type Session struct {
	ID        string   `json:"id" db:"id"`
	Latitude  *float64 `json:"latitude" db:"latitude"`   // nil when the visit could not be geolocated
	Longitude *float64 `json:"longitude" db:"longitude"` // nil when the visit could not be geolocated

	// Descriptive attributes, display only
	Device   string `json:"device,omitempty" db:"device"`
	Browser  string `json:"browser,omitempty" db:"browser"`
	OS       string `json:"os,omitempty" db:"os"`
	Country  string `json:"country,omitempty" db:"country"`
	Region   string `json:"region,omitempty" db:"region"`
	City     string `json:"city,omitempty" db:"city"`
	Referrer string `json:"referrer,omitempty" db:"referrer"`

	Pageviews int   `json:"pageviews" db:"pageviews"`
	Events    int   `json:"events" db:"events"`
	Duration  int64 `json:"duration" db:"duration"` // Seconds

	StartedAt      time.Time `json:"startedAt" db:"started_at"`
	LastActivityAt time.Time `json:"lastActivityAt" db:"last_activity_at"`
}

// Location returns the session coordinate as an orb point (lng, lat).
// ok is false when a coordinate is missing or out of range.
func (s Session) Location() (orb.Point, bool) {
	if s.Latitude == nil || s.Longitude == nil {
		return orb.Point{}, false
	}
	ll := s2.LatLngFromDegrees(*s.Latitude, *s.Longitude)
	if !ll.IsValid() {
		return orb.Point{}, false
	}
	return orb.Point{*s.Longitude, *s.Latitude}, true
}

// Located reports whether the session can be placed on the map
func (s Session) Located() bool {
	_, ok := s.Location()
	return ok
}

// SessionsByID indexes sessions by identifier. Later duplicates win.
func SessionsByID(sessions []Session) map[string]Session {
	byID := make(map[string]Session, len(sessions))
	for _, s := range sessions {
		byID[s.ID] = s
	}
	return byID
}

// ActiveSessionsResponse is returned by the active sessions endpoint
type ActiveSessionsResponse struct {
	At       int64     `json:"at"`
	Count    int       `json:"count"`
	Located  int       `json:"located"`
	Sessions []Session `json:"sessions"`
}

// SessionTimeRange is the span covered by stored sessions
type SessionTimeRange struct {
	Start int64 `json:"start"` // Unix timestamp
	End   int64 `json:"end"`   // Unix timestamp
	Total int64 `json:"total"`
}
