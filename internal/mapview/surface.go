package mapview

import (
	"context"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jengzang/sessionmap/internal/models"
	"github.com/jengzang/sessionmap/internal/spatial"
)

// EventType names a rendering surface notification
type EventType string

const (
	EventMove         EventType = "moveend"            // Pan or zoom settled
	EventSourceData   EventType = "sourcedata"         // Clustering source replaced
	EventClick        EventType = "click"              // Map background click
	EventPopupClose   EventType = "popup.close"        // Popup dismissed by the user
	EventClusterClick EventType = "cluster.click"      // Aggregated cluster clicked
	EventClusterEnter EventType = "cluster.mouseenter" // Pointer entered a cluster
	EventClusterLeave EventType = "cluster.mouseleave" // Pointer left a cluster
)

// Event is delivered to surface subscribers
type Event struct {
	Type      EventType
	LngLat    orb.Point
	ClusterID int
}

// Surface is a pannable, zoomable map that can host markers and one popup.
// Implementations are driven from a single goroutine and need no locking.
type Surface interface {
	Viewport() spatial.Viewport
	EaseTo(center orb.Point, zoom float64)
	SetCursor(cursor string)

	// On subscribes fn to an event type; calling dispose unsubscribes it
	On(event EventType, fn func(Event)) (dispose func())

	// SetSourceData replaces the clustering source's points
	SetSourceData(features []*geojson.Feature)
	ClearSourceData()
	// RenderedFeatures returns the clusters and points of the source that are
	// rendered in the current viewport
	RenderedFeatures() []*geojson.Feature

	AddMarker(sessionID string, at orb.Point) MarkerHandle
	Popup() Popup
}

// MarkerHandle is a marker placed on a surface
type MarkerHandle interface {
	SetLngLat(at orb.Point)
	OnClick(fn func()) (dispose func())
	Remove()
}

// Popup is the surface's single detail popup
type Popup interface {
	SetLngLat(at orb.Point)
	SetSession(s models.Session)
	Open()
	Close()
	IsOpen() bool
}

// ClusterIndex answers queries about the clusters of the loaded source
type ClusterIndex interface {
	Leaves(clusterID, limit, offset int) ([]*geojson.Feature, error)
	ExpansionZoom(clusterID int) (int, error)
}

// SessionFeed produces the sessions active at a point in time
type SessionFeed interface {
	ActiveSessions(ctx context.Context, at time.Time) ([]models.Session, error)
}

// DetailViewer receives a session selected for full inspection
type DetailViewer interface {
	ShowSession(s models.Session)
}

// PropSessionID carries the session identifier on unclustered features
const PropSessionID = "session_id"

// SessionFeature projects a located session into a point feature.
// ok is false for sessions without usable coordinates.
func SessionFeature(s models.Session) (*geojson.Feature, bool) {
	at, ok := s.Location()
	if !ok {
		return nil, false
	}
	f := geojson.NewFeature(at)
	f.ID = s.ID
	f.Properties[PropSessionID] = s.ID
	if s.City != "" {
		f.Properties["city"] = s.City
	}
	if s.Country != "" {
		f.Properties["country"] = s.Country
	}
	if s.Device != "" {
		f.Properties["device"] = s.Device
	}
	return f, true
}

// SessionFeatures projects every located session
func SessionFeatures(sessions []models.Session) []*geojson.Feature {
	features := make([]*geojson.Feature, 0, len(sessions))
	for _, s := range sessions {
		if f, ok := SessionFeature(s); ok {
			features = append(features, f)
		}
	}
	return features
}

// IsCluster reports whether f is an aggregated cluster feature
func IsCluster(f *geojson.Feature) bool {
	if f == nil {
		return false
	}
	b, _ := f.Properties[spatial.PropCluster].(bool)
	return b
}

// ClusterInfo returns the cluster id and point count of a cluster feature
func ClusterInfo(f *geojson.Feature) (id, count int, ok bool) {
	if !IsCluster(f) {
		return 0, 0, false
	}
	id, ok = intProp(f.Properties, spatial.PropClusterID)
	if !ok {
		return 0, 0, false
	}
	count, ok = intProp(f.Properties, spatial.PropPointCount)
	return id, count, ok
}

// FeatureSessionID returns the session id of an unclustered feature
func FeatureSessionID(f *geojson.Feature) (string, bool) {
	if f == nil || IsCluster(f) {
		return "", false
	}
	if id, ok := f.ID.(string); ok && id != "" {
		return id, true
	}
	if id, ok := f.Properties[PropSessionID].(string); ok && id != "" {
		return id, true
	}
	return "", false
}

func intProp(props geojson.Properties, key string) (int, bool) {
	switch v := props[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
