// Package mapview keeps the markers of a session map in sync with the sessions
// active under the time cursor, clustering them when there are too many.
package mapview

// Fixed clustering configuration
const (
	// ClusterThreshold is the session count above which clusters are rendered
	ClusterThreshold = 500
	// AggregationThreshold is the point count below which a cluster is shown
	// as its individual markers
	AggregationThreshold = 10
	// ClusterRadius is the clustering radius in pixels
	ClusterRadius = 50
	// ClusterMaxZoom is the highest zoom at which points are clustered
	ClusterMaxZoom = 14
)

// ShouldCluster reports whether sessionCount is large enough to render clusters
func ShouldCluster(sessionCount, threshold int) bool {
	return sessionCount > threshold
}
