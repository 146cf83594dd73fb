package mapview

import (
	"context"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/jengzang/sessionmap/internal/models"
)

// maxLeafFetches bounds concurrent leaf queries issued by one pass
const maxLeafFetches = 16

// SpatialIndex feeds sessions into the surface's clustering source and
// resolves which features a reconciliation pass should consider visible
type SpatialIndex struct {
	surface   Surface
	index     ClusterIndex
	threshold int
	loaded    bool
}

// NewSpatialIndex creates a facade over surface's source and its cluster index
func NewSpatialIndex(surface Surface, index ClusterIndex, aggregationThreshold int) *SpatialIndex {
	if aggregationThreshold <= 0 {
		aggregationThreshold = AggregationThreshold
	}
	return &SpatialIndex{
		surface:   surface,
		index:     index,
		threshold: aggregationThreshold,
	}
}

// Ingest replaces the source with one point per located session
func (s *SpatialIndex) Ingest(sessions []models.Session) int {
	features := SessionFeatures(sessions)
	s.loaded = true
	s.surface.SetSourceData(features)
	return len(features)
}

// Clear empties the source if it holds data
func (s *SpatialIndex) Clear() {
	if !s.loaded {
		return
	}
	s.loaded = false
	s.surface.ClearSourceData()
}

// Partition splits rendered features into those that are visible as-is and the
// ids of clusters too small to stay aggregated. Large clusters are dropped:
// the surface draws them itself.
func (s *SpatialIndex) Partition(rendered []*geojson.Feature) (direct []*geojson.Feature, expand []int) {
	seen := make(map[int]bool)
	for _, f := range rendered {
		if !IsCluster(f) {
			direct = append(direct, f)
			continue
		}
		id, count, ok := ClusterInfo(f)
		if !ok || count >= s.threshold || seen[id] {
			continue
		}
		seen[id] = true
		expand = append(expand, id)
	}
	return direct, expand
}

// Expand fetches all leaves of the given clusters concurrently. The future
// resolves once every fetch has finished; failed fetches contribute nothing.
func (s *SpatialIndex) Expand(ctx context.Context, clusterIDs []int) *Future[[]*geojson.Feature] {
	if len(clusterIDs) == 0 {
		return Resolved[[]*geojson.Feature](nil, nil)
	}

	return Async(func() ([]*geojson.Feature, error) {
		results := make([][]*geojson.Feature, len(clusterIDs))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxLeafFetches)
		for i, id := range clusterIDs {
			i, id := i, id
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				leaves, err := s.index.Leaves(id, 0, 0)
				if err != nil {
					leafFetchFailures.Inc()
					Logf("[SpatialIndex] skipping cluster %d: %v", id, err)
					return nil
				}
				results[i] = leaves
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var leaves []*geojson.Feature
		for _, r := range results {
			leaves = append(leaves, r...)
		}
		return leaves, nil
	})
}

// ExpansionZoom resolves the zoom at which a cluster breaks apart
func (s *SpatialIndex) ExpansionZoom(ctx context.Context, clusterID int) *Future[int] {
	return Async(func() (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		zoom, err := s.index.ExpansionZoom(clusterID)
		if err != nil {
			Logf("[SpatialIndex] no expansion zoom for cluster %d: %v", clusterID, err)
			return 0, err
		}
		return zoom, nil
	})
}
