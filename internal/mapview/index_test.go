package mapview

import (
	"context"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionIDs(features []*geojson.Feature) []string {
	ids := make([]string, 0, len(features))
	for _, f := range features {
		if id, ok := FeatureSessionID(f); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func TestSpatialIndex_IngestAndClear(t *testing.T) {
	surface := newFakeSurface()
	idx := NewSpatialIndex(surface, surface.source, AggregationThreshold)

	idx.Clear()
	assert.Equal(t, 0, surface.clears, "clearing an empty source is a no-op")

	n := idx.Ingest(append(crowd("a", 3, 10, 10), unlocated("u")))
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, surface.loads)
	assert.Equal(t, 3, surface.source.Len())

	idx.Clear()
	idx.Clear()
	assert.Equal(t, 1, surface.clears)
	assert.Equal(t, 0, surface.source.Len())
}

func TestSpatialIndex_Partition(t *testing.T) {
	idx := NewSpatialIndex(newFakeSurface(), nil, 10)
	point := features(located("p", 1, 1))[0]

	rendered := []*geojson.Feature{
		point,
		clusterFeature(101, 3),
		clusterFeature(102, 9),
		clusterFeature(103, 10),
		clusterFeature(104, 250),
		clusterFeature(101, 3),
	}

	direct, expand := idx.Partition(rendered)

	assert.Equal(t, []*geojson.Feature{point}, direct)
	assert.Equal(t, []int{101, 102}, expand)
}

func TestSpatialIndex_ExpandSkipsFailedClusters(t *testing.T) {
	surface := newFakeSurface()
	index := newFlakyIndex(surface.source)
	idx := NewSpatialIndex(surface, index, AggregationThreshold)

	idx.Ingest(append(crowd("a", 3, 10, 10), crowd("b", 4, -100, -30)...))
	a := surface.clusterWithCount(t, 1, 3)
	b := surface.clusterWithCount(t, 1, 4)
	index.fail[b] = true

	failuresBefore := testutil.ToFloat64(leafFetchFailures)
	leaves, err := idx.Expand(context.Background(), []int{a, b}).Await(context.Background())

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"aa", "ab", "ac"}, sessionIDs(leaves))
	assert.Equal(t, failuresBefore+1, testutil.ToFloat64(leafFetchFailures))
}

func TestSpatialIndex_ExpandNothing(t *testing.T) {
	idx := NewSpatialIndex(newFakeSurface(), nil, AggregationThreshold)

	f := idx.Expand(context.Background(), nil)
	select {
	case <-f.Done():
	default:
		t.Fatal("expanding no clusters should resolve immediately")
	}
	leaves, err := f.Await(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, leaves)
}

func TestSpatialIndex_ExpandCancelled(t *testing.T) {
	surface := newFakeSurface()
	idx := NewSpatialIndex(surface, surface.source, AggregationThreshold)
	idx.Ingest(crowd("a", 3, 10, 10))
	a := surface.clusterWithCount(t, 1, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.Expand(ctx, []int{a}).Await(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSpatialIndex_ExpansionZoom(t *testing.T) {
	surface := newFakeSurface()
	idx := NewSpatialIndex(surface, surface.source, AggregationThreshold)
	idx.Ingest(crowd("a", 3, 10, 10))
	a := surface.clusterWithCount(t, 1, 3)

	want, err := surface.source.ExpansionZoom(a)
	require.NoError(t, err)

	got, err := idx.ExpansionZoom(context.Background(), a).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = idx.ExpansionZoom(context.Background(), 1<<20).Await(context.Background())
	assert.Error(t, err)
}

func TestFuture_AwaitRespectsContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	f := Async(func() (int, error) {
		<-block
		return 1, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
