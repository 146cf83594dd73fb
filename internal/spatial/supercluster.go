package spatial

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrNoCluster is returned when a cluster id does not resolve against the loaded data
var ErrNoCluster = errors.New("no cluster with the specified id")

// Property keys set on cluster features
const (
	PropCluster         = "cluster"
	PropClusterID       = "cluster_id"
	PropPointCount      = "point_count"
	PropPointCountLabel = "point_count_abbreviated"
)

const unprocessed = math.MaxInt

// SuperclusterOptions controls the clustering hierarchy
type SuperclusterOptions struct {
	MinZoom   int     // Minimum zoom level at which clusters are generated
	MaxZoom   int     // Maximum zoom level at which clusters are generated
	MinPoints int     // Minimum points to form a cluster
	Radius    float64 // Cluster radius in pixels
	Extent    int     // Tile extent the radius is relative to
}

// node is one entry of a zoom level: either an input point or a cluster
type node struct {
	x, y      float64 // Projected [0, 1]
	zoom      int     // Last zoom the node was processed at
	index     int     // Index into points for leaves, -1 for clusters
	id        int     // Cluster id, -1 for leaves
	parentID  int     // Cluster that absorbed this node, -1 if none
	numPoints int
}

func (n node) isCluster() bool {
	return n.numPoints > 1 && n.id >= 0
}

// level holds the nodes of one zoom with a uniform grid for radius lookups
type level struct {
	nodes []node
	cell  float64
	grid  map[[2]int][]int
}

func newLevel(nodes []node, cell float64) *level {
	lv := &level{
		nodes: nodes,
		cell:  cell,
		grid:  make(map[[2]int][]int),
	}
	for i, n := range nodes {
		key := lv.key(n.x, n.y)
		lv.grid[key] = append(lv.grid[key], i)
	}
	return lv
}

func (lv *level) key(x, y float64) [2]int {
	return [2]int{int(math.Floor(x / lv.cell)), int(math.Floor(y / lv.cell))}
}

// within returns indexes of nodes within r of (x, y)
func (lv *level) within(x, y, r float64) []int {
	lo := lv.key(x-r, y-r)
	hi := lv.key(x+r, y+r)
	r2 := r * r

	var result []int
	for cx := lo[0]; cx <= hi[0]; cx++ {
		for cy := lo[1]; cy <= hi[1]; cy++ {
			for _, i := range lv.grid[[2]int{cx, cy}] {
				dx := lv.nodes[i].x - x
				dy := lv.nodes[i].y - y
				if dx*dx+dy*dy <= r2 {
					result = append(result, i)
				}
			}
		}
	}
	return result
}

// rangeQuery returns indexes of nodes inside the projected rectangle
func (lv *level) rangeQuery(minX, minY, maxX, maxY float64) []int {
	var result []int
	for i, n := range lv.nodes {
		if n.x >= minX && n.x <= maxX && n.y >= minY && n.y <= maxY {
			result = append(result, i)
		}
	}
	return result
}

// Supercluster is a hierarchical point clustering index
type Supercluster struct {
	mu      sync.RWMutex
	options SuperclusterOptions
	points  []*geojson.Feature
	levels  []*level // Indexed by zoom, MaxZoom+1 holds the raw points
}

// NewSupercluster creates a new clustering index with the given options.
// Zero values are replaced with defaults.
func NewSupercluster(options SuperclusterOptions) *Supercluster {
	if options.MinZoom < 0 {
		options.MinZoom = 0
	}
	if options.MaxZoom <= 0 {
		options.MaxZoom = 16
	}
	if options.MaxZoom > 24 {
		options.MaxZoom = 24
	}
	if options.MinZoom > options.MaxZoom {
		options.MinZoom = options.MaxZoom
	}
	if options.MinPoints <= 0 {
		options.MinPoints = 2
	}
	if options.Radius <= 0 {
		options.Radius = 40
	}
	if options.Extent <= 0 {
		options.Extent = 512
	}

	return &Supercluster{options: options}
}

// Options returns the effective options
func (sc *Supercluster) Options() SuperclusterOptions {
	return sc.options
}

func (sc *Supercluster) radius(zoom int) float64 {
	return sc.options.Radius / (float64(sc.options.Extent) * math.Pow(2, float64(zoom)))
}

// Load replaces the indexed data. Features without a point geometry are ignored.
func (sc *Supercluster) Load(features []*geojson.Feature) {
	points := make([]*geojson.Feature, 0, len(features))
	for _, f := range features {
		if f == nil {
			continue
		}
		if _, ok := f.Geometry.(orb.Point); ok {
			points = append(points, f)
		}
	}

	leaves := make([]node, len(points))
	for i, f := range points {
		p := f.Geometry.(orb.Point)
		leaves[i] = node{
			x:         LngX(p.Lon()),
			y:         LatY(p.Lat()),
			zoom:      unprocessed,
			index:     i,
			id:        -1,
			parentID:  -1,
			numPoints: 1,
		}
	}

	levels := make([]*level, sc.options.MaxZoom+2)
	levels[sc.options.MaxZoom+1] = newLevel(leaves, sc.radius(sc.options.MaxZoom))

	for z := sc.options.MaxZoom; z >= sc.options.MinZoom; z-- {
		nodes := sc.cluster(levels[z+1], z, len(points))
		levels[z] = newLevel(nodes, sc.radius(z-1))
	}

	sc.mu.Lock()
	sc.points = points
	sc.levels = levels
	sc.mu.Unlock()
}

// cluster builds the nodes of zoom from the level above it
func (sc *Supercluster) cluster(lv *level, zoom, numLeaves int) []node {
	r := sc.radius(zoom)
	nodes := lv.nodes
	next := make([]node, 0, len(nodes))

	for i := range nodes {
		p := &nodes[i]
		if p.zoom <= zoom {
			continue
		}
		p.zoom = zoom

		neighbors := lv.within(p.x, p.y, r)

		numOrigin := p.numPoints
		numPoints := numOrigin
		for _, j := range neighbors {
			if nodes[j].zoom > zoom {
				numPoints += nodes[j].numPoints
			}
		}

		if numPoints > numOrigin && numPoints >= sc.options.MinPoints {
			wx := p.x * float64(numOrigin)
			wy := p.y * float64(numOrigin)
			id := (i << 5) + (zoom + 1) + numLeaves

			for _, j := range neighbors {
				b := &nodes[j]
				if b.zoom <= zoom {
					continue
				}
				b.zoom = zoom
				wx += b.x * float64(b.numPoints)
				wy += b.y * float64(b.numPoints)
				b.parentID = id
			}
			p.parentID = id

			next = append(next, node{
				x:         wx / float64(numPoints),
				y:         wy / float64(numPoints),
				zoom:      unprocessed,
				index:     -1,
				id:        id,
				parentID:  -1,
				numPoints: numPoints,
			})
			continue
		}

		next = append(next, copyNode(*p))
		if numPoints > 1 {
			for _, j := range neighbors {
				b := &nodes[j]
				if b.zoom <= zoom {
					continue
				}
				b.zoom = zoom
				next = append(next, copyNode(*b))
			}
		}
	}

	return next
}

func copyNode(n node) node {
	n.parentID = -1
	return n
}

func (sc *Supercluster) limitZoom(zoom int) int {
	if zoom < sc.options.MinZoom {
		return sc.options.MinZoom
	}
	if zoom > sc.options.MaxZoom+1 {
		return sc.options.MaxZoom + 1
	}
	return zoom
}

// Clusters returns clusters and unclustered points inside bound at zoom.
// Bounds crossing the antimeridian are split into two queries.
func (sc *Supercluster) Clusters(bound orb.Bound, zoom int) []*geojson.Feature {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	if sc.levels == nil {
		return nil
	}
	return sc.clusters(bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat(), zoom)
}

func (sc *Supercluster) clusters(west, south, east, north float64, zoom int) []*geojson.Feature {
	minLng := math.Mod(math.Mod(west+180, 360)+360, 360) - 180
	maxLng := 180.0
	if east != 180 {
		maxLng = math.Mod(math.Mod(east+180, 360)+360, 360) - 180
	}
	minLat := math.Max(-90, math.Min(90, south))
	maxLat := math.Max(-90, math.Min(90, north))

	if east-west >= 360 {
		minLng, maxLng = -180, 180
	} else if minLng > maxLng {
		eastern := sc.clusters(minLng, minLat, 180, maxLat, zoom)
		western := sc.clusters(-180, minLat, maxLng, maxLat, zoom)
		return append(eastern, western...)
	}

	lv := sc.levels[sc.limitZoom(zoom)]
	ids := lv.rangeQuery(LngX(minLng), LatY(maxLat), LngX(maxLng), LatY(minLat))

	features := make([]*geojson.Feature, 0, len(ids))
	for _, i := range ids {
		features = append(features, sc.feature(lv.nodes[i]))
	}
	return features
}

func (sc *Supercluster) feature(n node) *geojson.Feature {
	if !n.isCluster() {
		return sc.points[n.index]
	}
	f := geojson.NewFeature(orb.Point{XLng(n.x), YLat(n.y)})
	f.ID = n.id
	f.Properties[PropCluster] = true
	f.Properties[PropClusterID] = n.id
	f.Properties[PropPointCount] = n.numPoints
	f.Properties[PropPointCountLabel] = AbbreviateCount(n.numPoints)
	return f
}

func (sc *Supercluster) originIndex(clusterID int) int {
	return (clusterID - len(sc.points)) >> 5
}

func (sc *Supercluster) originZoom(clusterID int) int {
	return (clusterID - len(sc.points)) % 32
}

// children returns the direct children nodes of a cluster
func (sc *Supercluster) children(clusterID int) ([]node, error) {
	if clusterID < len(sc.points) {
		return nil, fmt.Errorf("cluster %d: %w", clusterID, ErrNoCluster)
	}
	originIdx := sc.originIndex(clusterID)
	originZoom := sc.originZoom(clusterID)
	if originZoom < 0 || originZoom >= len(sc.levels) || sc.levels[originZoom] == nil {
		return nil, fmt.Errorf("cluster %d: %w", clusterID, ErrNoCluster)
	}
	lv := sc.levels[originZoom]
	if originIdx >= len(lv.nodes) {
		return nil, fmt.Errorf("cluster %d: %w", clusterID, ErrNoCluster)
	}

	origin := lv.nodes[originIdx]
	var children []node
	for _, i := range lv.within(origin.x, origin.y, sc.radius(originZoom-1)) {
		if lv.nodes[i].parentID == clusterID {
			children = append(children, lv.nodes[i])
		}
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("cluster %d: %w", clusterID, ErrNoCluster)
	}
	return children, nil
}

// Children returns the features one zoom level below a cluster
func (sc *Supercluster) Children(clusterID int) ([]*geojson.Feature, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	nodes, err := sc.children(clusterID)
	if err != nil {
		return nil, err
	}
	features := make([]*geojson.Feature, len(nodes))
	for i, n := range nodes {
		features[i] = sc.feature(n)
	}
	return features, nil
}

// Leaves returns the input points of a cluster. A limit <= 0 returns all of them.
func (sc *Supercluster) Leaves(clusterID, limit, offset int) ([]*geojson.Feature, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	if limit <= 0 {
		limit = math.MaxInt
	}
	var leaves []*geojson.Feature
	if _, err := sc.appendLeaves(&leaves, clusterID, limit, offset, 0); err != nil {
		return nil, err
	}
	return leaves, nil
}

func (sc *Supercluster) appendLeaves(result *[]*geojson.Feature, clusterID, limit, offset, skipped int) (int, error) {
	children, err := sc.children(clusterID)
	if err != nil {
		return skipped, err
	}

	for _, child := range children {
		switch {
		case child.isCluster():
			if skipped+child.numPoints <= offset {
				skipped += child.numPoints
			} else {
				skipped, err = sc.appendLeaves(result, child.id, limit, offset, skipped)
				if err != nil {
					return skipped, err
				}
			}
		case skipped < offset:
			skipped++
		default:
			*result = append(*result, sc.points[child.index])
		}
		if len(*result) == limit {
			break
		}
	}
	return skipped, nil
}

// ExpansionZoom returns the zoom at which a cluster splits into several children
func (sc *Supercluster) ExpansionZoom(clusterID int) (int, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	if clusterID < len(sc.points) {
		return 0, fmt.Errorf("cluster %d: %w", clusterID, ErrNoCluster)
	}
	originZoom := sc.originZoom(clusterID)
	if originZoom < 1 || originZoom > sc.options.MaxZoom+1 {
		return 0, fmt.Errorf("cluster %d: %w", clusterID, ErrNoCluster)
	}
	if _, err := sc.children(clusterID); err != nil {
		return 0, err
	}

	expansionZoom := originZoom - 1
	for expansionZoom <= sc.options.MaxZoom {
		children, err := sc.children(clusterID)
		if err != nil {
			return 0, err
		}
		expansionZoom++
		if len(children) != 1 || !children[0].isCluster() {
			break
		}
		clusterID = children[0].id
	}
	return min(expansionZoom, sc.options.MaxZoom+1), nil
}

// Len returns the number of loaded points
func (sc *Supercluster) Len() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.points)
}

// Points returns the loaded points
func (sc *Supercluster) Points() []*geojson.Feature {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return append([]*geojson.Feature(nil), sc.points...)
}

// AbbreviateCount formats a point count the way cluster labels display it
func AbbreviateCount(count int) string {
	switch {
	case count >= 10000:
		return strconv.Itoa(int(math.Round(float64(count)/1000))) + "k"
	case count >= 1000:
		return strconv.FormatFloat(math.Round(float64(count)/100)/10, 'f', -1, 64) + "k"
	default:
		return strconv.Itoa(count)
	}
}
