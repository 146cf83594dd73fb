package mapview

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jengzang/sessionmap/internal/models"
)

type marker struct {
	handle  MarkerHandle
	at      orb.Point
	dispose func()
}

// Diff counts the marker operations of one reconciliation pass
type Diff struct {
	Added   int `json:"added"`
	Moved   int `json:"moved"`
	Removed int `json:"removed"`
}

// Empty reports whether the pass changed nothing
func (d Diff) Empty() bool {
	return d.Added == 0 && d.Moved == 0 && d.Removed == 0
}

// Reconciler owns the marker pool of one view
type Reconciler struct {
	surface Surface
	tooltip *Tooltip
	pool    map[string]*marker
}

// NewReconciler creates an empty marker pool on surface
func NewReconciler(surface Surface, tooltip *Tooltip) *Reconciler {
	return &Reconciler{
		surface: surface,
		tooltip: tooltip,
		pool:    make(map[string]*marker),
	}
}

// Reconcile makes the pool hold exactly one marker per visible, located
// session, each positioned at the session's coordinate. Markers for sessions
// that stay visible are kept and only moved when their coordinate changed.
func (r *Reconciler) Reconcile(visible []*geojson.Feature, sessions map[string]models.Session) Diff {
	target := make(map[string]orb.Point, len(visible))
	order := make([]string, 0, len(visible))
	for _, f := range visible {
		id, ok := FeatureSessionID(f)
		if !ok {
			continue
		}
		if _, dup := target[id]; dup {
			continue
		}
		s, ok := sessions[id]
		if !ok {
			continue
		}
		at, ok := s.Location()
		if !ok {
			continue
		}
		target[id] = at
		order = append(order, id)
	}

	var diff Diff
	for id, m := range r.pool {
		if _, keep := target[id]; !keep {
			r.destroy(id, m)
			diff.Removed++
		}
	}

	for _, id := range order {
		at := target[id]
		if m, ok := r.pool[id]; ok {
			if m.at != at {
				m.handle.SetLngLat(at)
				m.at = at
				diff.Moved++
			}
			continue
		}
		r.pool[id] = r.create(id, at)
		diff.Added++
	}

	markerOps.WithLabelValues("add").Add(float64(diff.Added))
	markerOps.WithLabelValues("move").Add(float64(diff.Moved))
	markerOps.WithLabelValues("remove").Add(float64(diff.Removed))
	return diff
}

// Clear destroys every marker
func (r *Reconciler) Clear() int {
	r.tooltip.CloseIfOpen()
	n := len(r.pool)
	for id, m := range r.pool {
		r.destroy(id, m)
	}
	markerOps.WithLabelValues("remove").Add(float64(n))
	return n
}

func (r *Reconciler) create(id string, at orb.Point) *marker {
	handle := r.surface.AddMarker(id, at)
	dispose := handle.OnClick(func() {
		r.tooltip.Toggle(id)
	})
	return &marker{handle: handle, at: at, dispose: dispose}
}

func (r *Reconciler) destroy(id string, m *marker) {
	r.tooltip.CloseFor(id)
	if m.dispose != nil {
		m.dispose()
	}
	m.handle.Remove()
	delete(r.pool, id)
}

// Len returns the number of markers in the pool
func (r *Reconciler) Len() int {
	return len(r.pool)
}

// Has reports whether a marker exists for id
func (r *Reconciler) Has(id string) bool {
	_, ok := r.pool[id]
	return ok
}

// Position returns the coordinate of the marker bound to id
func (r *Reconciler) Position(id string) (orb.Point, bool) {
	m, ok := r.pool[id]
	if !ok {
		return orb.Point{}, false
	}
	return m.at, true
}

// Positions returns a copy of the pool's marker coordinates
func (r *Reconciler) Positions() map[string]orb.Point {
	positions := make(map[string]orb.Point, len(r.pool))
	for id, m := range r.pool {
		positions[id] = m.at
	}
	return positions
}

// IDs returns the sorted identifiers in the pool
func (r *Reconciler) IDs() []string {
	ids := make([]string, 0, len(r.pool))
	for id := range r.pool {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
