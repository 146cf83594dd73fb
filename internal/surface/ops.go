package surface

import (
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jengzang/sessionmap/internal/models"
	"github.com/jengzang/sessionmap/internal/spatial"
)

// Op types sent to the browser
const (
	OpMarkerAdd    = "marker.add"
	OpMarkerMove   = "marker.move"
	OpMarkerRemove = "marker.remove"
	OpPopupOpen    = "popup.open"
	OpPopupClose   = "popup.close"
	OpClusters     = "clusters"
	OpViewport     = "viewport"
	OpCursor       = "cursor"
	OpDetail       = "detail"
	OpError        = "error"
	OpReady        = "ready" // First op on a connection, carries the view id
)

// Op is one state change of the surface, mirrored by the browser
type Op struct {
	Type     string                     `json:"type"`
	ID       string                     `json:"id,omitempty"`
	LngLat   *orb.Point                 `json:"lngLat,omitempty"`
	Session  *models.Session            `json:"session,omitempty"`
	Clusters *geojson.FeatureCollection `json:"clusters,omitempty"`
	Viewport *spatial.Viewport          `json:"viewport,omitempty"`
	Cursor   *string                    `json:"cursor,omitempty"`
	Message  string                     `json:"message,omitempty"`
}

// Outbox buffers ops until the transport drains them
type Outbox struct {
	mu     sync.Mutex
	ops    []Op
	notify chan struct{}
	closed bool
}

// NewOutbox creates an empty outbox
func NewOutbox() *Outbox {
	return &Outbox{notify: make(chan struct{}, 1)}
}

// Emit appends an op and wakes the reader
func (o *Outbox) Emit(op Op) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.ops = append(o.ops, op)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Notify signals that ops are waiting
func (o *Outbox) Notify() <-chan struct{} {
	return o.notify
}

// Drain returns and clears the pending ops
func (o *Outbox) Drain() []Op {
	o.mu.Lock()
	defer o.mu.Unlock()
	ops := o.ops
	o.ops = nil
	return ops
}

// Close drops pending ops and ignores further emits
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.ops = nil
}

func ptr[T any](v T) *T {
	return &v
}
