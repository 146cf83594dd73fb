package surface

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jengzang/sessionmap/internal/mapview"
	"github.com/jengzang/sessionmap/internal/models"
	"github.com/jengzang/sessionmap/internal/spatial"
)

// Input types received from the browser
const (
	InputViewport     = "viewport"
	InputClickMarker  = "click.marker"
	InputClickMap     = "click.map"
	InputClickCluster = "click.cluster"
	InputHoverCluster = "hover.cluster"
	InputPopupClose   = "popup.close"
	InputCursor       = "cursor" // Handled by the view, not the surface
	InputSelect       = "select" // Handled by the view, not the surface
)

// ErrUnknownInput is returned by Dispatch for inputs the surface does not handle
var ErrUnknownInput = errors.New("unknown input type")

// Input is a user interaction reported by the browser
type Input struct {
	Type      string            `json:"type"`
	ID        string            `json:"id,omitempty"`
	ClusterID int               `json:"clusterId,omitempty"`
	LngLat    orb.Point         `json:"lngLat,omitempty"`
	Viewport  *spatial.Viewport `json:"viewport,omitempty"`
	Enter     bool              `json:"enter,omitempty"`
	At        int64             `json:"at,omitempty"`
}

// Options configures a headless surface
type Options struct {
	Viewport spatial.Viewport
	// MinClusterSize hides cluster circles smaller than this; their points
	// are shown as markers instead
	MinClusterSize int
}

// DefaultViewport is a whole-world view
var DefaultViewport = spatial.Viewport{
	Center: orb.Point{0, 20},
	Zoom:   1.5,
	Width:  1280,
	Height: 720,
}

// Headless is a map surface without a renderer. It keeps the state a map
// widget would hold and reports every change as an Op. It is not safe for
// concurrent use; a mapview.View drives it from its loop.
type Headless struct {
	viewport       spatial.Viewport
	source         *spatial.Supercluster
	loaded         bool
	minClusterSize int
	outbox         *Outbox

	markers map[string]*Marker
	popup   *Popup
	cursor  string

	subs    map[mapview.EventType]map[int]func(mapview.Event)
	nextSub int
}

// NewHeadless creates a surface whose clustering source is source
func NewHeadless(source *spatial.Supercluster, outbox *Outbox, opts Options) *Headless {
	if opts.Viewport.Width <= 0 || opts.Viewport.Height <= 0 {
		opts.Viewport.Width = DefaultViewport.Width
		opts.Viewport.Height = DefaultViewport.Height
	}
	if opts.MinClusterSize <= 0 {
		opts.MinClusterSize = mapview.AggregationThreshold
	}

	h := &Headless{
		viewport:       opts.Viewport,
		source:         source,
		minClusterSize: opts.MinClusterSize,
		outbox:         outbox,
		markers:        make(map[string]*Marker),
		subs:           make(map[mapview.EventType]map[int]func(mapview.Event)),
	}
	h.popup = &Popup{surface: h}
	return h
}

// Source returns the clustering source
func (h *Headless) Source() *spatial.Supercluster {
	return h.source
}

// Viewport returns the current viewport
func (h *Headless) Viewport() spatial.Viewport {
	return h.viewport
}

// SetViewport applies a viewport reported by the browser
func (h *Headless) SetViewport(vp spatial.Viewport) {
	if vp.Width <= 0 || vp.Height <= 0 {
		vp.Width, vp.Height = h.viewport.Width, h.viewport.Height
	}
	h.viewport = vp
	h.emitClusters()
	h.fire(mapview.Event{Type: mapview.EventMove})
}

// EaseTo moves the camera and tells the browser to follow
func (h *Headless) EaseTo(center orb.Point, zoom float64) {
	h.viewport.Center = center
	h.viewport.Zoom = zoom
	h.outbox.Emit(Op{Type: OpViewport, Viewport: ptr(h.viewport)})
	h.emitClusters()
	h.fire(mapview.Event{Type: mapview.EventMove, LngLat: center})
}

// SetCursor changes the canvas cursor
func (h *Headless) SetCursor(cursor string) {
	if cursor == h.cursor {
		return
	}
	h.cursor = cursor
	h.outbox.Emit(Op{Type: OpCursor, Cursor: ptr(cursor)})
}

// Cursor returns the canvas cursor
func (h *Headless) Cursor() string {
	return h.cursor
}

// On subscribes fn to an event type
func (h *Headless) On(event mapview.EventType, fn func(mapview.Event)) func() {
	if h.subs[event] == nil {
		h.subs[event] = make(map[int]func(mapview.Event))
	}
	h.nextSub++
	id := h.nextSub
	h.subs[event][id] = fn
	return func() {
		delete(h.subs[event], id)
	}
}

// Subscribers returns the number of live subscriptions
func (h *Headless) Subscribers() int {
	n := 0
	for _, subs := range h.subs {
		n += len(subs)
	}
	return n
}

func (h *Headless) fire(e mapview.Event) {
	subs := h.subs[e.Type]
	if len(subs) == 0 {
		return
	}
	ids := make([]int, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if fn, ok := subs[id]; ok {
			fn(e)
		}
	}
}

// SetSourceData loads the clustering source and notifies subscribers
func (h *Headless) SetSourceData(features []*geojson.Feature) {
	h.source.Load(features)
	h.loaded = true
	h.emitClusters()
	h.fire(mapview.Event{Type: mapview.EventSourceData})
}

// ClearSourceData empties the clustering source
func (h *Headless) ClearSourceData() {
	h.source.Load(nil)
	h.loaded = false
	h.emitClusters()
	h.fire(mapview.Event{Type: mapview.EventSourceData})
}

// RenderedFeatures returns the source's clusters and points in the viewport
func (h *Headless) RenderedFeatures() []*geojson.Feature {
	if !h.loaded {
		return nil
	}
	return h.source.Clusters(h.viewport.Bound(), h.viewport.ZoomLevel())
}

// emitClusters sends the aggregated circles the browser should draw
func (h *Headless) emitClusters() {
	fc := geojson.NewFeatureCollection()
	for _, f := range h.RenderedFeatures() {
		if _, count, ok := mapview.ClusterInfo(f); ok && count >= h.minClusterSize {
			fc.Append(f)
		}
	}
	h.outbox.Emit(Op{Type: OpClusters, Clusters: fc})
}

// AddMarker places a marker for a session
func (h *Headless) AddMarker(sessionID string, at orb.Point) mapview.MarkerHandle {
	m := &Marker{
		surface:   h,
		sessionID: sessionID,
		at:        at,
		listeners: make(map[int]func()),
	}
	h.markers[sessionID] = m
	h.outbox.Emit(Op{Type: OpMarkerAdd, ID: sessionID, LngLat: ptr(at)})
	return m
}

// Marker returns the live marker for a session
func (h *Headless) Marker(sessionID string) (*Marker, bool) {
	m, ok := h.markers[sessionID]
	return m, ok
}

// MarkerCount returns the number of markers on the surface
func (h *Headless) MarkerCount() int {
	return len(h.markers)
}

// Popup returns the surface's popup
func (h *Headless) Popup() mapview.Popup {
	return h.popup
}

// ShowSession pushes a selected session to the browser's detail view
func (h *Headless) ShowSession(s models.Session) {
	h.outbox.Emit(Op{Type: OpDetail, ID: s.ID, Session: &s})
}

// Dispatch delivers a browser input to the surface's subscribers
func (h *Headless) Dispatch(in Input) error {
	switch in.Type {
	case InputViewport:
		if in.Viewport == nil {
			return fmt.Errorf("%s input without viewport", in.Type)
		}
		h.SetViewport(*in.Viewport)
	case InputClickMarker:
		m, ok := h.markers[in.ID]
		if !ok {
			return nil
		}
		m.Click()
	case InputClickMap:
		h.fire(mapview.Event{Type: mapview.EventClick, LngLat: in.LngLat})
	case InputClickCluster:
		h.fire(mapview.Event{Type: mapview.EventClusterClick, LngLat: in.LngLat, ClusterID: in.ClusterID})
	case InputHoverCluster:
		if in.Enter {
			h.fire(mapview.Event{Type: mapview.EventClusterEnter, ClusterID: in.ClusterID})
		} else {
			h.fire(mapview.Event{Type: mapview.EventClusterLeave, ClusterID: in.ClusterID})
		}
	case InputPopupClose:
		h.popup.open = false
		h.fire(mapview.Event{Type: mapview.EventPopupClose})
	default:
		return fmt.Errorf("%q: %w", in.Type, ErrUnknownInput)
	}
	return nil
}

// Marker is a session marker on a headless surface
type Marker struct {
	surface      *Headless
	sessionID    string
	at           orb.Point
	listeners    map[int]func()
	nextListener int
	removed      bool
}

// SetLngLat moves the marker
func (m *Marker) SetLngLat(at orb.Point) {
	if m.removed {
		return
	}
	m.at = at
	m.surface.outbox.Emit(Op{Type: OpMarkerMove, ID: m.sessionID, LngLat: ptr(at)})
}

// LngLat returns the marker position
func (m *Marker) LngLat() orb.Point {
	return m.at
}

// OnClick registers a click listener
func (m *Marker) OnClick(fn func()) func() {
	m.nextListener++
	id := m.nextListener
	m.listeners[id] = fn
	return func() {
		delete(m.listeners, id)
	}
}

// Listeners returns the number of attached click listeners
func (m *Marker) Listeners() int {
	return len(m.listeners)
}

// Click invokes the click listeners
func (m *Marker) Click() {
	if m.removed {
		return
	}
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if fn, ok := m.listeners[id]; ok {
			fn()
		}
	}
}

// Remove takes the marker off the surface
func (m *Marker) Remove() {
	if m.removed {
		return
	}
	m.removed = true
	if m.surface.markers[m.sessionID] == m {
		delete(m.surface.markers, m.sessionID)
	}
	m.surface.outbox.Emit(Op{Type: OpMarkerRemove, ID: m.sessionID})
}

// Popup is the single popup of a headless surface
type Popup struct {
	surface *Headless
	session models.Session
	at      orb.Point
	open    bool
}

// SetLngLat positions the popup
func (p *Popup) SetLngLat(at orb.Point) {
	p.at = at
}

// SetSession sets the session the popup describes
func (p *Popup) SetSession(s models.Session) {
	p.session = s
}

// Open shows the popup
func (p *Popup) Open() {
	p.open = true
	s := p.session
	p.surface.outbox.Emit(Op{Type: OpPopupOpen, ID: s.ID, LngLat: ptr(p.at), Session: &s})
}

// Close hides the popup
func (p *Popup) Close() {
	if !p.open {
		return
	}
	p.open = false
	p.surface.outbox.Emit(Op{Type: OpPopupClose, ID: p.session.ID})
}

// IsOpen reports whether the popup is shown
func (p *Popup) IsOpen() bool {
	return p.open
}

// SessionID returns the id of the session the popup was last opened for
func (p *Popup) SessionID() string {
	return p.session.ID
}

var (
	_ mapview.Surface      = (*Headless)(nil)
	_ mapview.DetailViewer = (*Headless)(nil)
	_ mapview.MarkerHandle = (*Marker)(nil)
	_ mapview.Popup        = (*Popup)(nil)
)
