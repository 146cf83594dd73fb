package mapview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jengzang/sessionmap/internal/models"
)

// ErrUnmounted is returned when work is posted to a view that has been torn down
var ErrUnmounted = errors.New("map view is not mounted")

// Options holds the thresholds a view clusters with
type Options struct {
	ClusterThreshold     int
	AggregationThreshold int
}

// DefaultOptions returns the fixed production thresholds
func DefaultOptions() Options {
	return Options{
		ClusterThreshold:     ClusterThreshold,
		AggregationThreshold: AggregationThreshold,
	}
}

// ViewState is a point-in-time copy of a view's observable state
type ViewState struct {
	Mounted    bool                 `json:"mounted"`
	Clustering bool                 `json:"clustering"`
	Sessions   int                  `json:"sessions"`
	Markers    map[string]orb.Point `json:"markers"`
	TooltipFor string               `json:"tooltipFor,omitempty"`
	Cursor     time.Time            `json:"cursor"`
	Applied    uint64               `json:"applied"`
}

// View is one mounted session map. It owns the marker pool, the tooltip and
// the surface subscriptions, and mutates them only from its event loop.
type View struct {
	ID string

	surface    Surface
	feed       SessionFeed
	index      *SpatialIndex
	reconciler *Reconciler
	tooltip    *Tooltip
	opts       Options

	ctx      context.Context
	cancel   context.CancelFunc
	events   chan func()
	quit     chan struct{}
	stopped  chan struct{}
	started  sync.Once
	stopOnce sync.Once
	running  atomic.Bool
	inflight atomic.Int64

	// Loop-owned state
	mounted    bool
	sessions   map[string]models.Session
	raw        []*geojson.Feature
	count      int
	clustering bool
	disposers  []func()
	seq        uint64
	applied    uint64
	cursor     time.Time
}

// NewView creates an unmounted view over surface
func NewView(id string, surface Surface, index ClusterIndex, feed SessionFeed, detail DetailViewer, opts Options) *View {
	if opts.ClusterThreshold <= 0 {
		opts.ClusterThreshold = ClusterThreshold
	}
	if opts.AggregationThreshold <= 0 {
		opts.AggregationThreshold = AggregationThreshold
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		ID:       id,
		surface:  surface,
		feed:     feed,
		index:    NewSpatialIndex(surface, index, opts.AggregationThreshold),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan func(), 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		sessions: make(map[string]models.Session),
	}
	v.tooltip = NewTooltip(surface.Popup(), v.lookup, detail)
	v.reconciler = NewReconciler(surface, v.tooltip)
	return v
}

func (v *View) lookup(id string) (models.Session, bool) {
	s, ok := v.sessions[id]
	return s, ok
}

// Mount starts the event loop and subscribes to the surface
func (v *View) Mount() {
	v.started.Do(func() {
		v.running.Store(true)
		go v.run()
		v.Post(v.mount)
	})
}

func (v *View) run() {
	defer close(v.stopped)
	for {
		select {
		case fn := <-v.events:
			fn()
		case <-v.quit:
			return
		}
	}
}

func (v *View) mount() {
	v.mounted = true
	viewsMounted.Inc()
	v.disposers = append(v.disposers,
		v.surface.On(EventMove, func(Event) { v.requestReconcile("move") }),
		v.surface.On(EventSourceData, func(Event) { v.requestReconcile("sourcedata") }),
		v.surface.On(EventClick, func(Event) { v.tooltip.CloseIfOpen() }),
		v.surface.On(EventPopupClose, func(Event) { v.tooltip.CloseIfOpen() }),
		v.surface.On(EventClusterClick, v.zoomToCluster),
		v.surface.On(EventClusterEnter, func(Event) { v.surface.SetCursor("pointer") }),
		v.surface.On(EventClusterLeave, func(Event) { v.surface.SetCursor("") }),
	)
	Logf("[MapView %s] mounted", v.ID)
}

// Context is cancelled when the view is unmounted
func (v *View) Context() context.Context {
	return v.ctx
}

// Post queues fn on the event loop. It returns false once the view is unmounted.
func (v *View) Post(fn func()) bool {
	select {
	case <-v.quit:
		return false
	default:
	}
	select {
	case v.events <- fn:
		return true
	case <-v.quit:
		return false
	}
}

// Do runs fn on the event loop and waits for it to finish
func (v *View) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !v.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrUnmounted
	}
	select {
	case <-done:
		return nil
	case <-v.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrUnmounted
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetTimeCursor loads the sessions active at "at" and replaces the view's
// session set with them. Any open tooltip is closed.
func (v *View) SetTimeCursor(ctx context.Context, at time.Time) error {
	sessions, err := v.feed.ActiveSessions(ctx, at)
	if err != nil {
		return fmt.Errorf("failed to load active sessions: %w", err)
	}
	return v.Do(ctx, func() {
		v.cursor = at
		v.tooltip.CloseIfOpen()
		v.replaceSessions(sessions)
	})
}

// ReplaceSessions swaps in a new complete session set
func (v *View) ReplaceSessions(ctx context.Context, sessions []models.Session) error {
	return v.Do(ctx, func() {
		v.replaceSessions(sessions)
	})
}

// SelectSession closes the tooltip and shows the session in the detail view
func (v *View) SelectSession(id string) bool {
	return v.Post(func() {
		v.tooltip.Select(id)
	})
}

func (v *View) replaceSessions(sessions []models.Session) {
	if !v.mounted {
		return
	}

	clustering := ShouldCluster(len(sessions), v.opts.ClusterThreshold)
	if clustering != v.clustering {
		n := v.reconciler.Clear()
		Logf("[MapView %s] clustering=%t (%d sessions), cleared %d markers", v.ID, clustering, len(sessions), n)
		v.clustering = clustering
	}

	v.count = len(sessions)
	v.sessions = models.SessionsByID(sessions)

	if clustering {
		v.raw = nil
		v.index.Ingest(sessions)
		return
	}
	v.raw = SessionFeatures(sessions)
	v.index.Clear()
	v.requestReconcile("sessions")
}

// requestReconcile starts a reconciliation pass. Passes that need leaf
// expansion apply once all of their fetches have resolved.
func (v *View) requestReconcile(reason string) {
	if !v.mounted {
		return
	}
	v.seq++
	seq := v.seq

	if !v.clustering {
		v.apply(seq, reason, v.raw)
		return
	}

	direct, expand := v.index.Partition(v.surface.RenderedFeatures())
	if len(expand) == 0 {
		v.apply(seq, reason, direct)
		return
	}

	whenDone(v, v.index.Expand(v.ctx, expand), func(leaves []*geojson.Feature, err error) {
		if err != nil {
			reconcilePasses.WithLabelValues("dropped").Inc()
			return
		}
		v.apply(seq, reason, append(direct, leaves...))
	})
}

func (v *View) apply(seq uint64, reason string, visible []*geojson.Feature) {
	if !v.mounted {
		reconcilePasses.WithLabelValues("dropped").Inc()
		return
	}
	if seq < v.applied {
		reconcilePasses.WithLabelValues("stale").Inc()
		Logf("[MapView %s] discarding stale pass %d (applied %d)", v.ID, seq, v.applied)
		return
	}
	v.applied = seq

	start := time.Now()
	diff := v.reconciler.Reconcile(visible, v.sessions)
	reconcileDuration.Observe(time.Since(start).Seconds())
	reconcilePasses.WithLabelValues("applied").Inc()

	if !diff.Empty() {
		Logf("[MapView %s] pass %d (%s): +%d ~%d -%d, %d markers",
			v.ID, seq, reason, diff.Added, diff.Moved, diff.Removed, v.reconciler.Len())
	}
}

func (v *View) zoomToCluster(e Event) {
	whenDone(v, v.index.ExpansionZoom(v.ctx, e.ClusterID), func(zoom int, err error) {
		if err != nil || !v.mounted {
			return
		}
		v.surface.EaseTo(e.LngLat, float64(zoom))
	})
}

// whenDone runs fn on the view's loop once f resolves
func whenDone[T any](v *View, f *Future[T], fn func(T, error)) {
	v.inflight.Add(1)
	go func() {
		val, err := f.Await(v.ctx)
		if !v.Post(func() {
			defer v.inflight.Add(-1)
			fn(val, err)
		}) {
			v.inflight.Add(-1)
		}
	}()
}

// Settle waits until no asynchronous query issued by the view is outstanding
func (v *View) Settle(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if err := v.Do(ctx, func() {}); err != nil {
			return err
		}
		if v.inflight.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// State returns a copy of the view's observable state
func (v *View) State(ctx context.Context) (ViewState, error) {
	var state ViewState
	err := v.Do(ctx, func() {
		tooltipFor, _ := v.tooltip.OpenFor()
		state = ViewState{
			Mounted:    v.mounted,
			Clustering: v.clustering,
			Sessions:   v.count,
			Markers:    v.reconciler.Positions(),
			TooltipFor: tooltipFor,
			Cursor:     v.cursor,
			Applied:    v.applied,
		}
	})
	return state, err
}

// Unmount tears the view down: the tooltip is closed, subscriptions are
// disposed, every marker is destroyed and the loop stops. Results of queries
// still in flight are discarded.
func (v *View) Unmount() {
	v.stopOnce.Do(func() {
		done := make(chan struct{})
		if v.running.Load() && v.Post(func() {
			defer close(done)
			v.teardown()
		}) {
			select {
			case <-done:
			case <-v.stopped:
			}
		}
		v.cancel()
		close(v.quit)
	})
}

func (v *View) teardown() {
	if !v.mounted {
		return
	}
	v.tooltip.CloseIfOpen()
	for i := len(v.disposers) - 1; i >= 0; i-- {
		v.disposers[i]()
	}
	v.disposers = nil
	n := v.reconciler.Clear()
	v.index.Clear()
	v.mounted = false
	viewsMounted.Dec()
	Logf("[MapView %s] unmounted, destroyed %d markers", v.ID, n)
}
