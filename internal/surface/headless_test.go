package surface

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/sessionmap/internal/mapview"
	"github.com/jengzang/sessionmap/internal/models"
	"github.com/jengzang/sessionmap/internal/spatial"
)

func TestMain(m *testing.M) {
	mapview.SetLogger(nil)
	os.Exit(m.Run())
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func located(id string, lng, lat float64) models.Session {
	return models.Session{
		ID:             id,
		Longitude:      &lng,
		Latitude:       &lat,
		StartedAt:      epoch,
		LastActivityAt: epoch,
	}
}

func crowd(prefix string, n int, lng, lat float64) []models.Session {
	sessions := make([]models.Session, n)
	for i := range sessions {
		sessions[i] = located(prefix+string(rune('a'+i)), lng+float64(i)*1e-4, lat)
	}
	return sessions
}

func newTestHeadless() (*Headless, *Outbox) {
	source := spatial.NewSupercluster(spatial.SuperclusterOptions{
		MaxZoom: mapview.ClusterMaxZoom,
		Radius:  mapview.ClusterRadius,
	})
	outbox := NewOutbox()
	vp := spatial.Viewport{Center: orb.Point{0, 0}, Zoom: 1, Width: 1024, Height: 1024}
	return NewHeadless(source, outbox, Options{Viewport: vp}), outbox
}

func opTypes(ops []Op) []string {
	types := make([]string, len(ops))
	for i, op := range ops {
		types[i] = op.Type
	}
	return types
}

func TestOutbox_EmitDrainClose(t *testing.T) {
	o := NewOutbox()
	o.Emit(Op{Type: OpCursor})
	o.Emit(Op{Type: OpViewport})

	select {
	case <-o.Notify():
	default:
		t.Fatal("emit should signal the reader")
	}
	assert.Equal(t, []string{OpCursor, OpViewport}, opTypes(o.Drain()))
	assert.Empty(t, o.Drain())

	o.Close()
	o.Emit(Op{Type: OpCursor})
	assert.Empty(t, o.Drain())
}

func TestHeadless_MarkerLifecycle(t *testing.T) {
	h, outbox := newTestHeadless()

	handle := h.AddMarker("a", orb.Point{1, 2})
	m, ok := h.Marker("a")
	require.True(t, ok)

	clicks := 0
	dispose := m.OnClick(func() { clicks++ })
	require.NoError(t, h.Dispatch(Input{Type: InputClickMarker, ID: "a"}))
	assert.Equal(t, 1, clicks)

	handle.SetLngLat(orb.Point{3, 4})
	assert.Equal(t, orb.Point{3, 4}, m.LngLat())

	dispose()
	assert.Equal(t, 0, m.Listeners())
	handle.Remove()
	handle.Remove()
	assert.Equal(t, 0, h.MarkerCount())

	// Clicks on markers that are gone are ignored
	require.NoError(t, h.Dispatch(Input{Type: InputClickMarker, ID: "a"}))

	ops := outbox.Drain()
	assert.Equal(t, []string{OpMarkerAdd, OpMarkerMove, OpMarkerRemove}, opTypes(ops))
	assert.Equal(t, orb.Point{3, 4}, *ops[1].LngLat)
}

func TestHeadless_PopupOps(t *testing.T) {
	h, outbox := newTestHeadless()
	popup := h.Popup()

	popup.Close()
	assert.Empty(t, outbox.Drain(), "closing a closed popup emits nothing")

	popup.SetSession(located("a", 1, 2))
	popup.SetLngLat(orb.Point{1, 2})
	popup.Open()
	assert.True(t, popup.IsOpen())

	closed := 0
	h.On(mapview.EventPopupClose, func(mapview.Event) { closed++ })
	require.NoError(t, h.Dispatch(Input{Type: InputPopupClose}))
	assert.False(t, popup.IsOpen())
	assert.Equal(t, 1, closed)

	ops := outbox.Drain()
	require.Len(t, ops, 1)
	assert.Equal(t, OpPopupOpen, ops[0].Type)
	assert.Equal(t, "a", ops[0].Session.ID)
}

func TestHeadless_SubscriptionsAndDispatch(t *testing.T) {
	h, outbox := newTestHeadless()

	var got []mapview.Event
	record := func(e mapview.Event) { got = append(got, e) }
	disposers := []func(){
		h.On(mapview.EventClick, record),
		h.On(mapview.EventClusterClick, record),
		h.On(mapview.EventClusterEnter, record),
		h.On(mapview.EventClusterLeave, record),
		h.On(mapview.EventMove, record),
	}
	assert.Equal(t, 5, h.Subscribers())

	require.NoError(t, h.Dispatch(Input{Type: InputClickMap, LngLat: orb.Point{1, 1}}))
	require.NoError(t, h.Dispatch(Input{Type: InputClickCluster, ClusterID: 42, LngLat: orb.Point{2, 2}}))
	require.NoError(t, h.Dispatch(Input{Type: InputHoverCluster, ClusterID: 42, Enter: true}))
	require.NoError(t, h.Dispatch(Input{Type: InputHoverCluster, ClusterID: 42}))
	require.NoError(t, h.Dispatch(Input{Type: InputViewport, Viewport: &spatial.Viewport{Center: orb.Point{5, 5}, Zoom: 4}}))

	require.Len(t, got, 5)
	assert.Equal(t, mapview.EventClick, got[0].Type)
	assert.Equal(t, 42, got[1].ClusterID)
	assert.Equal(t, mapview.EventClusterEnter, got[2].Type)
	assert.Equal(t, mapview.EventClusterLeave, got[3].Type)
	assert.Equal(t, mapview.EventMove, got[4].Type)

	// Pixel size is kept when the browser only reports the camera
	assert.Equal(t, 1024, h.Viewport().Width)
	assert.Equal(t, 4.0, h.Viewport().Zoom)

	for _, dispose := range disposers {
		dispose()
	}
	assert.Equal(t, 0, h.Subscribers())

	err := h.Dispatch(Input{Type: "teleport"})
	assert.True(t, errors.Is(err, ErrUnknownInput))
	assert.Error(t, h.Dispatch(Input{Type: InputViewport}))

	outbox.Drain()
}

func TestHeadless_CursorAndEase(t *testing.T) {
	h, outbox := newTestHeadless()

	h.SetCursor("pointer")
	h.SetCursor("pointer")
	h.EaseTo(orb.Point{10, 20}, 7)

	ops := outbox.Drain()
	assert.Equal(t, []string{OpCursor, OpViewport, OpClusters}, opTypes(ops))
	assert.Equal(t, "pointer", *ops[0].Cursor)
	assert.Equal(t, 7.0, ops[1].Viewport.Zoom)
	assert.Equal(t, "pointer", h.Cursor())
}

func TestHeadless_ClustersOpHidesSmallClusters(t *testing.T) {
	h, outbox := newTestHeadless()

	sessions := append(crowd("a", 3, 10, 10), crowd("b", 12, -100, -30)...)
	h.SetSourceData(mapview.SessionFeatures(sessions))

	assert.Len(t, h.RenderedFeatures(), 2)
	ops := outbox.Drain()
	require.Equal(t, []string{OpClusters}, opTypes(ops))
	require.Len(t, ops[0].Clusters.Features, 1)
	_, count, ok := mapview.ClusterInfo(ops[0].Clusters.Features[0])
	require.True(t, ok)
	assert.Equal(t, 12, count)

	h.ClearSourceData()
	assert.Nil(t, h.RenderedFeatures())
	ops = outbox.Drain()
	require.Len(t, ops, 1)
	assert.Empty(t, ops[0].Clusters.Features)
}

func TestHeadless_DrivesView(t *testing.T) {
	h, outbox := newTestHeadless()
	view := mapview.NewView("headless", h, h.Source(), nil, h, mapview.Options{ClusterThreshold: 5})
	view.Mount()
	defer view.Unmount()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessions := append(crowd("a", 3, 10, 10), crowd("b", 12, -100, -30)...)
	require.NoError(t, view.ReplaceSessions(ctx, sessions))
	require.NoError(t, view.Settle(ctx))

	require.NoError(t, view.Do(ctx, func() {
		assert.Equal(t, 3, h.MarkerCount())
		for _, id := range []string{"aa", "ab", "ac"} {
			_, ok := h.Marker(id)
			assert.True(t, ok, id)
		}
	}))

	added := 0
	for _, op := range outbox.Drain() {
		if op.Type == OpMarkerAdd {
			added++
		}
	}
	assert.Equal(t, 3, added)

	// A marker click from the browser opens the popup for that session
	require.True(t, view.Post(func() {
		assert.NoError(t, h.Dispatch(Input{Type: InputClickMarker, ID: "ab"}))
	}))
	state, err := view.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ab", state.TooltipFor)

	ops := outbox.Drain()
	require.Len(t, ops, 1)
	assert.Equal(t, OpPopupOpen, ops[0].Type)
	assert.Equal(t, "ab", ops[0].ID)

	// Selecting hands the session to the browser's detail panel
	require.True(t, view.SelectSession("ab"))
	_, err = view.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{OpPopupClose, OpDetail}, opTypes(outbox.Drain()))

	view.Unmount()
	assert.Equal(t, 0, h.Subscribers())
	assert.Equal(t, 0, h.MarkerCount())
}
