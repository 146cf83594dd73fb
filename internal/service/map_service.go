package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/jengzang/sessionmap/internal/mapview"
	"github.com/jengzang/sessionmap/internal/models"
	"github.com/jengzang/sessionmap/internal/spatial"
	"github.com/jengzang/sessionmap/internal/surface"
)

// ErrViewNotFound is returned for ids that do not name a mounted view
var ErrViewNotFound = errors.New("map view not found")

// MapSession is one mounted map view together with the surface it drives
type MapSession struct {
	ID      string
	View    *mapview.View
	Surface *surface.Headless
	Outbox  *surface.Outbox
	Opened  time.Time
}

// Handle applies a browser input to the session's view
func (m *MapSession) Handle(ctx context.Context, in surface.Input) error {
	switch in.Type {
	case surface.InputCursor:
		at := time.Now()
		if in.At > 0 {
			at = time.Unix(in.At, 0)
		}
		return m.View.SetTimeCursor(ctx, at)
	case surface.InputSelect:
		if !m.View.SelectSession(in.ID) {
			return mapview.ErrUnmounted
		}
		return nil
	}

	// Surface inputs fire subscribers, which must run on the view loop
	if !m.View.Post(func() {
		if err := m.Surface.Dispatch(in); err != nil {
			m.Outbox.Emit(surface.Op{Type: surface.OpError, Message: err.Error()})
		}
	}) {
		return mapview.ErrUnmounted
	}
	return nil
}

// MapService keeps track of the map views mounted by connected clients
type MapService struct {
	feed mapview.SessionFeed

	mu    sync.RWMutex
	views map[string]*MapSession
}

// NewMapService creates a new map service loading sessions from feed
func NewMapService(feed mapview.SessionFeed) *MapService {
	return &MapService{
		feed:  feed,
		views: make(map[string]*MapSession),
	}
}

// Open mounts a new view and loads the sessions active at filter.At
func (s *MapService) Open(ctx context.Context, filter models.MapViewFilter) (*MapSession, error) {
	vp := surface.DefaultViewport
	if filter.Width > 0 && filter.Height > 0 {
		vp.Width, vp.Height = filter.Width, filter.Height
	}
	if filter.Zoom > 0 {
		vp.Zoom = filter.Zoom
		vp.Center = orb.Point{filter.Lng, filter.Lat}
	}

	source := spatial.NewSupercluster(spatial.SuperclusterOptions{
		MaxZoom: mapview.ClusterMaxZoom,
		Radius:  mapview.ClusterRadius,
	})
	outbox := surface.NewOutbox()
	surf := surface.NewHeadless(source, outbox, surface.Options{Viewport: vp})

	id := uuid.NewString()
	view := mapview.NewView(id, surf, source, s.feed, surf, mapview.DefaultOptions())
	view.Mount()

	at := time.Now()
	if filter.At > 0 {
		at = time.Unix(filter.At, 0)
	}
	if err := view.SetTimeCursor(ctx, at); err != nil {
		view.Unmount()
		outbox.Close()
		return nil, fmt.Errorf("failed to open map view: %w", err)
	}

	ms := &MapSession{
		ID:      id,
		View:    view,
		Surface: surf,
		Outbox:  outbox,
		Opened:  time.Now(),
	}

	s.mu.Lock()
	s.views[id] = ms
	s.mu.Unlock()

	log.Printf("[MapService] opened view %s at %s", id, at.UTC().Format(time.RFC3339))
	return ms, nil
}

// Get returns a mounted view
func (s *MapService) Get(id string) (*MapSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ms, ok := s.views[id]
	if !ok {
		return nil, ErrViewNotFound
	}
	return ms, nil
}

// Close unmounts a view. Closing an unknown id is a no-op.
func (s *MapService) Close(id string) {
	s.mu.Lock()
	ms, ok := s.views[id]
	delete(s.views, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	ms.View.Unmount()
	ms.Outbox.Close()
	log.Printf("[MapService] closed view %s after %s", id, time.Since(ms.Opened).Round(time.Second))
}

// CloseAll unmounts every view
func (s *MapService) CloseAll() {
	for _, id := range s.IDs() {
		s.Close(id)
	}
}

// Count returns the number of mounted views
func (s *MapService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.views)
}

// IDs returns the ids of mounted views, sorted
func (s *MapService) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.views))
	for id := range s.views {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// WriteSource writes a compressed snapshot of a view's clustering source
func (s *MapService) WriteSource(id string, w io.Writer) error {
	ms, err := s.Get(id)
	if err != nil {
		return err
	}
	return ms.Surface.Source().WriteSnapshot(w)
}
