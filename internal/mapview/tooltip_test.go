package mapview

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"

	"github.com/jengzang/sessionmap/internal/models"
)

func newTestTooltip(sessions ...models.Session) (*Tooltip, *fakePopup, *fakeDetail) {
	byID := models.SessionsByID(sessions)
	popup := &fakePopup{}
	detail := &fakeDetail{}
	lookup := func(id string) (models.Session, bool) {
		s, ok := byID[id]
		return s, ok
	}
	return NewTooltip(popup, lookup, detail), popup, detail
}

func TestTooltip_ToggleOpensAndCloses(t *testing.T) {
	tip, popup, _ := newTestTooltip(located("a", 13.4, 52.5))

	tip.Toggle("a")
	id, open := tip.OpenFor()
	assert.True(t, open)
	assert.Equal(t, "a", id)
	assert.Equal(t, orb.Point{13.4, 52.5}, popup.at)
	assert.Equal(t, "a", popup.session.ID)

	tip.Toggle("a")
	_, open = tip.OpenFor()
	assert.False(t, open)
	assert.False(t, popup.open)
	assert.Equal(t, 1, popup.closes)
}

func TestTooltip_ToggleMovesBetweenSessions(t *testing.T) {
	tip, popup, _ := newTestTooltip(located("a", 1, 1), located("b", 2, 2))

	tip.Toggle("a")
	tip.Toggle("b")

	id, open := tip.OpenFor()
	assert.True(t, open)
	assert.Equal(t, "b", id)
	assert.Equal(t, orb.Point{2, 2}, popup.at)
	assert.Equal(t, 2, popup.opens)
	assert.Equal(t, 1, popup.closes)
}

func TestTooltip_CloseIfOpenIsIdempotent(t *testing.T) {
	tip, popup, _ := newTestTooltip(located("a", 1, 1))

	tip.CloseIfOpen()
	assert.Equal(t, 0, popup.closes)

	tip.Toggle("a")
	tip.CloseIfOpen()
	tip.CloseIfOpen()
	assert.Equal(t, 1, popup.closes)
}

func TestTooltip_CloseForOnlyAffectsItsSession(t *testing.T) {
	tip, popup, _ := newTestTooltip(located("a", 1, 1), located("b", 2, 2))

	tip.Toggle("a")
	tip.CloseFor("b")
	assert.True(t, popup.open)

	tip.CloseFor("a")
	assert.False(t, popup.open)
}

func TestTooltip_IgnoresUnknownAndUnlocated(t *testing.T) {
	tip, popup, _ := newTestTooltip(unlocated("u"))

	tip.Toggle("missing")
	tip.Toggle("u")
	assert.False(t, popup.open)
	assert.Equal(t, 0, popup.opens)
}

func TestTooltip_UserClosedPopup(t *testing.T) {
	tip, popup, _ := newTestTooltip(located("a", 1, 1))

	tip.Toggle("a")
	popup.open = false // Dismissed on the surface

	_, open := tip.OpenFor()
	assert.False(t, open)

	tip.Toggle("a")
	assert.True(t, popup.open)
}

func TestTooltip_SelectClosesAndShowsDetail(t *testing.T) {
	tip, popup, detail := newTestTooltip(located("a", 1, 1), located("b", 2, 2))

	tip.Toggle("a")
	tip.Select("b")

	assert.False(t, popup.open)
	assert.Equal(t, []string{"b"}, detail.shown)

	tip.Select("missing")
	assert.Equal(t, []string{"b"}, detail.shown)
}
