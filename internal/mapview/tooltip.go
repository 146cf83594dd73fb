package mapview

import "github.com/jengzang/sessionmap/internal/models"

// Tooltip coordinates the surface's single popup so that it is open for at
// most one session at a time
type Tooltip struct {
	popup   Popup
	lookup  func(id string) (models.Session, bool)
	detail  DetailViewer
	openFor string
}

// NewTooltip creates a coordinator. lookup resolves a session id to the
// session currently bound to its marker.
func NewTooltip(popup Popup, lookup func(id string) (models.Session, bool), detail DetailViewer) *Tooltip {
	return &Tooltip{
		popup:  popup,
		lookup: lookup,
		detail: detail,
	}
}

// Toggle closes the tooltip if it is open for id, otherwise moves it to id
func (t *Tooltip) Toggle(id string) {
	if t.popup.IsOpen() && t.openFor == id {
		t.CloseIfOpen()
		return
	}
	t.CloseIfOpen()

	s, ok := t.lookup(id)
	if !ok {
		return
	}
	at, ok := s.Location()
	if !ok {
		return
	}
	t.popup.SetSession(s)
	t.popup.SetLngLat(at)
	t.popup.Open()
	t.openFor = id
}

// CloseIfOpen closes the tooltip. Safe to call at any time.
func (t *Tooltip) CloseIfOpen() {
	if t.popup.IsOpen() {
		t.popup.Close()
	}
	t.openFor = ""
}

// CloseFor closes the tooltip only if it is open for id
func (t *Tooltip) CloseFor(id string) {
	if t.openFor == id {
		t.CloseIfOpen()
	}
}

// OpenFor returns the session the tooltip is open for
func (t *Tooltip) OpenFor() (string, bool) {
	if t.openFor == "" || !t.popup.IsOpen() {
		return "", false
	}
	return t.openFor, true
}

// Select closes the tooltip and hands the session to the detail view
func (t *Tooltip) Select(id string) {
	t.CloseIfOpen()
	s, ok := t.lookup(id)
	if !ok || t.detail == nil {
		return
	}
	t.detail.ShowSession(s)
}
