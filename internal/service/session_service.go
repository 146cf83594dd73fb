package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jengzang/sessionmap/internal/models"
	"github.com/jengzang/sessionmap/internal/repository"
)

// DefaultActiveWindow is used when no window is configured
const DefaultActiveWindow = 5 * time.Minute

// maxIngestBatch bounds the number of sessions accepted per ingest call
const maxIngestBatch = 10000

// SessionService handles business logic for sessions. It is the feed that
// map views load their session sets from.
type SessionService struct {
	sessionRepo  *repository.SessionRepository
	activeWindow time.Duration
}

// NewSessionService creates a new session service
func NewSessionService(sessionRepo *repository.SessionRepository, activeWindow time.Duration) *SessionService {
	if activeWindow <= 0 {
		activeWindow = DefaultActiveWindow
	}
	return &SessionService{
		sessionRepo:  sessionRepo,
		activeWindow: activeWindow,
	}
}

// ActiveSessions returns the sessions active at the given time
func (s *SessionService) ActiveSessions(ctx context.Context, at time.Time) ([]models.Session, error) {
	sessions, err := s.sessionRepo.ActiveAt(ctx, at, s.activeWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to get active sessions: %w", err)
	}
	return sessions, nil
}

// GetActiveSessions wraps ActiveSessions for the HTTP API
func (s *SessionService) GetActiveSessions(ctx context.Context, at time.Time) (*models.ActiveSessionsResponse, error) {
	sessions, err := s.ActiveSessions(ctx, at)
	if err != nil {
		return nil, err
	}

	located := 0
	for _, session := range sessions {
		if session.Located() {
			located++
		}
	}

	return &models.ActiveSessionsResponse{
		At:       at.Unix(),
		Count:    len(sessions),
		Located:  located,
		Sessions: sessions,
	}, nil
}

// GetSessionByID retrieves a single session
func (s *SessionService) GetSessionByID(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found")
	}
	return session, nil
}

// Ingest stores a batch of sessions and returns their ids
func (s *SessionService) Ingest(ctx context.Context, sessions []models.Session) ([]string, error) {
	if len(sessions) == 0 {
		return []string{}, nil
	}
	if len(sessions) > maxIngestBatch {
		return nil, fmt.Errorf("%w: batch of %d exceeds %d", repository.ErrInvalidSession, len(sessions), maxIngestBatch)
	}

	ids, err := s.sessionRepo.Upsert(ctx, sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to ingest sessions: %w", err)
	}
	return ids, nil
}

// TimeRange returns the span covered by stored sessions
func (s *SessionService) TimeRange(ctx context.Context) (*models.SessionTimeRange, error) {
	tr, err := s.sessionRepo.TimeRange(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get time range: %w", err)
	}
	return tr, nil
}

// Prune deletes sessions that went idle before cutoff
func (s *SessionService) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.sessionRepo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return n, nil
}
