package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jengzang/sessionmap/internal/database"
	"github.com/jengzang/sessionmap/internal/models"
)

// ErrInvalidSession is returned when a session cannot be stored
var ErrInvalidSession = errors.New("invalid session")

const sessionColumns = `id, latitude, longitude, device, browser, os, country, region, city, referrer,
	pageviews, events, duration, started_at, last_activity_at`

// SessionRepository handles database operations for sessions
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// ActiveAt returns sessions that had started by at and were still active
// within window before it, ordered by id
func (r *SessionRepository) ActiveAt(ctx context.Context, at time.Time, window time.Duration) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE started_at <= ? AND last_activity_at >= ?
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, at.Unix(), at.Add(-window).Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}

// GetByID retrieves a single session. It returns nil when none exists.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Upsert inserts or replaces sessions in one transaction. Sessions without an
// id are assigned one; the stored ids are returned in input order.
func (r *SessionRepository) Upsert(ctx context.Context, sessions []models.Session) ([]string, error) {
	for i := range sessions {
		if err := validateSession(&sessions[i]); err != nil {
			return nil, fmt.Errorf("session %d: %w", i, err)
		}
	}

	ids := make([]string, len(sessions))
	err := database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				latitude = excluded.latitude,
				longitude = excluded.longitude,
				device = excluded.device,
				browser = excluded.browser,
				os = excluded.os,
				country = excluded.country,
				region = excluded.region,
				city = excluded.city,
				referrer = excluded.referrer,
				pageviews = excluded.pageviews,
				events = excluded.events,
				duration = excluded.duration,
				started_at = excluded.started_at,
				last_activity_at = excluded.last_activity_at`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for i, s := range sessions {
			if s.ID == "" {
				s.ID = uuid.NewString()
			}
			_, err := stmt.ExecContext(ctx,
				s.ID, nullFloat(s.Latitude), nullFloat(s.Longitude),
				s.Device, s.Browser, s.OS, s.Country, s.Region, s.City, s.Referrer,
				s.Pageviews, s.Events, s.Duration,
				s.StartedAt.Unix(), s.LastActivityAt.Unix(),
			)
			if err != nil {
				return fmt.Errorf("failed to upsert session %s: %w", s.ID, err)
			}
			ids[i] = s.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// TimeRange returns the earliest start and latest activity of stored sessions
func (r *SessionRepository) TimeRange(ctx context.Context) (*models.SessionTimeRange, error) {
	query := `SELECT COALESCE(MIN(started_at), 0), COALESCE(MAX(last_activity_at), 0), COUNT(*) FROM sessions`

	var tr models.SessionTimeRange
	if err := r.db.QueryRowContext(ctx, query).Scan(&tr.Start, &tr.End, &tr.Total); err != nil {
		return nil, fmt.Errorf("failed to query session time range: %w", err)
	}
	return &tr, nil
}

// DeleteBefore removes sessions whose last activity precedes cutoff
func (r *SessionRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_activity_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (models.Session, error) {
	var (
		s                   models.Session
		lat, lng            sql.NullFloat64
		startedAt, activeAt int64
	)
	err := row.Scan(
		&s.ID, &lat, &lng,
		&s.Device, &s.Browser, &s.OS, &s.Country, &s.Region, &s.City, &s.Referrer,
		&s.Pageviews, &s.Events, &s.Duration,
		&startedAt, &activeAt,
	)
	if err == sql.ErrNoRows {
		return s, err
	}
	if err != nil {
		return s, fmt.Errorf("failed to scan session: %w", err)
	}
	if lat.Valid {
		s.Latitude = &lat.Float64
	}
	if lng.Valid {
		s.Longitude = &lng.Float64
	}
	s.StartedAt = time.Unix(startedAt, 0).UTC()
	s.LastActivityAt = time.Unix(activeAt, 0).UTC()
	return s, nil
}

func validateSession(s *models.Session) error {
	if s.StartedAt.IsZero() {
		return fmt.Errorf("%w: missing startedAt", ErrInvalidSession)
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = s.StartedAt
	}
	if s.LastActivityAt.Before(s.StartedAt) {
		return fmt.Errorf("%w: lastActivityAt precedes startedAt", ErrInvalidSession)
	}
	if (s.Latitude == nil) != (s.Longitude == nil) {
		return fmt.Errorf("%w: latitude and longitude must be set together", ErrInvalidSession)
	}
	if s.Pageviews < 0 || s.Events < 0 || s.Duration < 0 {
		return fmt.Errorf("%w: negative counter", ErrInvalidSession)
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
