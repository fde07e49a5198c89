package run

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"backend-runtracker/internal/shared/geo"

	"github.com/google/uuid"
)

const (
	DefaultHistoryLimit = 20

	maxConflictRetries = 5
)

var (
	nowFn   = time.Now
	newIDFn = uuid.NewString
)

type Service struct {
	store        Store
	locks        *keyedMutex
	historyLimit int
}

func NewService(store Store, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Service{
		store:        store,
		locks:        newKeyedMutex(),
		historyLimit: historyLimit,
	}
}

func (s *Service) Start(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", validation("User ID is required")
	}

	session := Session{
		ID:          newIDFn(),
		UserID:      userID,
		StartTime:   now(),
		AveragePace: CalculatePace(0, 0),
		Active:      true,
	}
	if err := s.store.Create(ctx, session); err != nil {
		return "", fmt.Errorf("create run session: %w", err)
	}
	return session.ID, nil
}

// Update appends a GPS fix to an active session and recomputes its metrics.
// Distance is accumulated between consecutively received fixes.
func (s *Service) Update(ctx context.Context, sessionID string, fix Fix) (Progress, error) {
	if sessionID == "" || fix.Latitude == nil || fix.Longitude == nil {
		return Progress{}, validation("Session ID, latitude, and longitude are required")
	}
	if !finite(*fix.Latitude) || !finite(*fix.Longitude) {
		return Progress{}, validation("Latitude and longitude must be finite numbers")
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	// The lock only covers this process; stores shared between instances
	// report a stale snapshot with ErrConflict and the fix is reapplied.
	for attempt := 1; ; attempt++ {
		progress, err := s.update(ctx, sessionID, fix)
		if errors.Is(err, ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		return progress, err
	}
}

func (s *Service) update(ctx context.Context, sessionID string, fix Fix) (Progress, error) {
	session, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) || (err == nil && !session.Active) {
		return Progress{}, notFound("Active session not found")
	}
	if err != nil {
		return Progress{}, fmt.Errorf("load run session: %w", err)
	}

	at := now()
	sample := GeoSample{
		Latitude:  *fix.Latitude,
		Longitude: *fix.Longitude,
		Timestamp: at.UnixMilli(),
		Accuracy:  fix.Accuracy,
		Altitude:  fix.Altitude,
		Speed:     fix.Speed,
	}

	if prev := session.LastSample; prev != nil {
		session.Distance += geo.HaversineKm(prev.Latitude, prev.Longitude, sample.Latitude, sample.Longitude)
	}
	session.LastSample = &sample
	session.SampleCount++
	session.Duration = at.Sub(session.StartTime)
	session.AveragePace = CalculatePace(session.Distance, session.Duration)
	session.Calories = Calories(session.Distance)

	if err := s.store.Append(ctx, session, sample); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Progress{}, notFound("Active session not found")
		}
		return Progress{}, fmt.Errorf("append run position: %w", err)
	}

	return Progress{
		Distance:        FormatDistance(session.Distance),
		Duration:        FormatDuration(session.Duration),
		Pace:            session.AveragePace,
		Calories:        session.Calories,
		CurrentPosition: sample,
	}, nil
}

// End finalizes a session. Ending a session twice returns the frozen summary.
func (s *Service) End(ctx context.Context, sessionID string) (Summary, error) {
	if sessionID == "" {
		return Summary{}, validation("Session ID is required")
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		summary, err := s.end(ctx, sessionID)
		if errors.Is(err, ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		return summary, err
	}
}

func (s *Service) end(ctx context.Context, sessionID string) (Summary, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return Summary{}, err
	}

	if session.Active {
		end := now()
		session.Active = false
		session.EndTime = &end
		session.Duration = end.Sub(session.StartTime)
		if err := s.store.Finish(ctx, session); err != nil {
			return Summary{}, fmt.Errorf("finish run session: %w", err)
		}
	}
	return summarize(session, false), nil
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]Summary, error) {
	if userID == "" {
		return nil, validation("User ID is required")
	}
	if limit <= 0 {
		limit = s.historyLimit
	}

	sessions, err := s.store.History(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load run history: %w", err)
	}

	summaries := make([]Summary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, summarize(session, true))
	}
	return summaries, nil
}

func (s *Service) Positions(ctx context.Context, sessionID string) ([]GeoSample, error) {
	if sessionID == "" {
		return nil, validation("Session ID is required")
	}
	if _, err := s.load(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.positions(ctx, sessionID)
}

func (s *Service) load(ctx context.Context, sessionID string) (Session, error) {
	session, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return Session{}, notFound("Session not found")
	}
	if err != nil {
		return Session{}, fmt.Errorf("load run session: %w", err)
	}
	return session, nil
}

func (s *Service) positions(ctx context.Context, sessionID string) ([]GeoSample, error) {
	track, err := s.store.Positions(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("Session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load run positions: %w", err)
	}
	if track == nil {
		track = []GeoSample{}
	}
	return track, nil
}

func summarize(session Session, withDate bool) Summary {
	summary := Summary{
		ID:        session.ID,
		Distance:  FormatDistance(session.Distance),
		Duration:  FormatDuration(session.Duration),
		Pace:      session.AveragePace,
		Calories:  session.Calories,
		StartTime: formatTime(session.StartTime),
	}
	if session.EndTime != nil {
		end := formatTime(*session.EndTime)
		summary.EndTime = &end
	}
	if withDate {
		summary.Date = formatTime(session.finishedAt())
	}
	return summary
}

// now is truncated to milliseconds, the resolution of sample timestamps.
func now() time.Time {
	return nowFn().UTC().Truncate(time.Millisecond)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
