package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// SchedulerState is the persisted scheduler snapshot. It is written on
// every transition and counter change so a restart recovers rate
// budgets instead of resetting them.
type SchedulerState struct {
	CurrentState     string
	APICallsThisHour int
	APICallsToday    int
	HourWindowStart  time.Time
	DayWindowStart   time.Time
	BufferDepth      int
	BackoffUntil     *time.Time
	BackoffEpoch     int
	LastCollectionAt *time.Time
	StateEpoch       int64
	UpdatedAt        time.Time
}

// SchedulerStateRepo persists the single scheduler state row.
type SchedulerStateRepo struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSchedulerStateRepo creates a scheduler state repository.
func NewSchedulerStateRepo(db *sql.DB, log zerolog.Logger) *SchedulerStateRepo {
	return &SchedulerStateRepo{
		db:  db,
		log: log.With().Str("repository", "scheduler_state").Logger(),
	}
}

// Save upserts the state row, advancing the monotonic state epoch.
func (r *SchedulerStateRepo) Save(s *SchedulerState) error {
	s.StateEpoch++
	s.UpdatedAt = time.Now().UTC()

	_, err := r.db.Exec(`
		INSERT INTO scheduler_state
		    (id, current_state, api_calls_this_hour, api_calls_today,
		     hour_window_start, day_window_start, buffer_depth,
		     backoff_until, backoff_epoch, last_collection_at, state_epoch, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    current_state = excluded.current_state,
		    api_calls_this_hour = excluded.api_calls_this_hour,
		    api_calls_today = excluded.api_calls_today,
		    hour_window_start = excluded.hour_window_start,
		    day_window_start = excluded.day_window_start,
		    buffer_depth = excluded.buffer_depth,
		    backoff_until = excluded.backoff_until,
		    backoff_epoch = excluded.backoff_epoch,
		    last_collection_at = excluded.last_collection_at,
		    state_epoch = excluded.state_epoch,
		    updated_at = excluded.updated_at`,
		s.CurrentState, s.APICallsThisHour, s.APICallsToday,
		s.HourWindowStart.UTC().Format(time.RFC3339),
		s.DayWindowStart.UTC().Format(time.RFC3339),
		s.BufferDepth,
		formatNullableTime(s.BackoffUntil),
		s.BackoffEpoch,
		formatNullableTime(s.LastCollectionAt),
		s.StateEpoch,
		s.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save scheduler state: %w", err)
	}
	return nil
}

// Load returns the persisted state, or nil on first startup.
func (r *SchedulerStateRepo) Load() (*SchedulerState, error) {
	var s SchedulerState
	var hourStart, dayStart, updatedAt string
	var backoffUntil, lastCollection sql.NullString

	err := r.db.QueryRow(`
		SELECT current_state, api_calls_this_hour, api_calls_today,
		       hour_window_start, day_window_start, buffer_depth,
		       backoff_until, backoff_epoch, last_collection_at, state_epoch, updated_at
		FROM scheduler_state WHERE id = 1`,
	).Scan(&s.CurrentState, &s.APICallsThisHour, &s.APICallsToday,
		&hourStart, &dayStart, &s.BufferDepth,
		&backoffUntil, &s.BackoffEpoch, &lastCollection, &s.StateEpoch, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler state: %w", err)
	}

	s.HourWindowStart, _ = time.Parse(time.RFC3339, hourStart)
	s.DayWindowStart, _ = time.Parse(time.RFC3339, dayStart)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	s.BackoffUntil = parseNullableTime(backoffUntil)
	s.LastCollectionAt = parseNullableTime(lastCollection)

	return &s, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
