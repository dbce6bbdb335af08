package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncStatus is the lifecycle status of a CalendarSync.
type SyncStatus string

const (
	SyncNotStarted SyncStatus = "not_started"
	SyncInProgress SyncStatus = "in_progress"
	SyncSuccess    SyncStatus = "success"
	SyncFailed     SyncStatus = "failed"
)

// String returns the string representation of the status.
func (s SyncStatus) String() string { return string(s) }

// Sync state machine errors.
var (
	ErrSyncAlreadyRunning   = errors.New("a sync is already in progress for this calendar")
	ErrInvalidSyncTransition = errors.New("invalid sync status transition")
)

// CalendarSync is a scheduled or in-flight synchronization of one calendar
// over a window. Transitions follow
// not_started -> in_progress -> {success, failed} and are persisted
// atomically; only one in_progress sync per (tenant, calendar) is allowed.
type CalendarSync struct {
	BaseEntity
	calendarID         uuid.UUID
	window             TimeInterval
	status             SyncStatus
	shouldUpdateEvents bool
	nextSyncToken      string
	errorMessage       string
	startedAt          *time.Time
	finishedAt         *time.Time
}

// NewCalendarSync schedules a sync over the given window.
func NewCalendarSync(tenant TenantID, calendarID uuid.UUID, window TimeInterval, shouldUpdateEvents bool) (*CalendarSync, error) {
	if calendarID == uuid.Nil {
		return nil, ErrMissingCalendar
	}
	entity, err := NewBaseEntity(tenant)
	if err != nil {
		return nil, err
	}
	return &CalendarSync{
		BaseEntity:         entity,
		calendarID:         calendarID,
		window:             window,
		status:             SyncNotStarted,
		shouldUpdateEvents: shouldUpdateEvents,
	}, nil
}

// Getters
func (s *CalendarSync) CalendarID() uuid.UUID    { return s.calendarID }
func (s *CalendarSync) Window() TimeInterval     { return s.window }
func (s *CalendarSync) Status() SyncStatus       { return s.status }
func (s *CalendarSync) ShouldUpdateEvents() bool { return s.shouldUpdateEvents }
func (s *CalendarSync) NextSyncToken() string    { return s.nextSyncToken }
func (s *CalendarSync) ErrorMessage() string     { return s.errorMessage }
func (s *CalendarSync) StartedAt() *time.Time    { return cloneTime(s.startedAt) }
func (s *CalendarSync) FinishedAt() *time.Time   { return cloneTime(s.finishedAt) }

// IsTerminal reports whether the sync reached success or failed.
func (s *CalendarSync) IsTerminal() bool {
	return s.status == SyncSuccess || s.status == SyncFailed
}

// Start transitions not_started -> in_progress. A failed sync may also be
// restarted; its token-preserving retry is the job runner's backoff path.
func (s *CalendarSync) Start(now time.Time) error {
	if s.status != SyncNotStarted && s.status != SyncFailed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidSyncTransition, s.status, SyncInProgress)
	}
	s.status = SyncInProgress
	t := now.UTC()
	s.startedAt = &t
	s.Touch()
	return nil
}

// Complete transitions in_progress -> success, recording the token a
// subsequent incremental sync should resume from.
func (s *CalendarSync) Complete(now time.Time, nextSyncToken string) error {
	if s.status != SyncInProgress {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidSyncTransition, s.status, SyncSuccess)
	}
	s.status = SyncSuccess
	s.nextSyncToken = nextSyncToken
	s.errorMessage = ""
	t := now.UTC()
	s.finishedAt = &t
	s.Touch()
	return nil
}

// Fail transitions in_progress -> failed. The sync token is preserved so
// retries resume from the same cursor.
func (s *CalendarSync) Fail(now time.Time, cause error) error {
	if s.status != SyncInProgress {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidSyncTransition, s.status, SyncFailed)
	}
	s.status = SyncFailed
	if cause != nil {
		s.errorMessage = cause.Error()
	}
	t := now.UTC()
	s.finishedAt = &t
	s.Touch()
	return nil
}

// RehydrateCalendarSync recreates a sync from persisted data.
func RehydrateCalendarSync(
	entity BaseEntity,
	calendarID uuid.UUID,
	window TimeInterval,
	status SyncStatus,
	shouldUpdateEvents bool,
	nextSyncToken, errorMessage string,
	startedAt, finishedAt *time.Time,
) *CalendarSync {
	return &CalendarSync{
		BaseEntity:         entity,
		calendarID:         calendarID,
		window:             window,
		status:             status,
		shouldUpdateEvents: shouldUpdateEvents,
		nextSyncToken:      nextSyncToken,
		errorMessage:       errorMessage,
		startedAt:          cloneTime(startedAt),
		finishedAt:         cloneTime(finishedAt),
	}
}
