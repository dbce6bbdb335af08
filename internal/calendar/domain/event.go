package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event validation errors.
var (
	ErrEmptyTitle            = errors.New("event title cannot be empty")
	ErrMissingCalendar       = errors.New("event requires a calendar")
	ErrParentNotRecurring    = errors.New("parent event has no recurrence rule")
	ErrMissingRecurrenceID   = errors.New("recurring exception requires a recurrence id")
	ErrEventNotRecurring     = errors.New("event is not recurring")
)

// Meta keys used by the sync engine.
const (
	// MetaPendingParentExternalID marks an orphaned recurring instance whose
	// master has not been synced yet. Cleared when the parent is relinked.
	MetaPendingParentExternalID = "pending_parent_external_id"
	// MetaLatestOriginalPayload holds the last raw provider payload snapshot.
	MetaLatestOriginalPayload = "latest_original_payload"
)

// Meta is free-form JSON-serializable metadata attached to synced entities.
type Meta map[string]any

// Clone returns a shallow copy, never nil.
func (m Meta) Clone() Meta {
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PendingParentExternalID returns the pending master external id, if any.
func (m Meta) PendingParentExternalID() (string, bool) {
	v, ok := m[MetaPendingParentExternalID]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// CalendarEvent is an event on a calendar. A master recurring event carries a
// recurrence rule id; instances and exceptions reference their master via
// parentEventID plus the wall-clock recurrenceID of the occurrence they
// replace. A continuation references the series it forks via
// bulkModificationParentID.
type CalendarEvent struct {
	BaseAggregateRoot
	calendarID               uuid.UUID
	title                    string
	description              string
	interval                 TimeInterval
	externalID               string
	status                   EventStatus
	recurrenceRuleID         *uuid.UUID
	parentEventID            *uuid.UUID
	recurrenceID             *time.Time
	isRecurringException     bool
	bulkModificationParentID *uuid.UUID
	meta                     Meta
}

// CalendarEventSpec carries the inputs for creating an event.
type CalendarEventSpec struct {
	CalendarID       uuid.UUID
	Title            string
	Description      string
	Interval         TimeInterval
	ExternalID       string
	RecurrenceRuleID *uuid.UUID
	Meta             Meta
}

// NewCalendarEvent creates a confirmed event.
func NewCalendarEvent(tenant TenantID, spec CalendarEventSpec) (*CalendarEvent, error) {
	if spec.CalendarID == uuid.Nil {
		return nil, ErrMissingCalendar
	}
	if strings.TrimSpace(spec.Title) == "" {
		return nil, ErrEmptyTitle
	}
	root, err := NewBaseAggregateRoot(tenant)
	if err != nil {
		return nil, err
	}
	return &CalendarEvent{
		BaseAggregateRoot: root,
		calendarID:        spec.CalendarID,
		title:             spec.Title,
		description:       spec.Description,
		interval:          spec.Interval,
		externalID:        spec.ExternalID,
		status:            EventConfirmed,
		recurrenceRuleID:  cloneID(spec.RecurrenceRuleID),
		meta:              spec.Meta.Clone(),
	}, nil
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Getters
func (e *CalendarEvent) CalendarID() uuid.UUID  { return e.calendarID }
func (e *CalendarEvent) Title() string          { return e.title }
func (e *CalendarEvent) Description() string    { return e.description }
func (e *CalendarEvent) Interval() TimeInterval { return e.interval }
func (e *CalendarEvent) ExternalID() string     { return e.externalID }
func (e *CalendarEvent) Status() EventStatus    { return e.status }

func (e *CalendarEvent) RecurrenceRuleID() *uuid.UUID { return cloneID(e.recurrenceRuleID) }
func (e *CalendarEvent) ParentEventID() *uuid.UUID    { return cloneID(e.parentEventID) }
func (e *CalendarEvent) RecurrenceID() *time.Time     { return cloneTime(e.recurrenceID) }
func (e *CalendarEvent) IsRecurringException() bool   { return e.isRecurringException }

func (e *CalendarEvent) BulkModificationParentID() *uuid.UUID {
	return cloneID(e.bulkModificationParentID)
}

// Meta returns a copy of the event metadata.
func (e *CalendarEvent) Meta() Meta { return e.meta.Clone() }

// IsRecurring reports whether this event is a recurring master.
func (e *CalendarEvent) IsRecurring() bool { return e.recurrenceRuleID != nil }

// IsInstance reports whether this event derives from a recurring master.
func (e *CalendarEvent) IsInstance() bool { return e.parentEventID != nil }

// IsContinuation reports whether this event forks another series.
func (e *CalendarEvent) IsContinuation() bool { return e.bulkModificationParentID != nil }

// IsProviderOriginated reports whether the event mirrors an external one.
func (e *CalendarEvent) IsProviderOriginated() bool { return e.externalID != "" }

// UpdateDetails replaces title, description and interval; the sync engine
// calls this when the provider is authoritative.
func (e *CalendarEvent) UpdateDetails(title, description string, interval TimeInterval) error {
	if strings.TrimSpace(title) == "" {
		return ErrEmptyTitle
	}
	e.title = title
	e.description = description
	e.interval = interval
	e.Touch()
	return nil
}

// Cancel marks the event cancelled.
func (e *CalendarEvent) Cancel() {
	if e.status != EventCancelled {
		e.status = EventCancelled
		e.Touch()
	}
}

// SetExternalID records the provider-assigned id after a push.
func (e *CalendarEvent) SetExternalID(externalID string) {
	if e.externalID != externalID {
		e.externalID = externalID
		e.Touch()
	}
}

// LinkParent attaches this event to its recurring master as the occurrence
// at recurrenceID. The parent must be recurring and share the tenant.
func (e *CalendarEvent) LinkParent(parent *CalendarEvent, recurrenceID time.Time) error {
	if err := SameTenant(e.Tenant(), parent.Tenant()); err != nil {
		return err
	}
	if !parent.IsRecurring() {
		return ErrParentNotRecurring
	}
	id := parent.ID()
	rid := recurrenceID.UTC()
	e.parentEventID = &id
	e.recurrenceID = &rid
	e.isRecurringException = true
	delete(e.meta, MetaPendingParentExternalID)
	e.Touch()
	return nil
}

// MarkPendingParent records that the master with the given external id has
// not been synced yet. The orphan-relink pass clears it.
func (e *CalendarEvent) MarkPendingParent(parentExternalID string) {
	if e.meta == nil {
		e.meta = Meta{}
	}
	e.meta[MetaPendingParentExternalID] = parentExternalID
	e.Touch()
}

// MarkContinuationOf records that this event supersedes the master's
// occurrences from its own start time onward. The master must be recurring
// and share the tenant.
func (e *CalendarEvent) MarkContinuationOf(master *CalendarEvent) error {
	if err := SameTenant(e.Tenant(), master.Tenant()); err != nil {
		return err
	}
	if !master.IsRecurring() {
		return ErrEventNotRecurring
	}
	id := master.ID()
	e.bulkModificationParentID = &id
	e.Touch()
	return nil
}

// SnapshotPayload stores the latest raw provider payload on the event.
func (e *CalendarEvent) SnapshotPayload(payload map[string]any) {
	if e.meta == nil {
		e.meta = Meta{}
	}
	e.meta[MetaLatestOriginalPayload] = payload
	e.Touch()
}

// RehydrateCalendarEvent recreates an event from persisted data.
func RehydrateCalendarEvent(
	root BaseAggregateRoot,
	calendarID uuid.UUID,
	title, description string,
	interval TimeInterval,
	externalID string,
	status EventStatus,
	recurrenceRuleID, parentEventID *uuid.UUID,
	recurrenceID *time.Time,
	isRecurringException bool,
	bulkModificationParentID *uuid.UUID,
	meta Meta,
) *CalendarEvent {
	return &CalendarEvent{
		BaseAggregateRoot:        root,
		calendarID:               calendarID,
		title:                    title,
		description:              description,
		interval:                 interval,
		externalID:               externalID,
		status:                   status,
		recurrenceRuleID:         cloneID(recurrenceRuleID),
		parentEventID:            cloneID(parentEventID),
		recurrenceID:             cloneTime(recurrenceID),
		isRecurringException:     isRecurringException,
		bulkModificationParentID: cloneID(bulkModificationParentID),
		meta:                     meta.Clone(),
	}
}
