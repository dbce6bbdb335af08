package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyReason is returned for manual blocks without a reason.
var ErrEmptyReason = errors.New("blocked time requires a reason")

// BlockedTime marks an interval as unbookable. Provider-originated events
// that the application does not own are mirrored as BlockedTimes carrying
// the provider's external id, which keeps future syncs authoritative. Blocks
// share the recurrence/exception/continuation structure of CalendarEvent.
type BlockedTime struct {
	BaseEntity
	calendarID               uuid.UUID
	interval                 TimeInterval
	reason                   string
	externalID               string
	recurrenceRuleID         *uuid.UUID
	parentBlockID            *uuid.UUID
	recurrenceID             *time.Time
	isRecurringException     bool
	bulkModificationParentID *uuid.UUID
	meta                     Meta
}

// BlockedTimeSpec carries the inputs for creating a blocked time.
type BlockedTimeSpec struct {
	CalendarID       uuid.UUID
	Interval         TimeInterval
	Reason           string
	ExternalID       string
	RecurrenceRuleID *uuid.UUID
	Meta             Meta
}

// NewBlockedTime creates a blocked time.
func NewBlockedTime(tenant TenantID, spec BlockedTimeSpec) (*BlockedTime, error) {
	if spec.CalendarID == uuid.Nil {
		return nil, ErrMissingCalendar
	}
	entity, err := NewBaseEntity(tenant)
	if err != nil {
		return nil, err
	}
	return &BlockedTime{
		BaseEntity:       entity,
		calendarID:       spec.CalendarID,
		interval:         spec.Interval,
		reason:           spec.Reason,
		externalID:       spec.ExternalID,
		recurrenceRuleID: cloneID(spec.RecurrenceRuleID),
		meta:             spec.Meta.Clone(),
	}, nil
}

// Getters
func (b *BlockedTime) CalendarID() uuid.UUID        { return b.calendarID }
func (b *BlockedTime) Interval() TimeInterval       { return b.interval }
func (b *BlockedTime) Reason() string               { return b.reason }
func (b *BlockedTime) ExternalID() string           { return b.externalID }
func (b *BlockedTime) RecurrenceRuleID() *uuid.UUID { return cloneID(b.recurrenceRuleID) }
func (b *BlockedTime) ParentBlockID() *uuid.UUID    { return cloneID(b.parentBlockID) }
func (b *BlockedTime) RecurrenceID() *time.Time     { return cloneTime(b.recurrenceID) }
func (b *BlockedTime) IsRecurringException() bool   { return b.isRecurringException }

func (b *BlockedTime) BulkModificationParentID() *uuid.UUID {
	return cloneID(b.bulkModificationParentID)
}

// Meta returns a copy of the block metadata.
func (b *BlockedTime) Meta() Meta { return b.meta.Clone() }

// IsRecurring reports whether this block is a recurring master.
func (b *BlockedTime) IsRecurring() bool { return b.recurrenceRuleID != nil }

// Update replaces interval and reason from the provider's current state.
func (b *BlockedTime) Update(interval TimeInterval, reason string) {
	b.interval = interval
	b.reason = reason
	b.Touch()
}

// MarkPendingParent records the not-yet-synced master external id.
func (b *BlockedTime) MarkPendingParent(parentExternalID string) {
	if b.meta == nil {
		b.meta = Meta{}
	}
	b.meta[MetaPendingParentExternalID] = parentExternalID
	b.Touch()
}

// ClearPendingParent drops the pending-parent marker once the master exists.
func (b *BlockedTime) ClearPendingParent() {
	delete(b.meta, MetaPendingParentExternalID)
	b.Touch()
}

// SnapshotPayload stores the latest raw provider payload on the block.
func (b *BlockedTime) SnapshotPayload(payload map[string]any) {
	if b.meta == nil {
		b.meta = Meta{}
	}
	b.meta[MetaLatestOriginalPayload] = payload
	b.Touch()
}

// RehydrateBlockedTime recreates a blocked time from persisted data.
func RehydrateBlockedTime(
	entity BaseEntity,
	calendarID uuid.UUID,
	interval TimeInterval,
	reason, externalID string,
	recurrenceRuleID, parentBlockID *uuid.UUID,
	recurrenceID *time.Time,
	isRecurringException bool,
	bulkModificationParentID *uuid.UUID,
	meta Meta,
) *BlockedTime {
	return &BlockedTime{
		BaseEntity:               entity,
		calendarID:               calendarID,
		interval:                 interval,
		reason:                   reason,
		externalID:               externalID,
		recurrenceRuleID:         cloneID(recurrenceRuleID),
		parentBlockID:            cloneID(parentBlockID),
		recurrenceID:             cloneTime(recurrenceID),
		isRecurringException:     isRecurringException,
		bulkModificationParentID: cloneID(bulkModificationParentID),
		meta:                     meta.Clone(),
	}
}

// AvailableTime is an explicitly bookable window on a calendar that manages
// available windows. It shares the recurrence structure of BlockedTime.
type AvailableTime struct {
	BaseEntity
	calendarID               uuid.UUID
	interval                 TimeInterval
	recurrenceRuleID         *uuid.UUID
	parentWindowID           *uuid.UUID
	recurrenceID             *time.Time
	isRecurringException     bool
	bulkModificationParentID *uuid.UUID
}

// NewAvailableTime creates an available window.
func NewAvailableTime(tenant TenantID, calendarID uuid.UUID, interval TimeInterval, recurrenceRuleID *uuid.UUID) (*AvailableTime, error) {
	if calendarID == uuid.Nil {
		return nil, ErrMissingCalendar
	}
	entity, err := NewBaseEntity(tenant)
	if err != nil {
		return nil, err
	}
	return &AvailableTime{
		BaseEntity:       entity,
		calendarID:       calendarID,
		interval:         interval,
		recurrenceRuleID: cloneID(recurrenceRuleID),
	}, nil
}

// Getters
func (a *AvailableTime) CalendarID() uuid.UUID        { return a.calendarID }
func (a *AvailableTime) Interval() TimeInterval       { return a.interval }
func (a *AvailableTime) RecurrenceRuleID() *uuid.UUID { return cloneID(a.recurrenceRuleID) }
func (a *AvailableTime) ParentWindowID() *uuid.UUID   { return cloneID(a.parentWindowID) }
func (a *AvailableTime) RecurrenceID() *time.Time     { return cloneTime(a.recurrenceID) }
func (a *AvailableTime) IsRecurringException() bool   { return a.isRecurringException }

func (a *AvailableTime) BulkModificationParentID() *uuid.UUID {
	return cloneID(a.bulkModificationParentID)
}

// IsRecurring reports whether this window is a recurring master.
func (a *AvailableTime) IsRecurring() bool { return a.recurrenceRuleID != nil }

// RehydrateAvailableTime recreates an available window from persisted data.
func RehydrateAvailableTime(
	entity BaseEntity,
	calendarID uuid.UUID,
	interval TimeInterval,
	recurrenceRuleID, parentWindowID *uuid.UUID,
	recurrenceID *time.Time,
	isRecurringException bool,
	bulkModificationParentID *uuid.UUID,
) *AvailableTime {
	return &AvailableTime{
		BaseEntity:               entity,
		calendarID:               calendarID,
		interval:                 interval,
		recurrenceRuleID:         cloneID(recurrenceRuleID),
		parentWindowID:           cloneID(parentWindowID),
		recurrenceID:             cloneTime(recurrenceID),
		isRecurringException:     isRecurringException,
		bulkModificationParentID: cloneID(bulkModificationParentID),
	}
}
