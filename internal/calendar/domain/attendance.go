package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Attendance validation errors.
var (
	ErrEmptyAttendeeEmail = errors.New("attendee email cannot be empty")
	ErrMissingEvent       = errors.New("attendance requires an event")
	ErrMissingUser        = errors.New("attendance requires a user")
	ErrMissingResource    = errors.New("allocation requires a resource calendar")
)

// EventAttendance records an internal user's attendance on an event.
type EventAttendance struct {
	BaseEntity
	eventID uuid.UUID
	userID  uuid.UUID
	status  RSVPStatus
}

// NewEventAttendance creates an attendance with pending status.
func NewEventAttendance(tenant TenantID, eventID, userID uuid.UUID) (*EventAttendance, error) {
	if eventID == uuid.Nil {
		return nil, ErrMissingEvent
	}
	if userID == uuid.Nil {
		return nil, ErrMissingUser
	}
	entity, err := NewBaseEntity(tenant)
	if err != nil {
		return nil, err
	}
	return &EventAttendance{
		BaseEntity: entity,
		eventID:    eventID,
		userID:     userID,
		status:     RSVPPending,
	}, nil
}

func (a *EventAttendance) EventID() uuid.UUID { return a.eventID }
func (a *EventAttendance) UserID() uuid.UUID  { return a.userID }
func (a *EventAttendance) Status() RSVPStatus { return a.status }

// SetStatus updates the RSVP status; unknown values become pending.
func (a *EventAttendance) SetStatus(status RSVPStatus) {
	if !status.IsValid() {
		status = RSVPPending
	}
	if a.status != status {
		a.status = status
		a.Touch()
	}
}

// RehydrateEventAttendance recreates an attendance from persisted data.
func RehydrateEventAttendance(entity BaseEntity, eventID, userID uuid.UUID, status RSVPStatus) *EventAttendance {
	return &EventAttendance{BaseEntity: entity, eventID: eventID, userID: userID, status: status}
}

// ExternalAttendee is a participant without an internal user account,
// identified by email within a tenant.
type ExternalAttendee struct {
	BaseEntity
	email string
	name  string
}

// NewExternalAttendee creates an external attendee.
func NewExternalAttendee(tenant TenantID, email, name string) (*ExternalAttendee, error) {
	if strings.TrimSpace(email) == "" {
		return nil, ErrEmptyAttendeeEmail
	}
	entity, err := NewBaseEntity(tenant)
	if err != nil {
		return nil, err
	}
	return &ExternalAttendee{
		BaseEntity: entity,
		email:      strings.ToLower(strings.TrimSpace(email)),
		name:       name,
	}, nil
}

func (a *ExternalAttendee) Email() string { return a.email }
func (a *ExternalAttendee) Name() string  { return a.name }

// SetName updates the display name when a newer payload carries one.
func (a *ExternalAttendee) SetName(name string) {
	if name != "" && a.name != name {
		a.name = name
		a.Touch()
	}
}

// RehydrateExternalAttendee recreates an external attendee from persisted data.
func RehydrateExternalAttendee(entity BaseEntity, email, name string) *ExternalAttendee {
	return &ExternalAttendee{BaseEntity: entity, email: email, name: name}
}

// EventExternalAttendance links an external attendee to an event.
type EventExternalAttendance struct {
	BaseEntity
	eventID    uuid.UUID
	attendeeID uuid.UUID
	status     RSVPStatus
}

// NewEventExternalAttendance creates an external attendance.
func NewEventExternalAttendance(tenant TenantID, eventID uuid.UUID, attendee *ExternalAttendee, status RSVPStatus) (*EventExternalAttendance, error) {
	if eventID == uuid.Nil {
		return nil, ErrMissingEvent
	}
	if err := SameTenant(tenant, attendee.Tenant()); err != nil {
		return nil, err
	}
	if !status.IsValid() {
		status = RSVPPending
	}
	entity, err := NewBaseEntity(tenant)
	if err != nil {
		return nil, err
	}
	return &EventExternalAttendance{
		BaseEntity: entity,
		eventID:    eventID,
		attendeeID: attendee.ID(),
		status:     status,
	}, nil
}

func (a *EventExternalAttendance) EventID() uuid.UUID    { return a.eventID }
func (a *EventExternalAttendance) AttendeeID() uuid.UUID { return a.attendeeID }
func (a *EventExternalAttendance) Status() RSVPStatus    { return a.status }

// SetStatus updates the RSVP status; unknown values become pending.
func (a *EventExternalAttendance) SetStatus(status RSVPStatus) {
	if !status.IsValid() {
		status = RSVPPending
	}
	if a.status != status {
		a.status = status
		a.Touch()
	}
}

// RehydrateEventExternalAttendance recreates an attendance from persisted data.
func RehydrateEventExternalAttendance(entity BaseEntity, eventID, attendeeID uuid.UUID, status RSVPStatus) *EventExternalAttendance {
	return &EventExternalAttendance{BaseEntity: entity, eventID: eventID, attendeeID: attendeeID, status: status}
}

// ResourceAllocation reserves a resource calendar for an event.
type ResourceAllocation struct {
	BaseEntity
	eventID            uuid.UUID
	resourceCalendarID uuid.UUID
	status             RSVPStatus
}

// NewResourceAllocation allocates a resource calendar to an event.
func NewResourceAllocation(tenant TenantID, eventID uuid.UUID, resource *Calendar) (*ResourceAllocation, error) {
	if eventID == uuid.Nil {
		return nil, ErrMissingEvent
	}
	if err := SameTenant(tenant, resource.Tenant()); err != nil {
		return nil, err
	}
	if !resource.IsResource() {
		return nil, ErrMissingResource
	}
	entity, err := NewBaseEntity(tenant)
	if err != nil {
		return nil, err
	}
	return &ResourceAllocation{
		BaseEntity:         entity,
		eventID:            eventID,
		resourceCalendarID: resource.ID(),
		status:             RSVPPending,
	}, nil
}

func (a *ResourceAllocation) EventID() uuid.UUID            { return a.eventID }
func (a *ResourceAllocation) ResourceCalendarID() uuid.UUID { return a.resourceCalendarID }
func (a *ResourceAllocation) Status() RSVPStatus            { return a.status }

// SetStatus updates the allocation status; unknown values become pending.
func (a *ResourceAllocation) SetStatus(status RSVPStatus) {
	if !status.IsValid() {
		status = RSVPPending
	}
	if a.status != status {
		a.status = status
		a.Touch()
	}
}

// RehydrateResourceAllocation recreates an allocation from persisted data.
func RehydrateResourceAllocation(entity BaseEntity, eventID, resourceCalendarID uuid.UUID, status RSVPStatus) *ResourceAllocation {
	return &ResourceAllocation{BaseEntity: entity, eventID: eventID, resourceCalendarID: resourceCalendarID, status: status}
}
