package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Calendar validation errors.
var (
	ErrEmptyCalendarName      = errors.New("calendar name cannot be empty")
	ErrInvalidProvider        = errors.New("invalid calendar provider")
	ErrInvalidCalendarKind    = errors.New("invalid calendar kind")
	ErrNotBundleCalendar      = errors.New("calendar is not a bundle calendar")
	ErrEmptyBundle            = errors.New("bundle calendar has no child calendars")
	ErrPrimaryNotChild        = errors.New("primary calendar must be one of the child calendars")
	ErrBundleChildIsBundle    = errors.New("bundle calendars cannot contain other bundles")
	ErrWindowsNotManaged      = errors.New("calendar does not manage available windows")
	ErrExternalIDRequired     = errors.New("external calendars require an external id")
	ErrInvalidCapacity        = errors.New("capacity must be positive")
)

// Calendar is a bookable timeline owned by one tenant. It may mirror an
// external provider calendar (external_id set), represent an internal
// virtual calendar, or bundle a set of child calendars into one pool.
type Calendar struct {
	BaseAggregateRoot
	name                    string
	description             string
	email                   string
	externalID              string
	provider                CalendarProvider
	kind                    CalendarKind
	managesAvailableWindows bool
	capacity                *int
	childIDs                []uuid.UUID
	primaryChildID          *uuid.UUID
}

// CalendarSpec carries the inputs for creating a calendar.
type CalendarSpec struct {
	Name                    string
	Description             string
	Email                   string
	ExternalID              string
	Provider                CalendarProvider
	Kind                    CalendarKind
	ManagesAvailableWindows bool
	Capacity                *int
}

// NewCalendar creates a non-bundle calendar.
func NewCalendar(tenant TenantID, spec CalendarSpec) (*Calendar, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, ErrEmptyCalendarName
	}
	if !spec.Provider.IsValid() {
		return nil, ErrInvalidProvider
	}
	if !spec.Kind.IsValid() {
		return nil, ErrInvalidCalendarKind
	}
	if spec.Kind == KindBundle {
		return nil, fmt.Errorf("%w: use NewBundleCalendar", ErrInvalidCalendarKind)
	}
	if spec.Provider.IsExternal() && strings.TrimSpace(spec.ExternalID) == "" {
		return nil, ErrExternalIDRequired
	}
	if spec.Capacity != nil && *spec.Capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	root, err := NewBaseAggregateRoot(tenant)
	if err != nil {
		return nil, err
	}
	return &Calendar{
		BaseAggregateRoot:       root,
		name:                    spec.Name,
		description:             spec.Description,
		email:                   spec.Email,
		externalID:              spec.ExternalID,
		provider:                spec.Provider,
		kind:                    spec.Kind,
		managesAvailableWindows: spec.ManagesAvailableWindows,
		capacity:                spec.Capacity,
	}, nil
}

// NewBundleCalendar creates a bundle over the given children. All children
// must share the bundle's tenant and none may itself be a bundle. The
// primary, when set, must be a member of the children.
func NewBundleCalendar(tenant TenantID, name string, children []*Calendar, primaryChildID *uuid.UUID) (*Calendar, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyCalendarName
	}
	if len(children) == 0 {
		return nil, ErrEmptyBundle
	}

	childIDs := make([]uuid.UUID, 0, len(children))
	primaryFound := false
	for _, child := range children {
		if err := SameTenant(tenant, child.Tenant()); err != nil {
			return nil, err
		}
		if child.Kind() == KindBundle {
			return nil, ErrBundleChildIsBundle
		}
		childIDs = append(childIDs, child.ID())
		if primaryChildID != nil && child.ID() == *primaryChildID {
			primaryFound = true
		}
	}
	if primaryChildID != nil && !primaryFound {
		return nil, ErrPrimaryNotChild
	}

	root, err := NewBaseAggregateRoot(tenant)
	if err != nil {
		return nil, err
	}
	return &Calendar{
		BaseAggregateRoot: root,
		name:              name,
		provider:          ProviderInternal,
		kind:              KindBundle,
		childIDs:          childIDs,
		primaryChildID:    primaryChildID,
	}, nil
}

// Getters
func (c *Calendar) Name() string               { return c.name }
func (c *Calendar) Description() string        { return c.description }
func (c *Calendar) Email() string              { return c.email }
func (c *Calendar) ExternalID() string         { return c.externalID }
func (c *Calendar) Provider() CalendarProvider { return c.provider }
func (c *Calendar) Kind() CalendarKind         { return c.kind }

// ManagesAvailableWindows reports whether bookable time is defined by stored
// AvailableTime entries rather than derived from gaps.
func (c *Calendar) ManagesAvailableWindows() bool { return c.managesAvailableWindows }

// Capacity returns the bookable capacity, or nil when uncapped.
func (c *Calendar) Capacity() *int {
	if c.capacity == nil {
		return nil
	}
	v := *c.capacity
	return &v
}

// IsBundle reports whether this calendar is a bundle.
func (c *Calendar) IsBundle() bool { return c.kind == KindBundle }

// IsResource reports whether this calendar represents a bookable resource.
func (c *Calendar) IsResource() bool { return c.kind == KindResource }

// ChildIDs returns the bundle children in stable order.
func (c *Calendar) ChildIDs() []uuid.UUID { return append([]uuid.UUID(nil), c.childIDs...) }

// PrimaryChildID returns the designated primary child, or nil.
func (c *Calendar) PrimaryChildID() *uuid.UUID {
	if c.primaryChildID == nil {
		return nil
	}
	id := *c.primaryChildID
	return &id
}

// Rename updates the display name.
func (c *Calendar) Rename(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyCalendarName
	}
	if c.name != name {
		c.name = name
		c.Touch()
	}
	return nil
}

// SetDescription updates the description.
func (c *Calendar) SetDescription(description string) {
	if c.description != description {
		c.description = description
		c.Touch()
	}
}

// SetManagesAvailableWindows toggles explicit availability management.
func (c *Calendar) SetManagesAvailableWindows(managed bool) {
	if c.managesAvailableWindows != managed {
		c.managesAvailableWindows = managed
		c.Touch()
	}
}

// RehydrateCalendar recreates a calendar from persisted data.
func RehydrateCalendar(
	root BaseAggregateRoot,
	spec CalendarSpec,
	kind CalendarKind,
	childIDs []uuid.UUID,
	primaryChildID *uuid.UUID,
) *Calendar {
	return &Calendar{
		BaseAggregateRoot:       root,
		name:                    spec.Name,
		description:             spec.Description,
		email:                   spec.Email,
		externalID:              spec.ExternalID,
		provider:                spec.Provider,
		kind:                    kind,
		managesAvailableWindows: spec.ManagesAvailableWindows,
		capacity:                spec.Capacity,
		childIDs:                append([]uuid.UUID(nil), childIDs...),
		primaryChildID:          primaryChildID,
	}
}
