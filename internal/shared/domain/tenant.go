package domain

import (
	"errors"

	"github.com/google/uuid"
)

// Tenant-safety errors. ErrTenantViolation marks a programmer error: an
// operation tried to cross the tenant boundary. It is never recovered.
var (
	ErrMissingTenant   = errors.New("tenant is required")
	ErrTenantViolation = errors.New("tenant violation: entities belong to different tenants")
)

// TenantID identifies the organization that owns an entity. Every entity in
// the calendar domain belongs to exactly one tenant, and every repository
// operation binds the tenant in both lookups and joins.
type TenantID struct {
	value uuid.UUID
}

// NewTenantID wraps a uuid as a TenantID.
func NewTenantID(id uuid.UUID) (TenantID, error) {
	if id == uuid.Nil {
		return TenantID{}, ErrMissingTenant
	}
	return TenantID{value: id}, nil
}

// MustTenantID is a test and rehydration helper that panics on the nil uuid.
func MustTenantID(id uuid.UUID) TenantID {
	t, err := NewTenantID(id)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTenantID parses a TenantID from its string form.
func ParseTenantID(s string) (TenantID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return TenantID{}, err
	}
	return NewTenantID(id)
}

// UUID returns the underlying uuid.
func (t TenantID) UUID() uuid.UUID { return t.value }

// String returns the canonical string form.
func (t TenantID) String() string { return t.value.String() }

// IsZero reports whether the TenantID was never set. A zero TenantID cannot
// be produced by NewTenantID, so any entity carrying one is a bug.
func (t TenantID) IsZero() bool { return t.value == uuid.Nil }

// Equals reports whether two tenant IDs refer to the same tenant.
func (t TenantID) Equals(other TenantID) bool { return t.value == other.value }

// SameTenant returns ErrMissingTenant when either ID is unset and
// ErrTenantViolation when the IDs differ.
// Call it before wiring any cross-entity reference.
func SameTenant(a, b TenantID) error {
	if a.IsZero() || b.IsZero() {
		return ErrMissingTenant
	}
	if !a.Equals(b) {
		return ErrTenantViolation
	}
	return nil
}
