package domain

import (
	"time"

	"github.com/google/uuid"
)

// Entity is a domain object with identity and lifecycle timestamps.
type Entity interface {
	ID() uuid.UUID
	Tenant() TenantID
	CreatedAt() time.Time
	UpdatedAt() time.Time
}

// BaseEntity provides identity, tenant ownership and timestamps. Embedding
// types cannot exist without a tenant: the only constructors take one.
type BaseEntity struct {
	id        uuid.UUID
	tenant    TenantID
	createdAt time.Time
	updatedAt time.Time
}

// NewBaseEntity creates an entity owned by the given tenant with a generated
// ID and current timestamps.
func NewBaseEntity(tenant TenantID) (BaseEntity, error) {
	if tenant.IsZero() {
		return BaseEntity{}, ErrMissingTenant
	}
	now := time.Now().UTC()
	return BaseEntity{
		id:        uuid.New(),
		tenant:    tenant,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// RehydrateBaseEntity recreates an entity from persisted state. It records no
// events and performs no validation beyond what persistence already enforced.
func RehydrateBaseEntity(id uuid.UUID, tenant TenantID, createdAt, updatedAt time.Time) BaseEntity {
	return BaseEntity{
		id:        id,
		tenant:    tenant,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

func (e BaseEntity) ID() uuid.UUID        { return e.id }
func (e BaseEntity) Tenant() TenantID     { return e.tenant }
func (e BaseEntity) CreatedAt() time.Time { return e.createdAt }
func (e BaseEntity) UpdatedAt() time.Time { return e.updatedAt }

// Touch updates the updatedAt timestamp.
func (e *BaseEntity) Touch() {
	e.updatedAt = time.Now().UTC()
}

// Equals checks identity, including tenant. Two entities with the same uuid
// in different tenants are never equal.
func (e BaseEntity) Equals(other Entity) bool {
	if other == nil {
		return false
	}
	return e.id == other.ID() && e.tenant.Equals(other.Tenant())
}
