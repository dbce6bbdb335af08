package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTenantID(t *testing.T) {
	id := uuid.New()
	tenant, err := NewTenantID(id)
	require.NoError(t, err)
	assert.Equal(t, id, tenant.UUID())
	assert.False(t, tenant.IsZero())
}

func TestNewTenantID_Nil(t *testing.T) {
	_, err := NewTenantID(uuid.Nil)
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestSameTenant(t *testing.T) {
	a := MustTenantID(uuid.New())
	b := MustTenantID(uuid.New())

	assert.NoError(t, SameTenant(a, a))
	assert.ErrorIs(t, SameTenant(a, b), ErrTenantViolation)
	assert.ErrorIs(t, SameTenant(a, TenantID{}), ErrMissingTenant)
}

func TestNewBaseEntity_RequiresTenant(t *testing.T) {
	_, err := NewBaseEntity(TenantID{})
	assert.ErrorIs(t, err, ErrMissingTenant)

	tenant := MustTenantID(uuid.New())
	entity, err := NewBaseEntity(tenant)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, entity.ID())
	assert.Equal(t, tenant, entity.Tenant())
	assert.False(t, entity.CreatedAt().IsZero())
}

func TestBaseEntity_Equals_DifferentTenant(t *testing.T) {
	tenantA := MustTenantID(uuid.New())
	tenantB := MustTenantID(uuid.New())

	now := time.Now().UTC()
	id := uuid.New()
	a := RehydrateBaseEntity(id, tenantA, now, now)
	b := RehydrateBaseEntity(id, tenantB, now, now)

	assert.False(t, a.Equals(b))
	assert.True(t, a.Equals(a))
}

func TestBaseAggregateRoot_Events(t *testing.T) {
	tenant := MustTenantID(uuid.New())
	root, err := NewBaseAggregateRoot(tenant)
	require.NoError(t, err)

	assert.Empty(t, root.DomainEvents())
	root.AddDomainEvent(NewBaseEvent(root.ID(), tenant, "test", "test.created"))
	assert.Len(t, root.DomainEvents(), 1)
	root.ClearDomainEvents()
	assert.Empty(t, root.DomainEvents())
}
