package entitlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-voice/internal/adapters/storage/memory"
	"github.com/PabloGalante/farum-voice/internal/app/entitlement"
	"github.com/PabloGalante/farum-voice/internal/domain"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newGate(c *clock) (*entitlement.Gate, *memory.EntitlementStore) {
	store := memory.NewEntitlementStore()
	return entitlement.NewGate(store, 3, entitlement.WithClock(c.now)), store
}

func TestFreeTierCountsDown(t *testing.T) {
	ctx := context.Background()
	g, _ := newGate(&clock{t: time.Now()})
	id := domain.Guest()

	for want := 3; want > 0; want-- {
		rem, err := g.Remaining(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.Remaining{Count: want}, rem)

		ok, err := g.CanCreate(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, g.RecordCreation(ctx, id))
	}

	ok, err := g.CanCreate(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	rem, _ := g.Remaining(ctx, id)
	assert.Equal(t, 0, rem.Count)

	err = g.Check(ctx, id)
	assert.ErrorIs(t, err, domain.ErrEntitlementExceeded)

	// Other identities have their own bucket.
	ok, err = g.CanCreate(ctx, domain.User("alice"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRemainingNeverNegative(t *testing.T) {
	ctx := context.Background()
	g, store := newGate(&clock{t: time.Now()})
	id := domain.User("bob")

	require.NoError(t, store.SaveEntitlement(ctx, id, domain.EntitlementState{EntryCount: 7}))
	rem, err := g.Remaining(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, rem.Count)
	assert.False(t, rem.Unbounded)
}

func TestPremiumBypassesLimitUntilExpiry(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
	g, store := newGate(c)
	id := domain.User("carol")

	require.NoError(t, store.SaveEntitlement(ctx, id, domain.EntitlementState{EntryCount: 3}))

	st, err := g.ActivatePremium(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC), st.PremiumExpiry)

	ok, err := g.CanCreate(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	rem, _ := g.Remaining(ctx, id)
	assert.True(t, rem.Unbounded)

	c.t = st.PremiumExpiry
	premium, err := g.IsPremium(ctx, id)
	require.NoError(t, err)
	assert.False(t, premium)

	// The expired state was written back.
	saved, err := store.LoadEntitlement(ctx, id)
	require.NoError(t, err)
	assert.False(t, saved.Premium)
	assert.Equal(t, 3, saved.EntryCount)

	ok, _ = g.CanCreate(ctx, id)
	assert.False(t, ok)
}

func TestActivatePremiumExtendsActiveSubscription(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	g, _ := newGate(c)
	id := domain.Guest()

	_, err := g.ActivatePremium(ctx, id, 1)
	require.NoError(t, err)

	c.t = c.t.AddDate(0, 0, 10)
	st, err := g.ActivatePremium(ctx, id, 2)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), st.PremiumExpiry)

	_, err = g.ActivatePremium(ctx, id, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidDuration)
}

func TestZeroLimitAllowsOnlyPremium(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	g := entitlement.NewGate(memory.NewEntitlementStore(), 0, entitlement.WithClock(c.now))
	id := domain.User("frank")

	assert.Equal(t, 0, g.Limit())
	ok, err := g.CanCreate(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, g.Check(ctx, id), domain.ErrEntitlementExceeded)

	_, err = g.ActivatePremium(ctx, id, 1)
	require.NoError(t, err)
	ok, err = g.CanCreate(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}
