package httpadapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-voice/internal/app/persona"
	"github.com/PabloGalante/farum-voice/internal/domain"
)

func TestInflightRejectsSecondAcquire(t *testing.T) {
	f := newInflight()

	release, ok := f.acquire("entry:guest:e1")
	require.True(t, ok)

	_, ok = f.acquire("entry:guest:e1")
	assert.False(t, ok)

	other, ok := f.acquire("entry:guest:e2")
	require.True(t, ok)
	other()

	release()
	again, ok := f.acquire("entry:guest:e1")
	require.True(t, ok)
	again()
}

func TestDraftsAreOwnedAndExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := newDraftStore()
	d.now = func() time.Time { return now }

	alice := domain.User("alice")
	key := d.put(alice, &persona.Workflow{})

	_, err := d.get(domain.Guest(), key)
	assert.ErrorIs(t, err, domain.ErrDraftNotFound)

	_, err = d.get(alice, key)
	require.NoError(t, err)

	now = now.Add(draftTTL + time.Minute)
	_, err = d.get(alice, key)
	assert.ErrorIs(t, err, domain.ErrDraftNotFound)
}

func TestAuthenticatorRejectsExpiredTokens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewAuthenticator("s")
	a.now = func() time.Time { return now }

	token, err := a.Sign("bob", time.Minute)
	require.NoError(t, err)

	id, err := a.Identify("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, domain.User("bob"), id)

	guest, err := a.Identify("")
	require.NoError(t, err)
	assert.True(t, guest.IsGuest())

	now = now.Add(2 * time.Minute)
	_, err = a.Identify("Bearer " + token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.Identify("Basic abc")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
