package persona_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-voice/internal/adapters/storage/memory"
	"github.com/PabloGalante/farum-voice/internal/app/persona"
	"github.com/PabloGalante/farum-voice/internal/domain"
)

func TestResolveBuiltIn(t *testing.T) {
	reg := persona.NewRegistry(memory.NewPersonaStore())

	got, err := reg.Resolve(context.Background(), domain.Guest(), domain.BuiltIn(persona.VoiceSpark))
	require.NoError(t, err)
	assert.Equal(t, "Spark", got.Name)
	assert.Equal(t, persona.VoiceSpark, got.VoiceID)
	assert.False(t, got.Fallback)
}

func TestResolveFallsBack(t *testing.T) {
	reg := persona.NewRegistry(memory.NewPersonaStore())
	ctx := context.Background()

	for _, sel := range []domain.VoiceSelection{
		{},
		domain.BuiltIn("unknown-voice"),
		domain.Custom("missing"),
	} {
		got, err := reg.Resolve(ctx, domain.Guest(), sel)
		require.NoError(t, err, sel.String())
		assert.True(t, got.Fallback, sel.String())
		assert.Equal(t, persona.DefaultInstruction, got.Instruction)
		assert.Equal(t, persona.DefaultVoice(), got.VoiceID)
	}
}

func TestCustomPersonasAreIdentityScoped(t *testing.T) {
	ctx := context.Background()
	reg := persona.NewRegistry(memory.NewPersonaStore())
	alice := domain.User("alice")

	nova := &domain.Persona{ID: "p-nova", Name: "Nova", Instruction: "be bright", VoiceID: "v-nova", Custom: true}
	require.NoError(t, reg.Add(ctx, alice, nova))

	got, err := reg.Resolve(ctx, alice, domain.Custom("p-nova"))
	require.NoError(t, err)
	assert.Equal(t, "be bright", got.Instruction)
	assert.Equal(t, domain.VoiceID("v-nova"), got.VoiceID)

	// A custom voice passed as a built-in selection still resolves.
	got, err = reg.Resolve(ctx, alice, domain.BuiltIn("v-nova"))
	require.NoError(t, err)
	assert.Equal(t, domain.PersonaID("p-nova"), got.PersonaID)

	guest, err := reg.Resolve(ctx, domain.Guest(), domain.Custom("p-nova"))
	require.NoError(t, err)
	assert.True(t, guest.Fallback)

	all, err := reg.List(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, all, len(persona.BuiltIns())+1)
}

func TestAddAndDeleteRules(t *testing.T) {
	ctx := context.Background()
	reg := persona.NewRegistry(memory.NewPersonaStore())
	id := domain.Guest()

	err := reg.Add(ctx, id, &domain.Persona{ID: "x", Name: "NotCustom"})
	assert.ErrorIs(t, err, domain.ErrBuiltInPersona)

	err = reg.Delete(ctx, id, persona.BuiltIns()[0].ID)
	assert.ErrorIs(t, err, domain.ErrBuiltInPersona)

	err = reg.Delete(ctx, id, "missing")
	assert.ErrorIs(t, err, domain.ErrPersonaNotFound)

	require.NoError(t, reg.Add(ctx, id, &domain.Persona{ID: "p1", Name: "One", Custom: true}))
	require.NoError(t, reg.Delete(ctx, id, "p1"))

	_, err = reg.Get(ctx, id, "p1")
	assert.ErrorIs(t, err, domain.ErrPersonaNotFound)
}

func TestSelectionFor(t *testing.T) {
	assert.Equal(t, domain.Custom("p1"), persona.SelectionFor(&domain.JournalEntry{PersonaID: "p1", VoiceID: "v"}))
	assert.Equal(t, domain.BuiltIn(persona.VoiceSage),
		persona.SelectionFor(&domain.JournalEntry{PersonaID: "builtin-sage", VoiceID: persona.VoiceSage}))
	assert.Equal(t, domain.BuiltIn("v"), persona.SelectionFor(&domain.JournalEntry{VoiceID: "v"}))
}
