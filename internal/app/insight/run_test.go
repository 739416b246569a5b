package insight

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-voice/internal/domain"
)

func newTestRun(seen *[]State) *run {
	return &run{
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		observe: func(s State) { *seen = append(*seen, s) },
	}
}

func TestRunMovesForwardOneStep(t *testing.T) {
	var seen []State
	r := newTestRun(&seen)

	assert.ErrorIs(t, r.enter(StateAnalyzing), domain.ErrInvalidTransition)
	require.NoError(t, r.enter(StateTranscribing))
	assert.ErrorIs(t, r.enter(StateTranscribing), domain.ErrInvalidTransition)
	require.NoError(t, r.enter(StateAnalyzing))
	require.NoError(t, r.enter(StateSynthesizing))
	require.NoError(t, r.enter(StateComplete))
	assert.ErrorIs(t, r.enter(StateFailed), domain.ErrInvalidTransition)

	assert.Equal(t, []State{StateTranscribing, StateAnalyzing, StateSynthesizing, StateComplete}, seen)
}

func TestRunFailIsTerminal(t *testing.T) {
	var seen []State
	r := newTestRun(&seen)

	require.NoError(t, r.enter(StateTranscribing))
	err := r.fail(domain.StageTranscribing, domain.ErrTranscriptionFailed, errors.New("boom"))
	assert.ErrorIs(t, err, domain.ErrTranscriptionFailed)

	assert.ErrorIs(t, r.enter(StateAnalyzing), domain.ErrInvalidTransition)
	assert.Equal(t, []State{StateTranscribing, StateFailed}, seen)
}
