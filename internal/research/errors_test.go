package research

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/provider"
)

func TestStageErrorUnwrapsKindAndCause(t *testing.T) {
	cause := provider.FromStatus("openai", 429, errors.New("slow down"))
	err := NewStageError(ErrSynthesis, "failed to write the detailed report", cause)

	require.ErrorIs(t, err, ErrSynthesis)
	require.ErrorIs(t, err, provider.ErrRateLimited)
	require.Equal(t, "failed to write the detailed report", PublicMessage(err))
	require.Contains(t, err.Error(), "slow down")
	require.Equal(t, "research run failed", PublicMessage(errors.New("secret upstream detail")))
}

func TestKindNames(t *testing.T) {
	for _, kind := range []error{ErrValidation, ErrPlanning, ErrRetrieval, ErrExtraction, ErrSynthesis} {
		err := NewStageError(kind, "m", nil)
		name := KindName(err)
		require.NotEmpty(t, name)
		require.Equal(t, kind, KindByName(name))
		require.Equal(t, kind, KindOf(err))
	}
	require.Empty(t, KindName(errors.New("plain")))
	require.Nil(t, KindByName("Unknown"))
	require.Nil(t, KindOf(nil))
}
