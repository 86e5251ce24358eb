package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewIDUniqueAndParseable(t *testing.T) {
	t.Parallel()

	gen := New()
	first, err := gen.NewID()
	require.NoError(t, err)
	second, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	for _, id := range []string{first, second} {
		parsed, err := goUUID.Parse(id)
		require.NoError(t, err)
		require.Equal(t, goUUID.Version(7), parsed.Version())
	}
}

func TestRawIDsSortRoughlyByTime(t *testing.T) {
	t.Parallel()

	gen := New()
	a, err := gen.NewRawID()
	require.NoError(t, err)
	b, err := gen.NewRawID()
	require.NoError(t, err)
	// v7 embeds a millisecond timestamp prefix, so later IDs never sort
	// before IDs minted more than a millisecond earlier.
	ta, tb := a.Time(), b.Time()
	require.LessOrEqual(t, int64(ta), int64(tb))
}
