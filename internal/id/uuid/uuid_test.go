package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
	require.True(t, Valid(id2))
}

func TestValid(t *testing.T) {
	t.Parallel()

	require.False(t, Valid(""))
	require.False(t, Valid("job-1"))
	require.True(t, Valid("0190b6a2-6f1e-7c3a-9a55-3d2f0e4b8c11"))
}
