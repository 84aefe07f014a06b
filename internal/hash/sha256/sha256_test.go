package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"text", []byte("hello world"), "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
		{"empty", nil, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := New().Hash(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestHasherDetectsChange(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte("<html>v1</html>"))
	require.NoError(t, err)
	again, err := h.Hash([]byte("<html>v1</html>"))
	require.NoError(t, err)
	b, err := h.Hash([]byte("<html>v2</html>"))
	require.NoError(t, err)
	require.Equal(t, a, again)
	require.NotEqual(t, a, b)
}
