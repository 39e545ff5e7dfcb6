package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/types"
)

func TestCallHash(t *testing.T) {
	// md5("abc") = 900150983cd24fb0d6963f7d28e17f72
	assert.Equal(t, "900150", CallHash("abc"))
	assert.Len(t, CallHash("a84b4c76e66710@pc33.example.com"), 6)
	assert.Equal(t, CallHash("x@y"), CallHash("x@y"))
}

func TestSanitizeCallID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a84b4c76e66710@pc33", "a84b4c76e66710_pc33"},
		{`<a>:b"c/d\e|f?g*h`, "_a__b_c_d_e_f_g_h"},
		{"plain-id.123", "plain-id.123"},
		{"ctl\x00id\n", "ctl_id_"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeCallID(tt.in))
	}
}

func TestStreamAndFinalFilenames(t *testing.T) {
	start := time.Date(2025, 3, 14, 9, 5, 7, 0, time.UTC)

	name := StreamFilename(start, types.Out, "1427", "01012345678", "abc")
	assert.Equal(t, "090507_out_1427_01012345678_20250314_900150.wav", name)

	final := FinalFilename(start, "MERGE", "01077141436", "1427", "abc")
	assert.Equal(t, "20250314_MERGE_01077141436_1427_900150.wav", final)

	assert.Equal(t, filepath.Join("/save", "2025-03-14", "01077141436_1427"), CallDir("/save", start, "01077141436", "1427"))

	// Reproducible from the same inputs
	assert.Equal(t, final, FinalFilename(start, "MERGE", "01077141436", "1427", "abc"))
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()

	p, err := UniquePath(dir, "a.wav")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.wav"), p)

	require.NoError(t, os.WriteFile(p, nil, 0600))
	p, err = UniquePath(dir, "a.wav")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a_001.wav"), p)

	require.NoError(t, os.WriteFile(p, nil, 0600))
	p, err = UniquePath(dir, "a.wav")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, "a_002.wav"))
}

func TestUniquePath_Exhausted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.wav"), nil, 0600))
	for i := 1; i <= MaxCollisionSuffix; i++ {
		name := filepath.Join(dir, fmt.Sprintf("b_%03d.wav", i))
		require.NoError(t, os.WriteFile(name, nil, 0600))
	}

	_, err := UniquePath(dir, "b.wav")
	assert.ErrorIs(t, err, ErrNameExhausted)
}
