package nvver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDriver(t *testing.T) {
	v, err := ParseDriver("590.48.01")
	require.NoError(t, err)
	assert.Equal(t, 590, v.Major)
	assert.Equal(t, 48, v.Minor)
	assert.Equal(t, 1, v.Patch)
	assert.Equal(t, "590.48.01", v.String())
}

func TestParseDriver_Invalid(t *testing.T) {
	for _, input := range []string{"", "590", "590.48", "590.48.01-p2p", "v590.48.01", "590.48.01.2"} {
		_, err := ParseDriver(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestExtractDriver(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"nvidia-590.48.01-6.12.54-Unraid-1.txz", "590.48.01"},
		{"nvidia-580.82.07-6.6.33-Unraid-1.txz", "580.82.07"},
		{"nvidia-550.100.03.txz", "550.100.03"},
	}
	for _, tt := range tests {
		v, err := ExtractDriver(tt.filename)
		require.NoError(t, err, tt.filename)
		assert.Equal(t, tt.want, v.String(), tt.filename)
	}
}

func TestExtractDriver_NoVersion(t *testing.T) {
	_, err := ExtractDriver("nvidia-latest.txz")
	assert.Error(t, err)
}

func TestCompare_NumericNotLexicographic(t *testing.T) {
	a, err := ParseDriver("590.9.1")
	require.NoError(t, err)
	b, err := ParseDriver("590.10.0")
	require.NoError(t, err)

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestCompare_LeadingZeros(t *testing.T) {
	a, err := ParseDriver("590.48.01")
	require.NoError(t, err)
	b, err := ParseDriver("590.48.1")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestLatest(t *testing.T) {
	var versions []DriverVersion
	for _, s := range []string{"570.133.07", "590.9.1", "590.48.01", "580.82.07"} {
		v, err := ParseDriver(s)
		require.NoError(t, err)
		versions = append(versions, v)
	}

	latest, ok := Latest(versions)
	require.True(t, ok)
	assert.Equal(t, "590.48.01", latest.String())

	_, ok = Latest(nil)
	assert.False(t, ok)
}

func TestSort(t *testing.T) {
	var versions []DriverVersion
	for _, s := range []string{"590.48.01", "570.133.07", "590.9.1"} {
		v, err := ParseDriver(s)
		require.NoError(t, err)
		versions = append(versions, v)
	}

	Sort(versions)

	assert.Equal(t, "570.133.07", versions[0].String())
	assert.Equal(t, "590.9.1", versions[1].String())
	assert.Equal(t, "590.48.01", versions[2].String())
}

func TestPatchBranch(t *testing.T) {
	v, err := ParseDriver("590.48.01")
	require.NoError(t, err)
	assert.Equal(t, "590.48.01-p2p", v.PatchBranch())
}

func TestDriverFromBranch(t *testing.T) {
	v, ok := DriverFromBranch("590.48.01-p2p")
	require.True(t, ok)
	assert.Equal(t, "590.48.01", v.String())

	_, ok = DriverFromBranch("main")
	assert.False(t, ok)

	_, ok = DriverFromBranch("feature/something-p2p")
	assert.False(t, ok)
}

func TestParseKernel(t *testing.T) {
	k, err := ParseKernel("6.12.54-Unraid")
	require.NoError(t, err)
	assert.Equal(t, "6.12.54-Unraid", k.Full)
	assert.Equal(t, "6.12.54", k.Short)
	assert.Equal(t, "Unraid", k.Suffix)
}

func TestParseKernel_NoSuffix(t *testing.T) {
	k, err := ParseKernel("6.6.33")
	require.NoError(t, err)
	assert.Equal(t, "6.6.33", k.Full)
	assert.Equal(t, "6.6.33", k.Short)
	assert.Empty(t, k.Suffix)
}

func TestParseKernel_Invalid(t *testing.T) {
	for _, input := range []string{"", "Unraid", "6.12", "x6.12.54"} {
		_, err := ParseKernel(input)
		assert.Error(t, err, "input %q", input)
	}
}
