package bridge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorChecksum(t *testing.T) {
	sum, err := DescriptorChecksum("raw(deadbeef)")
	require.NoError(t, err)
	require.Len(t, sum, 8)
	for _, c := range sum {
		assert.True(t, strings.ContainsRune(descChecksumCharset, c),
			"checksum char %q outside charset", c)
	}

	// Deterministic, and sensitive to any body change.
	again, err := DescriptorChecksum("raw(deadbeef)")
	require.NoError(t, err)
	assert.Equal(t, sum, again)

	other, err := DescriptorChecksum("raw(deadbeee)")
	require.NoError(t, err)
	assert.NotEqual(t, sum, other)

	_, err = DescriptorChecksum("raw(Ω)")
	assert.Error(t, err)
}

func TestWithChecksum(t *testing.T) {
	full, err := WithChecksum("tr(0000000000000000000000000000000000000000000000000000000000000001)")
	require.NoError(t, err)
	parts := strings.SplitN(full, "#", 2)
	require.Len(t, parts, 2)
	assert.Len(t, parts[1], 8)

	sum, err := DescriptorChecksum(parts[0])
	require.NoError(t, err)
	assert.Equal(t, sum, parts[1])
}

func TestTrDescriptor(t *testing.T) {
	keyExpr := "[f00dbabe/86'/0'/0']xprv9s21ZrQH143K3QTDL4LXw2F7HEK3wJUD2nW2nRk4stbPy6cq3jPPqjiChkVvvNKmPGJxWUtg6LnF5kejMRNNU3TGtRBeJgk33yuGBxrMPHi/0/*"
	desc, err := TrDescriptor(keyExpr)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(desc, "tr("+keyExpr+")#"))

	body := strings.SplitN(desc, "#", 2)
	sum, err := DescriptorChecksum(body[0])
	require.NoError(t, err)
	assert.Equal(t, sum, body[1])
}
