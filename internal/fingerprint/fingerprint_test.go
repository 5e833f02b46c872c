package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseFields() StableFields {
	return StableFields{
		Workspace:       "/home/agent/workspace",
		DefaultProvider: "anthropic",
		DefaultModel:    "claude-sonnet-4-5",
		GatewayHost:     "0.0.0.0",
	}
}

// TestFingerprintStableAcrossBoots covers spec §8 invariant 3: two
// consecutive boots with unchanged configuration and vault salt produce
// the identical fingerprint.
func TestFingerprintStableAcrossBoots(t *testing.T) {
	dir := t.TempDir()
	salt := []byte("a-stable-salt-hash")

	first, err := Compute(dir, baseFields(), salt)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, first.Status)

	second, err := Compute(dir, baseFields(), salt)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, second.Status)
	assert.Equal(t, first.Hex, second.Hex)
}

func TestFingerprintChangesWhenConfigDrifts(t *testing.T) {
	dir := t.TempDir()
	salt := []byte("salt")

	first, err := Compute(dir, baseFields(), salt)
	require.NoError(t, err)

	drifted := baseFields()
	drifted.DefaultModel = "claude-opus-4-1"
	second, err := Compute(dir, drifted, salt)
	require.NoError(t, err)

	assert.Equal(t, StatusChanged, second.Status)
	assert.NotEqual(t, first.Hex, second.Hex)

	// A third boot with the drifted config now verifies against itself.
	third, err := Compute(dir, drifted, salt)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, third.Status)
	assert.Equal(t, second.Hex, third.Hex)
}

func TestFingerprintChangesWhenSaltDiffers(t *testing.T) {
	dir := t.TempDir()
	a, err := Compute(dir, baseFields(), []byte("salt-a"))
	require.NoError(t, err)

	dir2 := t.TempDir()
	b, err := Compute(dir2, baseFields(), []byte("salt-b"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Hex, b.Hex)
}

func TestFingerprintHandlesEmptySalt(t *testing.T) {
	dir := t.TempDir()
	res, err := Compute(dir, baseFields(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	assert.Len(t, res.Hex, 64) // hex-encoded SHA-256
}
