package stores

import (
	"strings"
	"testing"

	"github.com/panyam/possession"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBundle() *possession.Bundle {
	return &possession.Bundle{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		Identity: possession.Identity{
			RestaurantID:   "r-42",
			RestaurantName: "Blue Door Bistro",
			UserID:         "u-7",
			Role:           "manager",
		},
	}
}

func TestEncodeDecode_Plain(t *testing.T) {
	data, err := Encode(sampleBundle(), nil)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Blue Door Bistro")

	got, err := Decode(data, nil)
	require.NoError(t, err)
	assert.Equal(t, sampleBundle(), got)
}

func TestEncodeDecode_Sealed(t *testing.T) {
	sealer, err := NewSealer("correct horse battery staple")
	require.NoError(t, err)

	data, err := Encode(sampleBundle(), sealer)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "refresh-456")
	assert.NotContains(t, string(data), "Blue Door Bistro")

	got, err := Decode(data, sealer)
	require.NoError(t, err)
	assert.Equal(t, sampleBundle(), got)
}

func TestDecode_Errors(t *testing.T) {
	sealer, err := NewSealer("right key")
	require.NoError(t, err)
	other, err := NewSealer("wrong key")
	require.NoError(t, err)

	sealed, err := Encode(sampleBundle(), sealer)
	require.NoError(t, err)

	_, err = Decode(sealed, nil)
	assert.ErrorIs(t, err, ErrSealed)

	_, err = Decode(sealed, other)
	assert.ErrorIs(t, err, ErrUnseal)

	_, err = Decode([]byte(`{"version":2}`), nil)
	assert.ErrorContains(t, err, "unsupported")

	_, err = Decode([]byte("not json"), nil)
	assert.Error(t, err)
}

func TestDecode_PlainAcceptedWithSealer(t *testing.T) {
	sealer, err := NewSealer("key")
	require.NoError(t, err)

	data, err := Encode(sampleBundle(), nil)
	require.NoError(t, err)

	got, err := Decode(data, sealer)
	require.NoError(t, err)
	assert.Equal(t, "access-123", got.AccessToken)
}

func TestSealer(t *testing.T) {
	_, err := NewSealer("")
	assert.Error(t, err)

	sealer, err := NewSealer("key")
	require.NoError(t, err)

	a, err := sealer.Seal([]byte("same input"))
	require.NoError(t, err)
	b, err := sealer.Seal([]byte("same input"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonces must differ")

	_, err = sealer.Open([]byte(strings.Repeat("x", 10)))
	assert.ErrorIs(t, err, ErrUnseal)

	a[len(a)-1] ^= 0xff
	_, err = sealer.Open(a)
	assert.ErrorIs(t, err, ErrUnseal)
}
