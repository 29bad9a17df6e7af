package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	cases := []string{
		"1.2.3.4",
		"192.168.0.1",
		"::1",
		"2001:db8::1",
		"fe80::1",
	}
	for _, s := range cases {
		a, err := ParseAddress(s)
		require.NoError(t, err)
		assert.Equal(t, s, a.String())
	}
}

func TestAddressIsV4(t *testing.T) {
	a, err := ParseAddress("1.2.3.4")
	require.NoError(t, err)
	assert.True(t, a.IsV4())

	b, err := ParseAddress("::1")
	require.NoError(t, err)
	assert.False(t, b.IsV4())
}

func TestAddressMask(t *testing.T) {
	a, err := ParseAddress("192.168.1.200")
	require.NoError(t, err)

	masked, err := a.Mask(112 + 24)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.0", masked.String())

	_, err = a.Mask(129)
	assert.Error(t, err)

	_, err = a.Mask(128)
	assert.NoError(t, err)
}

func TestPortString(t *testing.T) {
	p := Port{Number: 443, Protocol: ProtocolTCP}
	assert.Equal(t, "443/tcp", p.String())
}
