package pqconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeBytea(t *testing.T) {
	assert.Equal(t, `\x`, EscapeBytea(nil))
	assert.Equal(t, `\xdeadbeef`, EscapeBytea([]byte{0xde, 0xad, 0xbe, 0xef}))
}

func TestUnescapeByteaHex(t *testing.T) {
	v, err := UnescapeBytea(`\xdeadbeef`)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, v)

	v, err = UnescapeBytea(`\x`)
	require.NoError(t, err)
	assert.Empty(t, v)

	_, err = UnescapeBytea(`\xzz`)
	require.Error(t, err)
}

func TestUnescapeByteaEscapeFormat(t *testing.T) {
	v, err := UnescapeBytea(`abc\\def\001`)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte("abc"), '\\'), append([]byte("def"), 0x01)...), v)

	_, err = UnescapeBytea(`trailing\`)
	require.Error(t, err)
}

func TestByteaRoundTrip(t *testing.T) {
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	v, err := UnescapeBytea(EscapeBytea(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, v)
}
