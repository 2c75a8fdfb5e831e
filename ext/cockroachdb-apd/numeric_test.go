package numeric_test

import (
	"testing"

	numeric "github.com/anserdb/anser/ext/cockroachdb-apd"
	"github.com/cockroachdb/apd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	typ := numeric.Type()

	d, _, err := apd.NewFromString("3.14159265358979323846")
	require.NoError(t, err)

	rep, err := typ.Encoder()(d)
	require.NoError(t, err)
	assert.Equal(t, d.String(), rep)

	back, err := typ.Decoder()(rep)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Cmp(back.(*apd.Decimal)))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	typ := numeric.Type()
	_, err := typ.Decoder()("not-a-number")
	require.Error(t, err)
}
