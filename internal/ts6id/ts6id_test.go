package ts6id

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUIDRoundTripKnownValues(t *testing.T) {
	cases := []struct {
		counter uint64
		token   string
	}{
		{1, "AAAAAA"},
		{2, "AAAAAB"},
		{26, "AAAAAZ"},
		{27, "AAAAA0"},
		{36, "AAAAA9"},
		{37, "AAAABA"},
	}
	for _, c := range cases {
		got, err := EncodeUID(c.counter)
		require.NoError(t, err)
		require.Equal(t, c.token, got)

		back, err := DecodeUID(c.token)
		require.NoError(t, err)
		require.Equal(t, c.counter, back)
	}
}

func TestUIDRoundTripAllTokens(t *testing.T) {
	// Exhaustively checking all 36^6 tokens is too slow for a unit
	// test; sample across the space instead, per spec.md §8's
	// round-trip property.
	for n := uint64(1); n <= 2000; n++ {
		token, err := EncodeUID(n)
		require.NoError(t, err)
		require.True(t, ValidUID(token))
		back, err := DecodeUID(token)
		require.NoError(t, err)
		require.Equal(t, n, back)
	}
	for n := uint64(maxCount - 2000); n <= maxCount; n++ {
		token, err := EncodeUID(n)
		require.NoError(t, err)
		back, err := DecodeUID(token)
		require.NoError(t, err)
		require.Equal(t, n, back)
	}
}

func TestEncodeUIDDecodeEncodeFromToken(t *testing.T) {
	tokens := []string{"AAAAAA", "ZZZZZZ", "999999", "A1B2C3", "0AZ9KL"}
	for _, tok := range tokens {
		n, err := DecodeUID(tok)
		require.NoError(t, err)
		back, err := EncodeUID(n)
		require.NoError(t, err)
		require.Equal(t, tok, back)
	}
}

func TestEncodeUIDRange(t *testing.T) {
	_, err := EncodeUID(0)
	require.ErrorIs(t, err, ErrCounterRange)

	_, err = EncodeUID(maxCount + 1)
	require.ErrorIs(t, err, ErrCounterRange)
}

func TestDecodeUIDInvalid(t *testing.T) {
	for _, bad := range []string{"", "AAAAA", "AAAAAAA", "aaaaaa", "AAA AA", "AAA!AA"} {
		_, err := DecodeUID(bad)
		require.ErrorIs(t, err, ErrInvalidUID)
	}
}

func TestSIDRoundTrip(t *testing.T) {
	for sid := uint32(0); sid <= 999; sid += 7 {
		token, err := EncodeSID(sid)
		require.NoError(t, err)
		require.True(t, ValidSID(token))
		back, err := DecodeSID(token)
		require.NoError(t, err)
		require.Equal(t, sid, back)
	}
}

func TestEncodeSIDOutOfRange(t *testing.T) {
	_, err := EncodeSID(1000)
	require.ErrorIs(t, err, ErrNonNumericSID)
}

func TestDecodeSIDNonNumeric(t *testing.T) {
	_, err := DecodeSID("0AZ")
	require.ErrorIs(t, err, ErrNonNumericSID)
}

func TestValidSID(t *testing.T) {
	require.True(t, ValidSID("000"))
	require.True(t, ValidSID("9ZZ"))
	require.False(t, ValidSID("A00"))
	require.False(t, ValidSID("00"))
	require.False(t, ValidSID("0000"))
}

func TestFullUID(t *testing.T) {
	require.Equal(t, "001AAAAAB", FullUID("001", "AAAAAB"))
}
