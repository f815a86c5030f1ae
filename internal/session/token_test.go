package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classtrack/internal/apperr"
)

func TestTokenRoundTrip(t *testing.T) {
	tok := CheckinToken{
		SessionID:   7,
		SessionCode: "SESSION_1700000000",
		ExpiryTime:  "2025-01-01 10:00:00",
	}
	encoded, err := tok.Encode()
	require.NoError(t, err)

	decoded, err := DecodeToken(encoded)
	require.NoError(t, err)
	assert.Equal(t, tok, decoded)
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	_, err := DecodeToken("not base64!!!")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	// Valid base64, invalid JSON payload.
	_, err = DecodeToken("bm90IGpzb24")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}
