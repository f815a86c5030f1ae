package session

import (
	"encoding/base64"
	"encoding/json"

	"classtrack/internal/apperr"
)

// CheckinToken is the payload distributed to students as a QR code. It is
// a view over a session, never persisted, and carries no secret: who may
// request one is enforced by the registry, not by the encoding.
type CheckinToken struct {
	SessionID   int64  `json:"session_id"`
	SessionCode string `json:"session_code"`
	ExpiryTime  string `json:"expiry_time"`
}

// Encode serializes the token into an opaque, scannable string.
func (t CheckinToken) Encode() (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidInput, err, "encode token")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken reverses Encode. decode(encode(x)) == x for every valid x.
func DecodeToken(payload string) (CheckinToken, error) {
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return CheckinToken{}, apperr.New(apperr.KindInvalidInput, "token is not valid base64")
	}
	var t CheckinToken
	if err := json.Unmarshal(raw, &t); err != nil {
		return CheckinToken{}, apperr.New(apperr.KindInvalidInput, "token payload is not valid JSON")
	}
	return t, nil
}
