package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("super-secret-jwt-token-with-at-least-32-characters")

func signToken(t *testing.T, claims Claims, key []byte, method jwt.SigningMethod) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims(userID string) Claims {
	return Claims{
		Email: "ada@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestIdentityFromHeader(t *testing.T) {
	userID := uuid.NewString()
	token := signToken(t, validClaims(userID), testKey, jwt.SigningMethodHS256)

	id, err := IdentityFromHeader("Bearer "+token, testKey)
	require.NoError(t, err)
	assert.Equal(t, userID, id.UserID)
	assert.Equal(t, "ada@example.com", id.Email)
}

func TestIdentityFromHeaderMissing(t *testing.T) {
	for _, h := range []string{"", "Bearer ", "Basic abc", "token"} {
		_, err := IdentityFromHeader(h, testKey)
		assert.ErrorIs(t, err, ErrMissingBearer, "header %q", h)
	}
}

func TestParseTokenRejects(t *testing.T) {
	userID := uuid.NewString()

	expired := validClaims(userID)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongAud := validClaims(userID)
	wrongAud.Audience = jwt.ClaimStrings{"anon"}

	badSubject := validClaims("service")

	cases := map[string]string{
		"wrong key":    signToken(t, validClaims(userID), []byte("another-key-another-key-another-key"), jwt.SigningMethodHS256),
		"expired":      signToken(t, expired, testKey, jwt.SigningMethodHS256),
		"wrong aud":    signToken(t, wrongAud, testKey, jwt.SigningMethodHS256),
		"bad subject":  signToken(t, badSubject, testKey, jwt.SigningMethodHS256),
		"wrong method": signToken(t, validClaims(userID), testKey, jwt.SigningMethodHS512),
		"not a jwt":    "abc.def.ghi",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(token, testKey)
			assert.Error(t, err)
		})
	}
}
