package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	j := NewJWT("s3cret", time.Hour)
	tok, err := j.Generate("acc-1", "driver")
	require.NoError(t, err)

	c, err := j.Validate("Bearer " + tok)
	require.NoError(t, err)
	require.Equal(t, "acc-1", c.Actor())
	require.Equal(t, "driver", c.Role)
}

func TestValidateRejects(t *testing.T) {
	j := NewJWT("s3cret", time.Hour)
	tok, err := j.Generate("acc-1", "")
	require.NoError(t, err)

	_, err = NewJWT("other", time.Hour).Validate(tok)
	require.True(t, errors.Is(err, ErrInvalidToken), "wrong secret")

	_, err = j.Validate("")
	require.True(t, errors.Is(err, ErrInvalidToken))

	j.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = j.Validate(tok)
	require.True(t, errors.Is(err, ErrInvalidToken), "expired")

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = NewJWT("s3cret", time.Hour).Validate(none)
	require.True(t, errors.Is(err, ErrInvalidToken))
}

func TestActorFallsBackToSubject(t *testing.T) {
	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"}}
	require.Equal(t, "sub-1", c.Actor())
}
