package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestValidateRoundTrip(t *testing.T) {
	req := require.New(t)
	v := NewValidator(testSecret)

	token, err := v.Generate("alice@example.com", "user", time.Hour)
	req.NoError(err)

	identity, expiry, err := v.Validate(token)
	req.NoError(err)
	req.Equal("alice@example.com", identity)
	req.WithinDuration(time.Now().Add(time.Hour), expiry, 5*time.Second)
}

func TestValidateRejections(t *testing.T) {
	req := require.New(t)
	v := NewValidator(testSecret)

	t.Run("malformed", func(t *testing.T) {
		_, _, err := v.Validate("not-a-jwt")
		req.ErrorIs(err, ErrMalformed)
	})

	t.Run("bad signature", func(t *testing.T) {
		other := NewValidator("another-secret-entirely-0000000000")
		token, err := other.Generate("alice@example.com", "user", time.Hour)
		req.NoError(err)

		_, _, err = v.Validate(token)
		req.ErrorIs(err, ErrBadSignature)
	})

	t.Run("expired", func(t *testing.T) {
		issued := NewValidator(testSecret)
		issued.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, err := issued.Generate("alice@example.com", "user", time.Hour)
		req.NoError(err)

		_, _, err = v.Validate(token)
		req.ErrorIs(err, ErrExpired)
	})
}

func TestValidateIsPureOfClock(t *testing.T) {
	// The same token must validate or fail based solely on the validator's
	// clock, with no cached verdicts.
	req := require.New(t)
	v := NewValidator(testSecret)
	token, err := v.Generate("bob@example.com", "user", time.Minute)
	req.NoError(err)

	_, _, err = v.Validate(token)
	req.NoError(err)

	v.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, _, err = v.Validate(token)
	req.ErrorIs(err, ErrExpired)
}

func TestBearerToken(t *testing.T) {
	req := require.New(t)

	token, err := BearerToken("Bearer abc.def.ghi")
	req.NoError(err)
	req.Equal("abc.def.ghi", token)

	for _, header := range []string{"", "abc.def.ghi", "Basic abc", "Bearer "} {
		_, err := BearerToken(header)
		req.ErrorIs(err, ErrMissingCredential, "header %q", header)
	}
}

func TestRejectionReason(t *testing.T) {
	req := require.New(t)
	req.Equal("expired", RejectionReason(ErrExpired))
	req.Equal("missing_credential", RejectionReason(ErrMissingCredential))
	req.Equal("forbidden", RejectionReason(ErrForbidden))
}
