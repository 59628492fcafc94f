package signing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLinkSignerRoundTrip(t *testing.T) {
	signer := NewLinkSigner("secret", "transcript-signature", time.Hour)
	token, expiresAt, err := signer.Generate("ft-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	subject, parsedExpiry, err := signer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "ft-1", subject)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestLinkSignerRejectsTampering(t *testing.T) {
	signer := NewLinkSigner("secret", "transcript-signature", time.Hour)
	token, _, err := signer.Generate("ft-1")
	require.NoError(t, err)

	_, _, err = signer.Verify("ft-2" + token[len("ft-1"):])
	require.ErrorIs(t, err, ErrInvalidLink)

	other := NewLinkSigner("secret", "other-purpose", time.Hour)
	_, _, err = other.Verify(token)
	require.ErrorIs(t, err, ErrInvalidLink)

	_, _, err = signer.Verify("garbage")
	require.ErrorIs(t, err, ErrInvalidLink)
}

func TestLinkSignerExpired(t *testing.T) {
	signer := NewLinkSigner("secret", "transcript-signature", time.Minute)
	token, _, err := signer.Generate("ft-1")
	require.NoError(t, err)

	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, _, err = signer.Verify(token)
	require.ErrorIs(t, err, ErrExpiredLink)
}
