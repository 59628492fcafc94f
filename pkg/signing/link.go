package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidLink covers malformed tokens and signature mismatches.
	ErrInvalidLink = errors.New("invalid signed link")
	// ErrExpiredLink is returned for a well-formed token past its expiry.
	ErrExpiredLink = errors.New("signed link expired")
)

// LinkSigner issues and checks HMAC-signed, expiring tokens bound to a subject id.
type LinkSigner struct {
	secret  []byte
	purpose string
	ttl     time.Duration
	now     func() time.Time
}

// NewLinkSigner constructs a signer; purpose namespaces tokens so one secret can serve several flows.
func NewLinkSigner(secret, purpose string, ttl time.Duration) *LinkSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LinkSigner{secret: []byte(secret), purpose: purpose, ttl: ttl, now: time.Now}
}

// Generate returns a token for subjectID and its expiry.
func (s *LinkSigner) Generate(subjectID string) (string, time.Time, error) {
	if subjectID == "" {
		return "", time.Time{}, fmt.Errorf("subject id required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).UTC()
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	return strings.Join([]string{subjectID, ts, s.sign(subjectID, ts)}, "."), expiresAt, nil
}

// Verify checks token and returns the subject id it was issued for.
func (s *LinkSigner) Verify(token string) (string, time.Time, error) {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 {
		return "", time.Time{}, ErrInvalidLink
	}
	rest, signature := token[:idx], token[idx+1:]
	idx = strings.LastIndex(rest, ".")
	if idx <= 0 {
		return "", time.Time{}, ErrInvalidLink
	}
	subjectID, ts := rest[:idx], rest[idx+1:]
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", time.Time{}, ErrInvalidLink
	}
	if !hmac.Equal([]byte(s.sign(subjectID, ts)), []byte(signature)) {
		return "", time.Time{}, ErrInvalidLink
	}
	expiresAt := time.Unix(unix, 0).UTC()
	if s.now().After(expiresAt) {
		return "", expiresAt, ErrExpiredLink
	}
	return subjectID, expiresAt, nil
}

func (s *LinkSigner) sign(subjectID, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(s.purpose + "|" + subjectID + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}
