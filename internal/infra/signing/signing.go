// Package signing issues and verifies the HMAC signatures that authenticate
// push sockets and grant short-lived view access to resource streams.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Signer struct {
	key []byte
	now func() time.Time
}

func New(key []byte) *Signer {
	return &Signer{key: key, now: time.Now}
}

// NewWithClock builds a signer on a fake clock for expiry tests.
func NewWithClock(key []byte, now func() time.Time) *Signer {
	return &Signer{key: key, now: now}
}

// SignAuthentication derives the socket authentication signature for a
// principal within a tenant. The signature is stable, so clients obtain it
// once per session from the web tier.
func (s *Signer) SignAuthentication(userID, tenantAlias string) string {
	return s.mac("auth", tenantAlias, userID)
}

// VerifyAuthentication checks the first-frame credentials.
func (s *Signer) VerifyAuthentication(userID, tenantAlias, signature string) bool {
	return hmac.Equal([]byte(s.SignAuthentication(userID, tenantAlias)), []byte(signature))
}

// SignResource issues a view-access token for a resource, valid for ttl.
// The token embeds its expiry: "<expiresMillis>:<mac>".
func (s *Signer) SignResource(resourceID string, ttl time.Duration) string {
	expires := s.now().Add(ttl).UnixMilli()
	return fmt.Sprintf("%d:%s", expires, s.mac("resource", resourceID, strconv.FormatInt(expires, 10)))
}

// VerifyResource checks a resource token and its expiry.
func (s *Signer) VerifyResource(resourceID, token string) bool {
	expiresStr, mac, ok := strings.Cut(token, ":")
	if !ok {
		return false
	}
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil || s.now().UnixMilli() > expires {
		return false
	}
	return hmac.Equal([]byte(s.mac("resource", resourceID, expiresStr)), []byte(mac))
}

// HashInvitation derives the opaque invitation token from the invited email.
// Every pending invitation for one email shares the token, so a single accept
// consumes all of them.
func (s *Signer) HashInvitation(email string) string {
	return s.mac("invitation", email)
}

func (s *Signer) mac(parts ...string) string {
	h := hmac.New(sha256.New, s.key)
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
