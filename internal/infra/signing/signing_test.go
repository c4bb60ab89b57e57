package signing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAuthenticationRoundTrip(t *testing.T) {
	s := New([]byte("secret"))

	sig := s.SignAuthentication("u:cam:alice", "cam")
	assert.True(t, s.VerifyAuthentication("u:cam:alice", "cam", sig))
	assert.False(t, s.VerifyAuthentication("u:cam:bob", "cam", sig))
	assert.False(t, s.VerifyAuthentication("u:cam:alice", "oxford", sig))

	other := New([]byte("other-key"))
	assert.False(t, other.VerifyAuthentication("u:cam:alice", "cam", sig))
}

func TestResourceTokenExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := NewWithClock([]byte("secret"), func() time.Time { return clock() })

	token := s.SignResource("d:cam:doc1", time.Minute)
	assert.True(t, s.VerifyResource("d:cam:doc1", token))
	assert.False(t, s.VerifyResource("d:cam:doc2", token))

	clock = func() time.Time { return now.Add(2 * time.Minute) }
	assert.False(t, s.VerifyResource("d:cam:doc1", token))
}

func TestResourceTokenMalformed(t *testing.T) {
	s := New([]byte("secret"))
	assert.False(t, s.VerifyResource("d:cam:doc1", "garbage"))
	assert.False(t, s.VerifyResource("d:cam:doc1", "123notanumber:abc"))
	assert.False(t, s.VerifyResource("d:cam:doc1", ""))
}

func TestInvitationHashIsStable(t *testing.T) {
	s := New([]byte("secret"))
	h1 := s.HashInvitation("x@example.edu")
	h2 := s.HashInvitation("x@example.edu")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, s.HashInvitation("y@example.edu"))
}
