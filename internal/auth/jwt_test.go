package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	m := NewManager("secret", time.Hour)

	token, expires, err := m.Issue("u1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	userID, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, _, err := NewManager("one", time.Hour).Issue("u1")
	require.NoError(t, err)

	_, err = NewManager("two", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	m := NewManager("secret", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := m.Issue("u1")
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsGarbage(t *testing.T) {
	_, err := NewManager("secret", time.Hour).Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
