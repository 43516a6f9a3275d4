package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToken_ValidAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		token Token
		want  bool
	}{
		{"empty", Token{}, false},
		{"no_expiry", Token{Value: "abc"}, true},
		{"future_expiry", Token{Value: "abc", ExpiresAt: now.Add(time.Minute)}, true},
		{"past_expiry", Token{Value: "abc", ExpiresAt: now.Add(-time.Minute)}, false},
		{"expires_now", Token{Value: "abc", ExpiresAt: now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.token.ValidAt(now))
		})
	}
}

func TestDisconnectReason(t *testing.T) {
	assert.Equal(t, "client_initiated", ReasonClientInitiated.String())
	assert.Equal(t, "server_initiated", ReasonServerInitiated.String())
	assert.Equal(t, "transport_closed", ReasonTransportClosed.String())

	assert.False(t, ReasonClientInitiated.Retryable())
	assert.True(t, ReasonServerInitiated.Retryable())
	assert.True(t, ReasonTransportClosed.Retryable())
}
