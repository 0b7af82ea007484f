package middleware

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)

	require.True(t, rl.Allow("10.0.0.1"))
	require.True(t, rl.Allow("10.0.0.1"))
	require.False(t, rl.Allow("10.0.0.1"), "burst exhausted")

	// Another client has its own budget.
	require.True(t, rl.Allow("10.0.0.2"))
}
