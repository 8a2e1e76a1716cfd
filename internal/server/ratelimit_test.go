package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_GlobalLimit(t *testing.T) {
	rl := NewRateLimiter(5, 100)

	allowed := 0
	for i := 0; i < 20; i++ {
		if rl.Allow("ouvidoria") {
			allowed++
		}
	}
	// Token bucket burst=5, so first 5 should be allowed, then rate-limited
	assert.LessOrEqual(t, allowed, 6, "global limit should cap requests")
	assert.GreaterOrEqual(t, allowed, 4, "burst should allow at least 4")
}

func TestRateLimiter_PerCallerLimit(t *testing.T) {
	rl := NewRateLimiter(1000, 3)

	allowed := 0
	for i := 0; i < 20; i++ {
		if rl.Allow("ouvidoria") {
			allowed++
		}
	}
	assert.LessOrEqual(t, allowed, 4, "per-caller limit should cap requests")

	assert.True(t, rl.Allow("sic"), "different caller should have separate bucket")
}

func TestRateLimiter_CallerIsolation(t *testing.T) {
	rl := NewRateLimiter(1000, 2)

	rl.Allow("ouvidoria")
	rl.Allow("ouvidoria")
	rl.Allow("ouvidoria")

	assert.True(t, rl.Allow("sic"), "sic should not be affected by ouvidoria")
}
