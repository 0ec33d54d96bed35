package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolUp(_, next bool) bool {
	// "up" for a boolean means becoming false (not-overloaded).
	return next == false
}

// TestHoldDownDamping verifies a rapid down-up-down flap stays damped.
func TestHoldDownDamping(t *testing.T) {
	h := NewHoldableValue(true)
	changed := h.UpdateValue(false, 10, 5, boolUp)
	assert.True(t, changed)
	assert.True(t, h.IsHolding())

	for i := 0; i < 9; i++ {
		assert.Equal(t, true, h.Value(), "tick %d", i)
		expired := h.DecrementTtl()
		assert.False(t, expired, "tick %d", i)
	}
	// tick 10 expires
	assert.Equal(t, true, h.Value())
	expired := h.DecrementTtl()
	assert.True(t, expired)
	assert.Equal(t, false, h.Value())
	assert.False(t, h.IsHolding())

	// Subsequent update(true, ...) asserts a 5-tick hold-down since true is
	// the "down" (pessimistic) direction here relative to boolUp.
	changed = h.UpdateValue(true, 10, 5, boolUp)
	assert.True(t, changed)
	assert.True(t, h.IsHolding())
	assert.Equal(t, false, h.Value())
}

func TestUpdateValueNoopWhenEqual(t *testing.T) {
	h := NewHoldableValue(5)
	changed := h.UpdateValue(5, 10, 10, func(_, _ int) bool { return true })
	assert.False(t, changed)
	assert.False(t, h.IsHolding())
}

func TestUpdateValueZeroTtlAppliesImmediately(t *testing.T) {
	h := NewHoldableValue(5)
	changed := h.UpdateValue(7, 0, 0, func(cur, next int) bool { return next < cur })
	assert.True(t, changed)
	assert.False(t, h.IsHolding())
	assert.Equal(t, 7, h.Value())
}

func TestUpdateValueAbandonsActiveHold(t *testing.T) {
	h := NewHoldableValue(1)
	h.UpdateValue(2, 10, 10, func(cur, next int) bool { return next < cur })
	assert.True(t, h.IsHolding())

	changed := h.UpdateValue(3, 10, 10, func(cur, next int) bool { return next < cur })
	assert.True(t, changed)
	assert.False(t, h.IsHolding())
	assert.Equal(t, 3, h.Value())
}
