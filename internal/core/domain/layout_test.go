package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGridLayoutFor(t *testing.T) {
	tests := []struct {
		name         string
		participants int
		want         LayoutTier
	}{
		{"empty", 0, LayoutCompact},
		{"alone", 1, LayoutCompact},
		{"pair", 2, LayoutCompact},
		{"three", 3, LayoutTwoColumn},
		{"four", 4, LayoutTwoColumn},
		{"five", 5, LayoutThreeColumn},
		{"six", 6, LayoutThreeColumn},
		{"seven", 7, LayoutFourColumn},
		{"eight", 8, LayoutFourColumn},
		{"crowd", 40, LayoutFourColumn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GridLayoutFor(tt.participants).Tier)
		})
	}
}

func TestGridLayoutFor_Monotonic(t *testing.T) {
	prev := GridLayoutFor(0)
	for n := 1; n <= 20; n++ {
		cur := GridLayoutFor(n)
		assert.GreaterOrEqual(t, cur.MinColumns, prev.MinColumns, "min columns shrank at %d", n)
		assert.GreaterOrEqual(t, cur.MaxColumns, prev.MaxColumns, "max columns shrank at %d", n)
		assert.LessOrEqual(t, cur.MinColumns, cur.MaxColumns)
		prev = cur
	}
}
