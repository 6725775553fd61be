package currency

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPI(t *testing.T) {
	p, err := NewPolicy(decimal.NewFromInt(1000), "v1")
	require.NoError(t, err)

	tests := []struct {
		vnd  int64
		want int64
	}{
		{150000, 150},
		{150999, 150},
		{999, 0},
		{1000, 1},
		{0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.ToPI(tt.vnd), "ToPI(%d)", tt.vnd)
	}
	assert.Equal(t, int64(150000), p.ToVND(150))
}

func TestToPIFractionalRate(t *testing.T) {
	p, err := NewPolicy(decimal.RequireFromString("2500.5"), "v2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.ToPI(10000))
}

func TestNewPolicyRejectsNonPositive(t *testing.T) {
	_, err := NewPolicy(decimal.Zero, "v0")
	assert.Error(t, err)
	_, err = NewPolicy(decimal.NewFromInt(-1), "v0")
	assert.Error(t, err)
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, WithinTolerance(150000, 150000, 0))
	assert.False(t, WithinTolerance(150000, 149999, 0))
	assert.False(t, WithinTolerance(150000, 150001, 0))
	assert.True(t, WithinTolerance(150000, 149500, 500))
	assert.False(t, WithinTolerance(150000, 149499, 500))
}
