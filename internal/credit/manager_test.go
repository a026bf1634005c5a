package credit_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clearlane/tradeflow/internal/credit"
)

func TestCheckAvailabilityReservesExposure(t *testing.T) {
	m := credit.NewManager(zaptest.NewLogger(t), decimal.NewFromInt(1000))
	ctx := context.Background()

	result, err := m.CheckAvailability(ctx, "acme", decimal.NewFromInt(600))
	require.NoError(t, err)
	assert.True(t, result.CanExecute)

	// The first check reserved 600, so 500 more breaches the 1000 limit.
	result, err = m.CheckAvailability(ctx, "acme", decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.False(t, result.CanExecute)
	assert.Contains(t, result.Reason, "exceeds limit 1000")

	result, err = m.CheckAvailability(ctx, "acme", decimal.NewFromInt(400))
	require.NoError(t, err)
	assert.True(t, result.CanExecute)
}

func TestExplicitLimitOverridesDefault(t *testing.T) {
	m := credit.NewManager(zaptest.NewLogger(t), decimal.NewFromInt(1000))
	m.SetLimit("Big-Desk", decimal.NewFromInt(5000))
	ctx := context.Background()

	result, err := m.CheckAvailability(ctx, "big-desk", decimal.NewFromInt(4000))
	require.NoError(t, err)
	assert.True(t, result.CanExecute)
}

func TestZeroDefaultRejectsUnknownCounterparty(t *testing.T) {
	m := credit.NewManager(zaptest.NewLogger(t), decimal.Zero)
	result, err := m.CheckAvailability(context.Background(), "stranger", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.False(t, result.CanExecute)
}

func TestReleaseReturnsExposure(t *testing.T) {
	m := credit.NewManager(zaptest.NewLogger(t), decimal.NewFromInt(1000))
	ctx := context.Background()

	_, err := m.CheckAvailability(ctx, "acme", decimal.NewFromInt(1000))
	require.NoError(t, err)
	result, err := m.CheckAvailability(ctx, "acme", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.False(t, result.CanExecute)

	m.Release("acme", decimal.NewFromInt(1000))
	result, err = m.CheckAvailability(ctx, "acme", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.True(t, result.CanExecute)

	// Releasing more than was reserved floors at zero rather than going
	// negative.
	m.Release("acme", decimal.NewFromInt(9999))
	result, err = m.CheckAvailability(ctx, "acme", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.True(t, result.CanExecute)
}
