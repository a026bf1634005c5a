package compliance_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clearlane/tradeflow/internal/compliance"
	"github.com/clearlane/tradeflow/internal/lifecycle"
)

func TestScreenPassesUnrestrictedTrade(t *testing.T) {
	s := compliance.NewService(zaptest.NewLogger(t))
	result, err := s.Screen(context.Background(), &lifecycle.Trade{
		Commodity:    "crude_oil",
		Counterparty: "acme-energy",
	})
	require.NoError(t, err)
	assert.True(t, result.Compliant)
	assert.Empty(t, result.Restrictions)
}

func TestScreenRejectsRestrictedCommodityAndCounterparty(t *testing.T) {
	s := compliance.NewService(zaptest.NewLogger(t))
	s.RestrictCommodity("Crude_Oil", "export ban")
	s.RestrictCounterparty("ACME-Energy", "sanctions list")

	// Matching is case-insensitive on both sides.
	result, err := s.Screen(context.Background(), &lifecycle.Trade{
		Commodity:    "CRUDE_oil",
		Counterparty: "acme-energy",
	})
	require.NoError(t, err)
	assert.False(t, result.Compliant)
	require.Len(t, result.Restrictions, 2)
	assert.Contains(t, result.Restrictions[0], "export ban")
	assert.Contains(t, result.Restrictions[1], "sanctions list")
}

func TestScreenIgnoresEmptyCounterparty(t *testing.T) {
	s := compliance.NewService(zaptest.NewLogger(t))
	s.RestrictCounterparty("", "should not match")

	result, err := s.Screen(context.Background(), &lifecycle.Trade{Commodity: "power"})
	require.NoError(t, err)
	assert.True(t, result.Compliant)
}
