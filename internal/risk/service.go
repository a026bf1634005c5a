// Package risk provides the in-process risk assessment consulted during
// trade validation.
package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/clearlane/tradeflow/internal/lifecycle"
)

// Thresholds maps trade notional to a risk level. Anything at or above
// Critical fails validation.
type Thresholds struct {
	Medium   decimal.Decimal
	High     decimal.Decimal
	Critical decimal.Decimal
}

// DefaultThresholds grades notional in quote-currency units.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Medium:   decimal.NewFromInt(100_000),
		High:     decimal.NewFromInt(1_000_000),
		Critical: decimal.NewFromInt(10_000_000),
	}
}

// Service assesses trades by notional size.
type Service struct {
	logger     *zap.Logger
	thresholds Thresholds
}

// NewService creates a risk service with the given thresholds.
func NewService(logger *zap.Logger, thresholds Thresholds) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger, thresholds: thresholds}
}

// Assess implements lifecycle.RiskManager.
func (s *Service) Assess(ctx context.Context, trade *lifecycle.Trade) (lifecycle.RiskAssessment, error) {
	notional := trade.Notional()

	level := lifecycle.RiskLevelLow
	switch {
	case notional.GreaterThanOrEqual(s.thresholds.Critical):
		level = lifecycle.RiskLevelCritical
	case notional.GreaterThanOrEqual(s.thresholds.High):
		level = lifecycle.RiskLevelHigh
	case notional.GreaterThanOrEqual(s.thresholds.Medium):
		level = lifecycle.RiskLevelMedium
	}

	assessment := lifecycle.RiskAssessment{Level: level}
	if level >= lifecycle.RiskLevelHigh {
		assessment.Factors = append(assessment.Factors,
			fmt.Sprintf("notional %s exceeds %s threshold", notional, level))
	}
	if level == lifecycle.RiskLevelCritical {
		s.logger.Warn("trade assessed as critical risk",
			zap.String("trade_id", trade.ID.String()),
			zap.String("notional", notional.String()))
	}
	return assessment, nil
}
