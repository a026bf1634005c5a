// Package compliance provides the in-process compliance screen consulted
// during trade validation.
package compliance

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/clearlane/tradeflow/internal/lifecycle"
)

// Service screens trades against restricted commodities and counterparties.
type Service struct {
	logger *zap.Logger

	mu                       sync.RWMutex
	restrictedCommodities    map[string]string
	restrictedCounterparties map[string]string
}

// NewService creates a compliance service with empty restriction lists.
func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger:                   logger,
		restrictedCommodities:    make(map[string]string),
		restrictedCounterparties: make(map[string]string),
	}
}

// RestrictCommodity blocks trades in the given commodity.
func (s *Service) RestrictCommodity(commodity, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restrictedCommodities[strings.ToLower(commodity)] = reason
}

// RestrictCounterparty blocks trades with the given counterparty.
func (s *Service) RestrictCounterparty(counterparty, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restrictedCounterparties[strings.ToLower(counterparty)] = reason
}

// Screen implements lifecycle.ComplianceService.
func (s *Service) Screen(ctx context.Context, trade *lifecycle.Trade) (lifecycle.ComplianceResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var restrictions []string
	if reason, ok := s.restrictedCommodities[strings.ToLower(trade.Commodity)]; ok {
		restrictions = append(restrictions, fmt.Sprintf("commodity %s is restricted: %s", trade.Commodity, reason))
	}
	if trade.Counterparty != "" {
		if reason, ok := s.restrictedCounterparties[strings.ToLower(trade.Counterparty)]; ok {
			restrictions = append(restrictions, fmt.Sprintf("counterparty %s is restricted: %s", trade.Counterparty, reason))
		}
	}

	if len(restrictions) > 0 {
		s.logger.Warn("trade failed compliance screen",
			zap.String("trade_id", trade.ID.String()),
			zap.Strings("restrictions", restrictions))
		return lifecycle.ComplianceResult{Compliant: false, Restrictions: restrictions}, nil
	}
	return lifecycle.ComplianceResult{Compliant: true}, nil
}
