// Package credit provides the in-process counterparty credit check consulted
// during trade validation.
package credit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/clearlane/tradeflow/internal/lifecycle"
)

// Manager tracks per-counterparty credit limits and exposure.
type Manager struct {
	logger       *zap.Logger
	defaultLimit decimal.Decimal

	mu       sync.RWMutex
	limits   map[string]decimal.Decimal
	exposure map[string]decimal.Decimal
}

// NewManager creates a credit manager. defaultLimit applies to counterparties
// without an explicit limit; a zero default rejects unknown counterparties.
func NewManager(logger *zap.Logger, defaultLimit decimal.Decimal) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:       logger,
		defaultLimit: defaultLimit,
		limits:       make(map[string]decimal.Decimal),
		exposure:     make(map[string]decimal.Decimal),
	}
}

// SetLimit sets the credit limit for a counterparty.
func (m *Manager) SetLimit(counterparty string, limit decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[strings.ToLower(counterparty)] = limit
}

// CheckAvailability implements lifecycle.CreditManager. A passing check
// reserves the amount against the counterparty's limit.
func (m *Manager) CheckAvailability(ctx context.Context, counterparty string, amount decimal.Decimal) (lifecycle.CreditResult, error) {
	key := strings.ToLower(counterparty)

	m.mu.Lock()
	defer m.mu.Unlock()

	limit, ok := m.limits[key]
	if !ok {
		limit = m.defaultLimit
	}
	used := m.exposure[key]
	if used.Add(amount).GreaterThan(limit) {
		m.logger.Info("credit check rejected",
			zap.String("counterparty", counterparty),
			zap.String("amount", amount.String()),
			zap.String("limit", limit.String()),
			zap.String("exposure", used.String()))
		return lifecycle.CreditResult{
			CanExecute: false,
			Reason:     fmt.Sprintf("exposure %s plus %s exceeds limit %s", used, amount, limit),
		}, nil
	}

	m.exposure[key] = used.Add(amount)
	return lifecycle.CreditResult{CanExecute: true}, nil
}

// Release returns reserved exposure, e.g. when a trade is cancelled.
func (m *Manager) Release(counterparty string, amount decimal.Decimal) {
	key := strings.ToLower(counterparty)
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := m.exposure[key].Sub(amount)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	m.exposure[key] = remaining
}
