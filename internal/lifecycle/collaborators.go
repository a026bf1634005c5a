package lifecycle

import (
	"context"

	"github.com/shopspring/decimal"
)

// RiskLevel grades the risk of executing a trade.
type RiskLevel int

const (
	RiskLevelLow RiskLevel = iota
	RiskLevelMedium
	RiskLevelHigh
	RiskLevelCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	case RiskLevelCritical:
		return "critical"
	}
	return "unknown"
}

// ComplianceResult is the outcome of a compliance screen.
type ComplianceResult struct {
	Compliant    bool     `json:"compliant"`
	Restrictions []string `json:"restrictions,omitempty"`
}

// ComplianceService screens a trade against regulatory restrictions. It is
// consulted synchronously during validation.
type ComplianceService interface {
	Screen(ctx context.Context, trade *Trade) (ComplianceResult, error)
}

// CreditResult reports whether a counterparty has capacity for a trade.
type CreditResult struct {
	CanExecute bool   `json:"can_execute"`
	Reason     string `json:"reason,omitempty"`
}

// CreditManager checks counterparty credit availability.
type CreditManager interface {
	CheckAvailability(ctx context.Context, counterparty string, amount decimal.Decimal) (CreditResult, error)
}

// RiskAssessment is the outcome of a risk check.
type RiskAssessment struct {
	Level   RiskLevel `json:"risk_level"`
	Factors []string  `json:"factors,omitempty"`
}

// RiskManager assesses the risk of executing a trade.
type RiskManager interface {
	Assess(ctx context.Context, trade *Trade) (RiskAssessment, error)
}

// Repository persists a trade aggregate after each committed transition.
// Durable storage sits behind this contract and is otherwise out of scope.
type Repository interface {
	Save(ctx context.Context, trade *Trade) error
}
