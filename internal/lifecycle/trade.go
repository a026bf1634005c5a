// Package lifecycle implements the trade aggregate and the guarded state
// machine that moves it from capture to settlement, announcing every
// transition on the event bus.
package lifecycle

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	StatusCaptured  TradeStatus = "captured"
	StatusValidated TradeStatus = "validated"
	StatusConfirmed TradeStatus = "confirmed"
	StatusAllocated TradeStatus = "allocated"
	StatusSettled   TradeStatus = "settled"
	StatusCancelled TradeStatus = "cancelled"
	StatusFailed    TradeStatus = "failed"
)

// validTransitions is the guard table. A transition is accepted only when the
// aggregate's current state exactly matches the precondition; Settled,
// Cancelled and Failed are terminal.
var validTransitions = map[TradeStatus][]TradeStatus{
	StatusCaptured:  {StatusValidated, StatusFailed, StatusCancelled},
	StatusValidated: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusAllocated, StatusCancelled},
	StatusAllocated: {StatusSettled, StatusCancelled},
	StatusSettled:   {},
	StatusCancelled: {},
	StatusFailed:    {},
}

func canTransition(from, to TradeStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition is one entry in a trade's append-only transition log.
type Transition struct {
	From   TradeStatus `json:"from"`
	To     TradeStatus `json:"to"`
	Reason string      `json:"reason,omitempty"`
	At     time.Time   `json:"at"`
}

// AllocationLeg assigns part of a trade's quantity to an account.
type AllocationLeg struct {
	Account  string          `json:"account" binding:"required"`
	Quantity decimal.Decimal `json:"quantity" binding:"required"`
}

// Settlement records the final settlement of a trade.
type Settlement struct {
	Reference string          `json:"reference" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	SettledAt time.Time       `json:"settled_at,omitempty"`
}

// Trade is the authoritative record for one trade's identity and lifecycle
// state. Aggregates are created on capture and never deleted; terminal states
// are retained.
type Trade struct {
	ID             uuid.UUID       `json:"trade_id"`
	CorrelationID  uuid.UUID       `json:"correlation_id"`
	OrganizationID string          `json:"organization_id"`
	UserID         string          `json:"user_id"`
	Commodity      string          `json:"commodity"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Counterparty   string          `json:"counterparty,omitempty"`
	Status         TradeStatus     `json:"status"`

	ValidationErrors []string        `json:"validation_errors,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	Allocation       []AllocationLeg `json:"allocation,omitempty"`
	Settlement       *Settlement     `json:"settlement,omitempty"`

	CapturedAt  time.Time  `json:"captured_at"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	AllocatedAt *time.Time `json:"allocated_at,omitempty"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Transitions []Transition `json:"transitions"`
}

// Notional is the trade's quantity times price.
func (t *Trade) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// Terminal reports whether the trade has reached a state with no outgoing
// transitions.
func (t *Trade) Terminal() bool {
	return len(validTransitions[t.Status]) == 0
}

// clone returns a deep copy so callers can never mutate the stored aggregate.
func (t *Trade) clone() *Trade {
	cp := *t
	cp.ValidationErrors = append([]string(nil), t.ValidationErrors...)
	cp.Allocation = append([]AllocationLeg(nil), t.Allocation...)
	cp.Transitions = append([]Transition(nil), t.Transitions...)
	if t.Settlement != nil {
		s := *t.Settlement
		cp.Settlement = &s
	}
	return &cp
}
