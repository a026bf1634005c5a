package lifecycle

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bus topics for lifecycle events. Topic and event type are the same string.
const (
	TopicTradeCaptured  = "trade.captured"
	TopicTradeValidated = "trade.validated"
	TopicTradeConfirmed = "trade.confirmed"
	TopicTradeAllocated = "trade.allocated"
	TopicTradeSettled   = "trade.settled"
	TopicTradeCancelled = "trade.cancelled"
)

// Topics lists every lifecycle topic in transition order.
var Topics = []string{
	TopicTradeCaptured,
	TopicTradeValidated,
	TopicTradeConfirmed,
	TopicTradeAllocated,
	TopicTradeSettled,
	TopicTradeCancelled,
}

// TradeCaptured is published when a trade aggregate is created.
type TradeCaptured struct {
	TradeID      uuid.UUID       `json:"trade_id"`
	Commodity    string          `json:"commodity"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Counterparty string          `json:"counterparty,omitempty"`
	Status       TradeStatus     `json:"status"`
}

func (TradeCaptured) EventType() string { return TopicTradeCaptured }

// TradeValidated carries the validation outcome in both the pass and fail
// case; on failure Status is StatusFailed and Errors holds the aggregated
// collaborator rejections.
type TradeValidated struct {
	TradeID uuid.UUID   `json:"trade_id"`
	Passed  bool        `json:"passed"`
	Errors  []string    `json:"errors,omitempty"`
	Status  TradeStatus `json:"status"`
}

func (TradeValidated) EventType() string { return TopicTradeValidated }

type TradeConfirmed struct {
	TradeID uuid.UUID   `json:"trade_id"`
	Notes   string      `json:"notes,omitempty"`
	Status  TradeStatus `json:"status"`
}

func (TradeConfirmed) EventType() string { return TopicTradeConfirmed }

type TradeAllocated struct {
	TradeID    uuid.UUID       `json:"trade_id"`
	Allocation []AllocationLeg `json:"allocation"`
	Status     TradeStatus     `json:"status"`
}

func (TradeAllocated) EventType() string { return TopicTradeAllocated }

type TradeSettled struct {
	TradeID    uuid.UUID   `json:"trade_id"`
	Settlement Settlement  `json:"settlement"`
	Status     TradeStatus `json:"status"`
}

func (TradeSettled) EventType() string { return TopicTradeSettled }

type TradeCancelled struct {
	TradeID uuid.UUID   `json:"trade_id"`
	Reason  string      `json:"reason,omitempty"`
	Status  TradeStatus `json:"status"`
}

func (TradeCancelled) EventType() string { return TopicTradeCancelled }
