package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/clearlane/tradeflow/internal/bus"
	errs "github.com/clearlane/tradeflow/pkg/errors"
)

const eventSource = "lifecycle-orchestrator"

// CaptureRequest is the inbound payload for creating a trade.
type CaptureRequest struct {
	Commodity    string          `json:"commodity" binding:"required"`
	Quantity     decimal.Decimal `json:"quantity" binding:"required"`
	Price        decimal.Decimal `json:"price" binding:"required"`
	Counterparty string          `json:"counterparty,omitempty"`
}

// Analytics summarizes an organization's trades over a window.
type Analytics struct {
	OrganizationID    string              `json:"organization_id"`
	From              time.Time           `json:"from"`
	To                time.Time           `json:"to"`
	TotalTrades       int                 `json:"total_trades"`
	ByStatus          map[TradeStatus]int `json:"by_status"`
	TotalNotional     decimal.Decimal     `json:"total_notional"`
	SettledNotional   decimal.Decimal     `json:"settled_notional"`
	FailedValidations int                 `json:"failed_validations"`
}

// Orchestrator owns the trade aggregates and drives them through the state
// machine. Every committed transition publishes exactly one event on the bus,
// strictly after the in-memory mutation (and repository save) so no
// subscriber can observe a state the aggregate has not reached.
type Orchestrator struct {
	logger     *zap.Logger
	bus        *bus.Bus
	compliance ComplianceService
	credit     CreditManager
	risk       RiskManager
	repo       Repository

	mu      sync.RWMutex
	trades  map[uuid.UUID]*Trade
	byOrder *btree.BTreeG[*Trade]
}

// New creates an orchestrator. repo may be nil when persistence is not wired.
func New(logger *zap.Logger, b *bus.Bus, compliance ComplianceService, credit CreditManager, risk RiskManager, repo Repository) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		logger:     logger,
		bus:        b,
		compliance: compliance,
		credit:     credit,
		risk:       risk,
		repo:       repo,
		trades:     make(map[uuid.UUID]*Trade),
		byOrder: btree.NewBTreeG(func(a, b *Trade) bool {
			if !a.CapturedAt.Equal(b.CapturedAt) {
				return a.CapturedAt.Before(b.CapturedAt)
			}
			return a.ID.String() < b.ID.String()
		}),
	}
}

// Capture creates a trade aggregate in the captured state and publishes
// TradeCaptured.
func (o *Orchestrator) Capture(ctx context.Context, req CaptureRequest, userID, orgID string) (*Trade, error) {
	if err := validateCapture(req, userID, orgID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	trade := &Trade{
		ID:             uuid.New(),
		CorrelationID:  uuid.New(),
		OrganizationID: orgID,
		UserID:         userID,
		Commodity:      req.Commodity,
		Quantity:       req.Quantity,
		Price:          req.Price,
		Counterparty:   req.Counterparty,
		Status:         StatusCaptured,
		CapturedAt:     now,
		UpdatedAt:      now,
		Transitions: []Transition{
			{To: StatusCaptured, Reason: "trade captured", At: now},
		},
	}

	o.mu.Lock()
	o.trades[trade.ID] = trade
	o.byOrder.Set(trade)
	o.persist(ctx, trade)
	result := trade.clone()
	o.publish(trade, userID, TradeCaptured{
		TradeID:      trade.ID,
		Commodity:    trade.Commodity,
		Quantity:     trade.Quantity,
		Price:        trade.Price,
		Counterparty: trade.Counterparty,
		Status:       StatusCaptured,
	})
	o.mu.Unlock()

	o.logger.Info("trade captured",
		zap.String("trade_id", trade.ID.String()),
		zap.String("organization_id", orgID),
		zap.String("user_id", userID),
		zap.String("commodity", trade.Commodity))

	return result, nil
}

// Validate runs the compliance, credit and risk checks. All three must pass
// for the trade to reach validated; any failure moves it to failed with the
// aggregated rejection list. TradeValidated is published in both outcomes,
// attributed to the acting user.
func (o *Orchestrator) Validate(ctx context.Context, tradeID uuid.UUID, userID string) (*Trade, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	trade, err := o.get(tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Status != StatusCaptured {
		return nil, transitionError(trade, StatusValidated)
	}

	failures := o.runChecks(ctx, trade)
	if len(failures) > 0 {
		trade.ValidationErrors = failures
		o.transition(trade, StatusFailed, "validation failed: "+strings.Join(failures, "; "))
		o.persist(ctx, trade)
		result := trade.clone()
		o.publish(trade, userID, TradeValidated{
			TradeID: trade.ID,
			Passed:  false,
			Errors:  failures,
			Status:  StatusFailed,
		})

		vErr := errs.New(errs.KindValidationFailed, "trade validation failed")
		for _, f := range failures {
			vErr = vErr.WithField("validation", "trade", f)
		}
		return result, vErr
	}

	o.transition(trade, StatusValidated, "validation passed")
	o.persist(ctx, trade)
	result := trade.clone()
	o.publish(trade, userID, TradeValidated{
		TradeID: trade.ID,
		Passed:  true,
		Status:  StatusValidated,
	})
	return result, nil
}

// Confirm records a confirmation on a validated trade.
func (o *Orchestrator) Confirm(ctx context.Context, tradeID uuid.UUID, userID, notes string) (*Trade, error) {
	return o.advance(ctx, tradeID, userID, StatusValidated, StatusConfirmed, "trade confirmed", func(t *Trade) bus.Payload {
		t.Notes = notes
		return TradeConfirmed{TradeID: t.ID, Notes: notes, Status: StatusConfirmed}
	})
}

// Allocate assigns the trade's quantity across accounts.
func (o *Orchestrator) Allocate(ctx context.Context, tradeID uuid.UUID, userID string, allocation []AllocationLeg) (*Trade, error) {
	if len(allocation) == 0 {
		return nil, errs.New(errs.KindBadRequest, "allocation must contain at least one leg")
	}
	return o.advance(ctx, tradeID, userID, StatusConfirmed, StatusAllocated, "trade allocated", func(t *Trade) bus.Payload {
		t.Allocation = append([]AllocationLeg(nil), allocation...)
		return TradeAllocated{TradeID: t.ID, Allocation: t.Allocation, Status: StatusAllocated}
	})
}

// Settle records the settlement and moves the trade to its terminal success
// state.
func (o *Orchestrator) Settle(ctx context.Context, tradeID uuid.UUID, userID string, settlement Settlement) (*Trade, error) {
	if settlement.SettledAt.IsZero() {
		settlement.SettledAt = time.Now().UTC()
	}
	return o.advance(ctx, tradeID, userID, StatusAllocated, StatusSettled, "trade settled", func(t *Trade) bus.Payload {
		s := settlement
		t.Settlement = &s
		return TradeSettled{TradeID: t.ID, Settlement: s, Status: StatusSettled}
	})
}

// Cancel aborts a trade from any non-terminal state.
func (o *Orchestrator) Cancel(ctx context.Context, tradeID uuid.UUID, userID, reason string) (*Trade, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	trade, err := o.get(tradeID)
	if err != nil {
		return nil, err
	}
	if !canTransition(trade.Status, StatusCancelled) {
		return nil, transitionError(trade, StatusCancelled)
	}

	o.transition(trade, StatusCancelled, reason)
	o.persist(ctx, trade)
	result := trade.clone()
	o.publish(trade, userID, TradeCancelled{TradeID: trade.ID, Reason: reason, Status: StatusCancelled})
	return result, nil
}

// GetStatus returns a copy of the trade aggregate.
func (o *Orchestrator) GetStatus(tradeID uuid.UUID) (*Trade, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	trade, err := o.get(tradeID)
	if err != nil {
		return nil, err
	}
	return trade.clone(), nil
}

// ListTrades returns the organization's trades in capture order. userID is an
// optional additional filter; page starts at 1. The second result is the
// total matching count.
func (o *Orchestrator) ListTrades(userID, orgID string, page, pageSize int) ([]*Trade, int, error) {
	if orgID == "" {
		return nil, 0, errs.New(errs.KindBadRequest, "organization_id is required")
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	var matched []*Trade
	o.byOrder.Scan(func(t *Trade) bool {
		if t.OrganizationID != orgID {
			return true
		}
		if userID != "" && t.UserID != userID {
			return true
		}
		matched = append(matched, t)
		return true
	})

	total := len(matched)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	out := make([]*Trade, 0, end-start)
	for _, t := range matched[start:end] {
		out = append(out, t.clone())
	}
	return out, total, nil
}

// Analytics aggregates the organization's trades captured in [from, to).
func (o *Orchestrator) Analytics(orgID string, from, to time.Time) (*Analytics, error) {
	if orgID == "" {
		return nil, errs.New(errs.KindBadRequest, "organization_id is required")
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	a := &Analytics{
		OrganizationID:  orgID,
		From:            from,
		To:              to,
		ByStatus:        make(map[TradeStatus]int),
		TotalNotional:   decimal.Zero,
		SettledNotional: decimal.Zero,
	}
	o.byOrder.Scan(func(t *Trade) bool {
		if t.OrganizationID != orgID {
			return true
		}
		if !from.IsZero() && t.CapturedAt.Before(from) {
			return true
		}
		if !to.IsZero() && !t.CapturedAt.Before(to) {
			return true
		}
		a.TotalTrades++
		a.ByStatus[t.Status]++
		a.TotalNotional = a.TotalNotional.Add(t.Notional())
		if t.Status == StatusSettled {
			a.SettledNotional = a.SettledNotional.Add(t.Notional())
		}
		if t.Status == StatusFailed {
			a.FailedValidations++
		}
		return true
	})
	return a, nil
}

// advance performs a guarded single-step transition shared by confirm,
// allocate and settle. mutate updates the aggregate and returns the event to
// publish once the new state is committed.
func (o *Orchestrator) advance(ctx context.Context, tradeID uuid.UUID, userID string, from, to TradeStatus, reason string, mutate func(*Trade) bus.Payload) (*Trade, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	trade, err := o.get(tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Status != from {
		return nil, transitionError(trade, to)
	}

	payload := mutate(trade)
	o.transition(trade, to, reason)
	o.persist(ctx, trade)
	result := trade.clone()
	o.publish(trade, userID, payload)
	return result, nil
}

// transition commits the state change on the aggregate: status, stage
// timestamp, and the append-only log entry.
func (o *Orchestrator) transition(t *Trade, to TradeStatus, reason string) {
	now := time.Now().UTC()
	from := t.Status
	t.Status = to
	t.UpdatedAt = now
	switch to {
	case StatusValidated:
		t.ValidatedAt = &now
	case StatusConfirmed:
		t.ConfirmedAt = &now
	case StatusAllocated:
		t.AllocatedAt = &now
	case StatusSettled:
		t.SettledAt = &now
	case StatusCancelled:
		t.CancelledAt = &now
	case StatusFailed:
		t.FailedAt = &now
	}
	t.Transitions = append(t.Transitions, Transition{From: from, To: to, Reason: reason, At: now})

	o.logger.Info("trade state transition",
		zap.String("trade_id", t.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason))
}

// runChecks consults the three collaborators and aggregates every failure.
// A collaborator error counts as a failure of that check.
func (o *Orchestrator) runChecks(ctx context.Context, trade *Trade) []string {
	var failures []string

	compliance, err := o.compliance.Screen(ctx, trade)
	switch {
	case err != nil:
		failures = append(failures, fmt.Sprintf("compliance screen unavailable: %v", err))
	case !compliance.Compliant:
		msg := "Compliance screening failed"
		if len(compliance.Restrictions) > 0 {
			msg += ": " + strings.Join(compliance.Restrictions, ", ")
		}
		failures = append(failures, msg)
	}

	credit, err := o.credit.CheckAvailability(ctx, trade.Counterparty, trade.Notional())
	switch {
	case err != nil:
		failures = append(failures, fmt.Sprintf("credit check unavailable: %v", err))
	case !credit.CanExecute:
		msg := "Insufficient credit"
		if credit.Reason != "" {
			msg += ": " + credit.Reason
		}
		failures = append(failures, msg)
	}

	risk, err := o.risk.Assess(ctx, trade)
	switch {
	case err != nil:
		failures = append(failures, fmt.Sprintf("risk assessment unavailable: %v", err))
	case risk.Level == RiskLevelCritical:
		msg := "Risk level critical"
		if len(risk.Factors) > 0 {
			msg += ": " + strings.Join(risk.Factors, ", ")
		}
		failures = append(failures, msg)
	}

	return failures
}

// persist saves the aggregate through the repository when one is wired.
// Persistence failures are logged, never surfaced: durability is out of scope
// and a transition's success must not depend on the store.
func (o *Orchestrator) persist(ctx context.Context, t *Trade) {
	if o.repo == nil {
		return
	}
	if err := o.repo.Save(ctx, t); err != nil {
		o.logger.Error("failed to persist trade",
			zap.String("trade_id", t.ID.String()),
			zap.Error(err))
	}
}

// publish announces a committed transition attributed to the acting user.
// Publish errors are logged and never returned: a transition's success does
// not depend on bus liveness.
func (o *Orchestrator) publish(t *Trade, actor string, payload bus.Payload) {
	if actor == "" {
		actor = t.UserID
	}
	_, err := o.bus.Publish(bus.Event{
		Metadata: bus.Metadata{
			CorrelationID:  t.CorrelationID,
			UserID:         actor,
			OrganizationID: t.OrganizationID,
			Source:         eventSource,
		},
		Payload: payload,
	})
	if err != nil {
		o.logger.Error("failed to publish lifecycle event",
			zap.String("trade_id", t.ID.String()),
			zap.String("event_type", payload.EventType()),
			zap.Error(err))
	}
}

func (o *Orchestrator) get(tradeID uuid.UUID) (*Trade, error) {
	trade, ok := o.trades[tradeID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, fmt.Sprintf("trade %s not found", tradeID))
	}
	return trade, nil
}

func transitionError(t *Trade, to TradeStatus) error {
	return errs.New(errs.KindInvalidStateTransition,
		fmt.Sprintf("trade %s cannot transition from %s to %s", t.ID, t.Status, to))
}

func validateCapture(req CaptureRequest, userID, orgID string) error {
	err := errs.New(errs.KindBadRequest, "invalid capture request")
	valid := true
	if req.Commodity == "" {
		err = err.WithField("required", "commodity", "commodity is required")
		valid = false
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		err = err.WithField("range", "quantity", "quantity must be positive")
		valid = false
	}
	if req.Price.LessThanOrEqual(decimal.Zero) {
		err = err.WithField("range", "price", "price must be positive")
		valid = false
	}
	if userID == "" {
		err = err.WithField("required", "user_id", "user id is required")
		valid = false
	}
	if orgID == "" {
		err = err.WithField("required", "organization_id", "organization id is required")
		valid = false
	}
	if !valid {
		return err
	}
	return nil
}
