package lifecycle_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clearlane/tradeflow/internal/bus"
	"github.com/clearlane/tradeflow/internal/lifecycle"
	errs "github.com/clearlane/tradeflow/pkg/errors"
)

type fakeCompliance struct {
	result lifecycle.ComplianceResult
	err    error
}

func (f *fakeCompliance) Screen(ctx context.Context, trade *lifecycle.Trade) (lifecycle.ComplianceResult, error) {
	return f.result, f.err
}

type fakeCredit struct {
	result lifecycle.CreditResult
	err    error
}

func (f *fakeCredit) CheckAvailability(ctx context.Context, counterparty string, amount decimal.Decimal) (lifecycle.CreditResult, error) {
	return f.result, f.err
}

type fakeRisk struct {
	result lifecycle.RiskAssessment
	err    error
}

func (f *fakeRisk) Assess(ctx context.Context, trade *lifecycle.Trade) (lifecycle.RiskAssessment, error) {
	return f.result, f.err
}

type fixture struct {
	bus          *bus.Bus
	orchestrator *lifecycle.Orchestrator
	compliance   *fakeCompliance
	credit       *fakeCredit
	risk         *fakeRisk
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	b := bus.New(logger, bus.Config{})
	b.Start()
	t.Cleanup(b.Stop)

	f := &fixture{
		bus:        b,
		compliance: &fakeCompliance{result: lifecycle.ComplianceResult{Compliant: true}},
		credit:     &fakeCredit{result: lifecycle.CreditResult{CanExecute: true}},
		risk:       &fakeRisk{result: lifecycle.RiskAssessment{Level: lifecycle.RiskLevelLow}},
	}
	f.orchestrator = lifecycle.New(logger, b, f.compliance, f.credit, f.risk, nil)
	return f
}

func captureRequest() lifecycle.CaptureRequest {
	return lifecycle.CaptureRequest{
		Commodity:    "crude_oil",
		Quantity:     decimal.NewFromInt(1000),
		Price:        decimal.NewFromFloat(85.5),
		Counterparty: "acme-energy",
	}
}

func (f *fixture) capture(t *testing.T) *lifecycle.Trade {
	t.Helper()
	trade, err := f.orchestrator.Capture(context.Background(), captureRequest(), "u1", "o1")
	require.NoError(t, err)
	return trade
}

func TestCaptureCreatesAggregate(t *testing.T) {
	f := newFixture(t)
	trade := f.capture(t)

	assert.Equal(t, lifecycle.StatusCaptured, trade.Status)
	assert.NotEqual(t, uuid.Nil, trade.ID)
	assert.NotEqual(t, uuid.Nil, trade.CorrelationID)
	assert.Equal(t, "o1", trade.OrganizationID)
	assert.Equal(t, "u1", trade.UserID)
	assert.False(t, trade.CapturedAt.IsZero())
	require.Len(t, trade.Transitions, 1)
	assert.Equal(t, lifecycle.StatusCaptured, trade.Transitions[0].To)

	f.bus.Stop()
	history := f.bus.History(lifecycle.TopicTradeCaptured, 0)
	require.Len(t, history, 1)
	assert.Equal(t, trade.CorrelationID, history[0].Metadata.CorrelationID)
	assert.Equal(t, "o1", history[0].Metadata.OrganizationID)
}

func TestCaptureRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)

	req := captureRequest()
	req.Commodity = ""
	req.Quantity = decimal.NewFromInt(-5)
	_, err := f.orchestrator.Capture(context.Background(), req, "u1", "o1")
	require.Error(t, err)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindBadRequest, e.Kind)
	assert.Len(t, e.Fields, 2)
}

func TestHappyPathToSettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trade := f.capture(t)

	trade, err := f.orchestrator.Validate(ctx, trade.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusValidated, trade.Status)
	assert.NotNil(t, trade.ValidatedAt)

	trade, err = f.orchestrator.Confirm(ctx, trade.ID, "u1", "confirmed by desk")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusConfirmed, trade.Status)
	assert.Equal(t, "confirmed by desk", trade.Notes)

	trade, err = f.orchestrator.Allocate(ctx, trade.ID, "u1", []lifecycle.AllocationLeg{
		{Account: "acct-1", Quantity: decimal.NewFromInt(600)},
		{Account: "acct-2", Quantity: decimal.NewFromInt(400)},
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusAllocated, trade.Status)
	require.Len(t, trade.Allocation, 2)

	trade, err = f.orchestrator.Settle(ctx, trade.ID, "u1", lifecycle.Settlement{
		Reference: "wire-123",
		Amount:    decimal.NewFromFloat(85500),
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusSettled, trade.Status)
	require.NotNil(t, trade.Settlement)
	assert.True(t, trade.Terminal())

	// The observed status sequence is exactly the success path.
	want := []lifecycle.TradeStatus{
		lifecycle.StatusCaptured,
		lifecycle.StatusValidated,
		lifecycle.StatusConfirmed,
		lifecycle.StatusAllocated,
		lifecycle.StatusSettled,
	}
	require.Len(t, trade.Transitions, len(want))
	for i, tr := range trade.Transitions {
		assert.Equal(t, want[i], tr.To)
	}

	// One event per transition, in transition order.
	f.bus.Stop()
	events := f.bus.History("", 0)
	require.Len(t, events, len(want))
	wantTopics := []string{
		lifecycle.TopicTradeCaptured,
		lifecycle.TopicTradeValidated,
		lifecycle.TopicTradeConfirmed,
		lifecycle.TopicTradeAllocated,
		lifecycle.TopicTradeSettled,
	}
	for i, evt := range events {
		assert.Equal(t, wantTopics[i], evt.Metadata.Type)
		assert.Equal(t, trade.CorrelationID, evt.Metadata.CorrelationID)
	}
}

func TestTransitionEventsCarryActingUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trade := f.capture(t)

	_, err := f.orchestrator.Validate(ctx, trade.ID, "ops-user")
	require.NoError(t, err)
	_, err = f.orchestrator.Confirm(ctx, trade.ID, "desk-user", "")
	require.NoError(t, err)
	_, err = f.orchestrator.Cancel(ctx, trade.ID, "risk-user", "limit breach")
	require.NoError(t, err)

	f.bus.Stop()
	wantActors := map[string]string{
		lifecycle.TopicTradeCaptured:  "u1",
		lifecycle.TopicTradeValidated: "ops-user",
		lifecycle.TopicTradeConfirmed: "desk-user",
		lifecycle.TopicTradeCancelled: "risk-user",
	}
	events := f.bus.History("", 0)
	require.Len(t, events, len(wantActors))
	for _, evt := range events {
		assert.Equal(t, wantActors[evt.Metadata.Type], evt.Metadata.UserID, evt.Metadata.Type)
		// The aggregate still records its capturing owner.
		assert.Equal(t, "o1", evt.Metadata.OrganizationID)
	}

	got, err := f.orchestrator.GetStatus(trade.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
}

func TestValidateFailsOnInsufficientCredit(t *testing.T) {
	f := newFixture(t)
	f.credit.result = lifecycle.CreditResult{CanExecute: false}

	trade := f.capture(t)
	result, err := f.orchestrator.Validate(context.Background(), trade.ID, "u1")
	require.Error(t, err)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindValidationFailed, e.Kind)

	require.NotNil(t, result)
	assert.Equal(t, lifecycle.StatusFailed, result.Status)
	assert.Equal(t, []string{"Insufficient credit"}, result.ValidationErrors)
	assert.True(t, result.Terminal())

	// TradeValidated is published with the failure detail.
	f.bus.Stop()
	events := f.bus.History(lifecycle.TopicTradeValidated, 0)
	require.Len(t, events, 1)
	payload := events[0].Payload.(lifecycle.TradeValidated)
	assert.False(t, payload.Passed)
	assert.Equal(t, []string{"Insufficient credit"}, payload.Errors)
	assert.Equal(t, lifecycle.StatusFailed, payload.Status)
}

func TestValidateAggregatesAllFailures(t *testing.T) {
	f := newFixture(t)
	f.compliance.result = lifecycle.ComplianceResult{Compliant: false, Restrictions: []string{"sanctioned region"}}
	f.credit.result = lifecycle.CreditResult{CanExecute: false}
	f.risk.result = lifecycle.RiskAssessment{Level: lifecycle.RiskLevelCritical, Factors: []string{"oversized position"}}

	trade := f.capture(t)
	result, err := f.orchestrator.Validate(context.Background(), trade.ID, "u1")
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, lifecycle.StatusFailed, result.Status)
	require.Len(t, result.ValidationErrors, 3)
}

func TestValidateTreatsCollaboratorErrorAsFailure(t *testing.T) {
	f := newFixture(t)
	f.risk.err = fmt.Errorf("service unavailable")

	trade := f.capture(t)
	result, err := f.orchestrator.Validate(context.Background(), trade.ID, "u1")
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, lifecycle.StatusFailed, result.Status)
	require.Len(t, result.ValidationErrors, 1)
	assert.Contains(t, result.ValidationErrors[0], "risk assessment unavailable")
}

func TestGuardsRejectOutOfOrderTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trade := f.capture(t)

	// Settle straight from captured.
	_, err := f.orchestrator.Settle(ctx, trade.ID, "u1", lifecycle.Settlement{Reference: "x", Amount: decimal.NewFromInt(1)})
	requireKind(t, err, errs.KindInvalidStateTransition)

	// Double validate.
	_, err = f.orchestrator.Validate(ctx, trade.ID, "u1")
	require.NoError(t, err)
	_, err = f.orchestrator.Validate(ctx, trade.ID, "u1")
	requireKind(t, err, errs.KindInvalidStateTransition)

	// Confirm twice.
	_, err = f.orchestrator.Confirm(ctx, trade.ID, "u1", "")
	require.NoError(t, err)
	_, err = f.orchestrator.Confirm(ctx, trade.ID, "u1", "")
	requireKind(t, err, errs.KindInvalidStateTransition)
}

func TestCancelFromConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trade := f.capture(t)

	_, err := f.orchestrator.Validate(ctx, trade.ID, "u1")
	require.NoError(t, err)
	_, err = f.orchestrator.Confirm(ctx, trade.ID, "u1", "")
	require.NoError(t, err)

	cancelled, err := f.orchestrator.Cancel(ctx, trade.ID, "u1", "duplicate entry")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	last := cancelled.Transitions[len(cancelled.Transitions)-1]
	assert.Equal(t, "duplicate entry", last.Reason)
}

func TestCancelRejectedOnTerminalStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trade := f.capture(t)

	_, err := f.orchestrator.Validate(ctx, trade.ID, "u1")
	require.NoError(t, err)
	_, err = f.orchestrator.Confirm(ctx, trade.ID, "u1", "")
	require.NoError(t, err)
	_, err = f.orchestrator.Allocate(ctx, trade.ID, "u1", []lifecycle.AllocationLeg{{Account: "a", Quantity: decimal.NewFromInt(1)}})
	require.NoError(t, err)
	_, err = f.orchestrator.Settle(ctx, trade.ID, "u1", lifecycle.Settlement{Reference: "x", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	_, err = f.orchestrator.Cancel(ctx, trade.ID, "u1", "too late")
	requireKind(t, err, errs.KindInvalidStateTransition)

	// A cancelled trade cannot be cancelled again.
	other := f.capture(t)
	_, err = f.orchestrator.Cancel(ctx, other.ID, "u1", "first")
	require.NoError(t, err)
	_, err = f.orchestrator.Cancel(ctx, other.ID, "u1", "second")
	requireKind(t, err, errs.KindInvalidStateTransition)
}

func TestGetStatusIdempotent(t *testing.T) {
	f := newFixture(t)
	trade := f.capture(t)

	first, err := f.orchestrator.GetStatus(trade.ID)
	require.NoError(t, err)
	second, err := f.orchestrator.GetStatus(trade.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Mutating a returned copy must not affect the aggregate.
	first.Status = lifecycle.StatusSettled
	third, err := f.orchestrator.GetStatus(trade.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCaptured, third.Status)
}

func TestGetStatusUnknownTrade(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator.GetStatus(uuid.New())
	requireKind(t, err, errs.KindNotFound)
}

func TestListTradesPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.orchestrator.Capture(ctx, captureRequest(), "u1", "o1")
		require.NoError(t, err)
	}
	_, err := f.orchestrator.Capture(ctx, captureRequest(), "u2", "o1")
	require.NoError(t, err)
	_, err = f.orchestrator.Capture(ctx, captureRequest(), "u3", "o2")
	require.NoError(t, err)

	page1, total, err := f.orchestrator.ListTrades("", "o1", 1, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, page1, 4)

	page2, _, err := f.orchestrator.ListTrades("", "o1", 2, 4)
	require.NoError(t, err)
	assert.Len(t, page2, 2)

	mine, total, err := f.orchestrator.ListTrades("u1", "o1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, mine, 5)

	empty, total, err := f.orchestrator.ListTrades("", "o1", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Empty(t, empty)
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	settledTrade := f.capture(t)
	_, err := f.orchestrator.Validate(ctx, settledTrade.ID, "u1")
	require.NoError(t, err)
	_, err = f.orchestrator.Confirm(ctx, settledTrade.ID, "u1", "")
	require.NoError(t, err)
	_, err = f.orchestrator.Allocate(ctx, settledTrade.ID, "u1", []lifecycle.AllocationLeg{{Account: "a", Quantity: decimal.NewFromInt(1000)}})
	require.NoError(t, err)
	_, err = f.orchestrator.Settle(ctx, settledTrade.ID, "u1", lifecycle.Settlement{Reference: "x", Amount: decimal.NewFromInt(85500)})
	require.NoError(t, err)

	f.credit.result = lifecycle.CreditResult{CanExecute: false}
	failedTrade := f.capture(t)
	_, _ = f.orchestrator.Validate(ctx, failedTrade.ID, "u1")

	f.capture(t)                                                          // stays captured
	_, err = f.orchestrator.Capture(ctx, captureRequest(), "u9", "other") // different org
	require.NoError(t, err)

	a, err := f.orchestrator.Analytics("o1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, a.TotalTrades)
	assert.Equal(t, 1, a.ByStatus[lifecycle.StatusSettled])
	assert.Equal(t, 1, a.ByStatus[lifecycle.StatusFailed])
	assert.Equal(t, 1, a.ByStatus[lifecycle.StatusCaptured])
	assert.Equal(t, 1, a.FailedValidations)

	notional := decimal.NewFromInt(1000).Mul(decimal.NewFromFloat(85.5))
	assert.True(t, a.TotalNotional.Equal(notional.Mul(decimal.NewFromInt(3))))
	assert.True(t, a.SettledNotional.Equal(notional))

	// A window in the future matches nothing.
	future, err := f.orchestrator.Analytics("o1", time.Now().Add(time.Hour), time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, future.TotalTrades)
}

func requireKind(t *testing.T, err error, kind string) {
	t.Helper()
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, kind, e.Kind)
}
