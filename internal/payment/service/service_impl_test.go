package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leadcore/internal/clock"
	"github.com/smallbiznis/leadcore/internal/config"
	ledgerdomain "github.com/smallbiznis/leadcore/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/leadcore/internal/ledger/service"
	paymentdomain "github.com/smallbiznis/leadcore/internal/payment/domain"
	"github.com/smallbiznis/leadcore/internal/payment/repository"
	"github.com/smallbiznis/leadcore/internal/testsupport"
	"github.com/smallbiznis/leadcore/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc    *Service
	ledger ledgerdomain.Service
	conn   *gorm.DB
}

func setup(t *testing.T) fixture {
	t.Helper()

	conn := testsupport.OpenDB(t)
	node := testsupport.MustNode(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	scope := db.NewScope(conn)

	ledger := ledgerservice.NewService(ledgerservice.Params{
		Scope: scope,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	svc := NewService(Params{
		Scope:     scope,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Config:    config.Config{Payment: config.PaymentConfig{TokensPerCurrencyUnit: "10"}},
		LedgerSvc: ledger,
		Repo:      repository.Provide(),
	})
	return fixture{svc: svc, ledger: ledger, conn: conn}
}

func succeeded(eventID, tenantID, amount string) paymentdomain.PaymentEvent {
	return paymentdomain.PaymentEvent{
		Provider: "Stripe",
		EventID:  eventID,
		Type:     paymentdomain.EventPaymentSucceeded,
		TenantID: tenantID,
		Amount:   decimal.RequireFromString(amount),
		Currency: "usd",
	}
}

func TestProcessEventCreditsTokens(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.ProcessEvent(ctx, succeeded("evt_1", "t1", "2.5"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusCredited, res.Status)
	assert.False(t, res.Duplicate)
	assert.True(t, res.Tokens.Equal(decimal.NewFromInt(25)))
	require.NotNil(t, res.Balance)
	assert.True(t, res.Balance.Equal(decimal.NewFromInt(25)))

	bal, err := f.ledger.GetBalance(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(decimal.NewFromInt(25)))

	var stored paymentdomain.EventRecord
	require.NoError(t, f.conn.Where("provider = ? AND event_id = ?", "stripe", "evt_1").First(&stored).Error)
	assert.Equal(t, paymentdomain.StatusCredited, stored.Status)
	assert.Equal(t, "USD", stored.Currency)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestProcessEventRedeliveryIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.ProcessEvent(ctx, succeeded("evt_1", "t1", "1"))
	require.NoError(t, err)

	res, err := f.svc.ProcessEvent(ctx, succeeded("evt_1", "t1", "1"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, paymentdomain.StatusCredited, res.Status)

	bal, err := f.ledger.GetBalance(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(decimal.NewFromInt(10)))

	var rows int64
	require.NoError(t, f.conn.Model(&paymentdomain.EventRecord{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)

	var entries int64
	require.NoError(t, f.conn.Model(&ledgerdomain.LedgerEntry{}).Where("tenant_id = ?", "t1").Count(&entries).Error)
	assert.Equal(t, int64(1), entries)
}

func TestProcessEventSameIDOtherProvider(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.ProcessEvent(ctx, succeeded("evt_1", "t1", "1"))
	require.NoError(t, err)

	other := succeeded("evt_1", "t1", "1")
	other.Provider = "razorpay"
	res, err := f.svc.ProcessEvent(ctx, other)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	bal, err := f.ledger.GetBalance(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(decimal.NewFromInt(20)))
}

func TestProcessEventNonCreditingTypes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	failed := succeeded("evt_f", "t1", "0")
	failed.Type = paymentdomain.EventPaymentFailed
	res, err := f.svc.ProcessEvent(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusIgnored, res.Status)

	refund := succeeded("evt_r", "t1", "3")
	refund.Type = paymentdomain.EventPaymentRefunded
	res, err = f.svc.ProcessEvent(ctx, refund)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusManualReview, res.Status)
	assert.True(t, res.Tokens.IsZero())

	var entries int64
	require.NoError(t, f.conn.Model(&ledgerdomain.LedgerEntry{}).Count(&entries).Error)
	assert.Zero(t, entries)
}

func TestProcessEventValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*paymentdomain.PaymentEvent)
		want   error
	}{
		{"provider", func(e *paymentdomain.PaymentEvent) { e.Provider = " " }, paymentdomain.ErrInvalidProvider},
		{"event id", func(e *paymentdomain.PaymentEvent) { e.EventID = "" }, paymentdomain.ErrInvalidEvent},
		{"tenant", func(e *paymentdomain.PaymentEvent) { e.TenantID = "" }, paymentdomain.ErrInvalidTenant},
		{"type", func(e *paymentdomain.PaymentEvent) { e.Type = "charge.captured" }, paymentdomain.ErrInvalidEventType},
		{"amount", func(e *paymentdomain.PaymentEvent) { e.Amount = decimal.Zero }, paymentdomain.ErrInvalidAmount},
		{"currency", func(e *paymentdomain.PaymentEvent) { e.Currency = "dollars" }, paymentdomain.ErrInvalidCurrency},
		{"payload", func(e *paymentdomain.PaymentEvent) { e.RawPayload = []byte("{broken") }, paymentdomain.ErrInvalidPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event := succeeded("evt_v", "t1", "1")
			tc.mutate(&event)
			_, err := f.svc.ProcessEvent(ctx, event)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	var rows int64
	require.NoError(t, f.conn.Model(&paymentdomain.EventRecord{}).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestReference(t *testing.T) {
	assert.Equal(t, "stripe:evt_1", Reference("stripe", "evt_1"))
}
