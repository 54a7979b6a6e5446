package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leadcore/internal/clock"
	"github.com/smallbiznis/leadcore/internal/config"
	paymentdomain "github.com/smallbiznis/leadcore/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockPayments struct {
	mock.Mock
}

func (m *mockPayments) ProcessEvent(ctx context.Context, event paymentdomain.PaymentEvent) (paymentdomain.ProcessResult, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(paymentdomain.ProcessResult), args.Error(1)
}

var now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_123","type":"payment_succeeded"}`)
	header := Sign("whsec_test", payload, now)

	require.NoError(t, Verify("whsec_test", payload, header, now, DefaultTolerance))
	assert.ErrorIs(t, Verify("wrong", payload, header, now, DefaultTolerance), paymentdomain.ErrInvalidSignature)
	assert.ErrorIs(t, Verify("whsec_test", []byte(`{}`), header, now, DefaultTolerance), paymentdomain.ErrInvalidSignature)
	assert.ErrorIs(t, Verify("whsec_test", payload, header, now.Add(10*time.Minute), DefaultTolerance), paymentdomain.ErrSignatureExpired)
	assert.ErrorIs(t, Verify("", payload, header, now, DefaultTolerance), paymentdomain.ErrWebhookDisabled)
	assert.ErrorIs(t, Verify("whsec_test", payload, "v1=abc", now, DefaultTolerance), paymentdomain.ErrInvalidSignature)
	assert.ErrorIs(t, Verify("whsec_test", payload, "t=abc,v1=abc", now, DefaultTolerance), paymentdomain.ErrInvalidSignature)
}

func TestVerifyAcceptsAnyRotatedSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	current := Sign("new_secret", payload, now)
	header := current + ",v1=" + computeSignature("old_secret", "1740819600", payload)

	require.NoError(t, Verify("new_secret", payload, header, now, DefaultTolerance))
}

func TestIngestParsesAndProcesses(t *testing.T) {
	payments := &mockPayments{}
	svc := NewService(Params{
		Cfg:        config.Config{Payment: config.PaymentConfig{WebhookSecret: "whsec_test"}},
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(now),
		PaymentSvc: payments,
	})

	payload := []byte(`{"id":"evt_9","type":"payment_succeeded","tenant_id":"t1","amount":"12.50","currency":"usd","created":1740819000}`)
	payments.On("ProcessEvent", mock.Anything, mock.MatchedBy(func(e paymentdomain.PaymentEvent) bool {
		return e.Provider == "stripe" &&
			e.EventID == "evt_9" &&
			e.TenantID == "t1" &&
			e.Amount.Equal(decimal.RequireFromString("12.5")) &&
			e.OccurredAt.Equal(time.Unix(1740819000, 0))
	})).Return(paymentdomain.ProcessResult{EventID: "evt_9", Status: paymentdomain.StatusCredited}, nil).Once()

	res, err := svc.Ingest(context.Background(), " Stripe ", payload, Sign("whsec_test", payload, now))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusCredited, res.Status)
	payments.AssertExpectations(t)
}

func TestIngestRejectsBeforeProcessing(t *testing.T) {
	payments := &mockPayments{}
	svc := NewService(Params{
		Cfg:        config.Config{Payment: config.PaymentConfig{WebhookSecret: "whsec_test"}},
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(now),
		PaymentSvc: payments,
	})
	payload := []byte(`{"id":"evt_9"}`)

	_, err := svc.Ingest(context.Background(), "stripe", payload, Sign("other", payload, now))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	_, err = svc.Ingest(context.Background(), "", payload, Sign("whsec_test", payload, now))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidProvider)

	broken := []byte(`not json`)
	_, err = svc.Ingest(context.Background(), "stripe", broken, Sign("whsec_test", broken, now))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	payments.AssertNotCalled(t, "ProcessEvent", mock.Anything, mock.Anything)
}
