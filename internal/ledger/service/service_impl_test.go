package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/leadcore/internal/clock"
	costdomain "github.com/smallbiznis/leadcore/internal/costguard/domain"
	ledgerdomain "github.com/smallbiznis/leadcore/internal/ledger/domain"
	"github.com/smallbiznis/leadcore/internal/testsupport"
	"github.com/smallbiznis/leadcore/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupLedger(t *testing.T) (ledgerdomain.Service, *gorm.DB) {
	t.Helper()

	conn := testsupport.OpenDB(t)
	svc := NewService(Params{
		Scope: db.NewScope(conn),
		Log:   zap.NewNop(),
		GenID: testsupport.MustNode(t),
		Clock: clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
	})
	return svc, conn
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestGetBalanceUnknownTenant(t *testing.T) {
	svc, _ := setupLedger(t)

	_, err := svc.GetBalance(context.Background(), "ghost")
	require.ErrorIs(t, err, ledgerdomain.ErrTenantNotFound)
}

func TestEnsureTenantStartsAtZero(t *testing.T) {
	svc, _ := setupLedger(t)
	ctx := context.Background()

	bal, err := svc.EnsureTenant(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, bal.Balance.IsZero())
	assert.Nil(t, bal.DailyCapUSD)

	_, err = svc.EnsureTenant(ctx, "t1")
	require.NoError(t, err)
}

func TestDeductTokensRejectsInsufficientBalance(t *testing.T) {
	svc, conn := setupLedger(t)
	ctx := context.Background()

	_, err := svc.TopUpTokens(ctx, ledgerdomain.TopUpRequest{TenantID: "t1", Amount: dec("5"), ReferenceID: "pay-1"})
	require.NoError(t, err)

	_, err = svc.DeductTokens(ctx, ledgerdomain.DeductRequest{
		TenantID:  "t1",
		Amount:    dec("5.000001"),
		Operation: ledgerdomain.OperationQualificationTurn,
	})
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientBalance)

	bal, err := svc.GetBalance(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(dec("5")))
	assert.Equal(t, int64(1), countEntries(t, conn, "t1"))

	left, err := svc.DeductTokens(ctx, ledgerdomain.DeductRequest{
		TenantID:  "t1",
		Amount:    dec("5"),
		Operation: ledgerdomain.OperationQualificationTurn,
	})
	require.NoError(t, err)
	assert.True(t, left.IsZero())
}

func TestDeductTokensValidation(t *testing.T) {
	svc, _ := setupLedger(t)
	ctx := context.Background()

	_, err := svc.DeductTokens(ctx, ledgerdomain.DeductRequest{TenantID: "t1", Amount: dec("0"), Operation: "x"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)

	_, err = svc.DeductTokens(ctx, ledgerdomain.DeductRequest{TenantID: "t1", Amount: dec("-1"), Operation: "x"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)

	_, err = svc.DeductTokens(ctx, ledgerdomain.DeductRequest{TenantID: "t1", Amount: dec("1")})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidOperation)

	_, err = svc.DeductTokens(ctx, ledgerdomain.DeductRequest{TenantID: "t1", Amount: dec("1"), Operation: "x"})
	assert.ErrorIs(t, err, ledgerdomain.ErrTenantNotFound)
}

func TestTopUpTokensIsIdempotentByReference(t *testing.T) {
	svc, conn := setupLedger(t)
	ctx := context.Background()

	req := ledgerdomain.TopUpRequest{TenantID: "t1", Amount: dec("100"), ReferenceID: "ref-1"}
	first, err := svc.TopUpTokens(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.True(t, first.Balance.Equal(dec("100")))

	second, err := svc.TopUpTokens(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.True(t, second.Balance.Equal(dec("100")))

	assert.Equal(t, int64(1), countEntries(t, conn, "t1"))

	_, err = svc.TopUpTokens(ctx, ledgerdomain.TopUpRequest{TenantID: "t1", Amount: dec("1")})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidReference)
}

func TestTopUpTokensConcurrentSameReference(t *testing.T) {
	svc, _ := setupLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.TopUpTokens(ctx, ledgerdomain.TopUpRequest{TenantID: "t1", Amount: dec("100"), ReferenceID: "ref-1"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	bal, err := svc.GetBalance(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(dec("100")), "balance %s", bal.Balance)
}

func TestConcurrentDeductionsNeverOverdraw(t *testing.T) {
	svc, conn := setupLedger(t)
	ctx := context.Background()

	_, err := svc.TopUpTokens(ctx, ledgerdomain.TopUpRequest{TenantID: "t1", Amount: dec("10"), ReferenceID: "seed"})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded = decimal.Zero
		rejected  int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.DeductTokens(ctx, ledgerdomain.DeductRequest{
				TenantID:    "t1",
				Amount:      dec("1.5"),
				Operation:   ledgerdomain.OperationAIGeneration,
				ReferenceID: fmt.Sprintf("call-%d", i),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded = succeeded.Add(dec("1.5"))
			case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	bal, err := svc.GetBalance(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, bal.Balance.IsNegative())
	assert.True(t, succeeded.Equal(dec("9")), "succeeded %s", succeeded)
	assert.Equal(t, 19, rejected)
	assert.True(t, succeeded.Add(bal.Balance).Equal(dec("10")))

	// sum of all deltas reconciles with the stored balance
	assert.True(t, sumDeltas(t, conn, "t1").Equal(bal.Balance))
}

func TestSetCap(t *testing.T) {
	svc, _ := setupLedger(t)
	ctx := context.Background()

	_, err := svc.SetCap(ctx, "t1", dec("10"))
	require.ErrorIs(t, err, ledgerdomain.ErrTenantNotFound)

	_, err = svc.EnsureTenant(ctx, "t1")
	require.NoError(t, err)

	_, err = svc.SetCap(ctx, "t1", dec("-1"))
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidCap)

	bal, err := svc.SetCap(ctx, "t1", dec("25.5"))
	require.NoError(t, err)
	require.NotNil(t, bal.DailyCapUSD)
	assert.True(t, bal.DailyCapUSD.Equal(dec("25.5")))

	got, err := svc.GetBalance(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got.DailyCapUSD)
	assert.True(t, got.DailyCapUSD.Equal(dec("25.5")))
}

func TestGetBalanceRemainingToday(t *testing.T) {
	svc, conn := setupLedger(t)
	ctx := context.Background()

	_, err := svc.EnsureTenant(ctx, "t1")
	require.NoError(t, err)
	bal, err := svc.GetBalance(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, bal.RemainingUSD)

	_, err = svc.SetCap(ctx, "t1", dec("10"))
	require.NoError(t, err)
	bal, err = svc.GetBalance(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, bal.RemainingUSD)
	assert.True(t, bal.RemainingUSD.Equal(dec("10")))

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, conn.Create(&[]costdomain.UsageRecord{
		{TenantID: "t1", UsageDate: "2025-03-01", CostUSD: dec("3.5"), RequestCount: 2, LastUpdated: now, CreatedAt: now},
		{TenantID: "t1", UsageDate: "2025-02-28", CostUSD: dec("9"), RequestCount: 5, LastUpdated: now, CreatedAt: now},
	}).Error)

	bal, err = svc.GetBalance(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, bal.RemainingUSD)
	assert.True(t, bal.RemainingUSD.Equal(dec("6.5")), bal.RemainingUSD.String())

	require.NoError(t, conn.Model(&costdomain.UsageRecord{}).
		Where("tenant_id = ? AND usage_date = ?", "t1", "2025-03-01").
		Update("cost_usd", dec("12")).Error)
	bal, err = svc.GetBalance(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, bal.RemainingUSD.IsZero())
}

func TestDeductJoinsOuterScope(t *testing.T) {
	svc, conn := setupLedger(t)
	ctx := context.Background()
	scope := db.NewScope(conn)

	_, err := svc.TopUpTokens(ctx, ledgerdomain.TopUpRequest{TenantID: "t1", Amount: dec("3"), ReferenceID: "seed"})
	require.NoError(t, err)

	boom := errors.New("state write failed")
	err = scope.Run(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if _, err := svc.DeductTokens(ctx, ledgerdomain.DeductRequest{
			TenantID:  "t1",
			Amount:    dec("1"),
			Operation: ledgerdomain.OperationQualificationTurn,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	bal, err := svc.GetBalance(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(dec("3")))
	assert.Equal(t, int64(1), countEntries(t, conn, "t1"))
}

func TestListEntriesPaginates(t *testing.T) {
	svc, _ := setupLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.TopUpTokens(ctx, ledgerdomain.TopUpRequest{
			TenantID:    "t1",
			Amount:      dec("1"),
			ReferenceID: fmt.Sprintf("ref-%d", i),
		})
		require.NoError(t, err)
	}

	first, err := svc.ListEntries(ctx, ledgerdomain.ListEntriesRequest{TenantID: "t1", PageSize: 3})
	require.NoError(t, err)
	require.Len(t, first.Entries, 3)
	assert.True(t, first.HasMore)
	assert.Greater(t, int64(first.Entries[0].ID), int64(first.Entries[1].ID))

	second, err := svc.ListEntries(ctx, ledgerdomain.ListEntriesRequest{TenantID: "t1", PageSize: 3, PageToken: first.NextPageToken})
	require.NoError(t, err)
	assert.Len(t, second.Entries, 2)
	assert.False(t, second.HasMore)

	_, err = svc.ListEntries(ctx, ledgerdomain.ListEntriesRequest{TenantID: "t1", PageToken: "%%%"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPageToken)
}

func countEntries(t *testing.T, conn *gorm.DB, tenantID string) int64 {
	t.Helper()
	var count int64
	if err := conn.Raw(`SELECT COUNT(1) FROM token_ledger_entries WHERE tenant_id = ?`, tenantID).Scan(&count).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	return count
}

func sumDeltas(t *testing.T, conn *gorm.DB, tenantID string) decimal.Decimal {
	t.Helper()
	var entries []ledgerdomain.LedgerEntry
	if err := conn.Where("tenant_id = ?", tenantID).Find(&entries).Error; err != nil {
		t.Fatalf("load entries: %v", err)
	}
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Delta)
	}
	return total
}
