package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager-core/internal/ledger"
	"wager-core/internal/lock"
	"wager-core/internal/models"
	"wager-core/internal/storage/storagetest"
)

func newCoordinator(t *testing.T, retries int) *lock.Coordinator {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c, err := lock.NewCoordinator(
		[]lock.Store{lock.NewRedisStore(client, "")},
		lock.WithRetry(lock.RetryPolicy{Count: retries, Delay: 2 * time.Millisecond, Jitter: 2 * time.Millisecond}),
		lock.WithStoreTimeout(time.Second),
	)
	require.NoError(t, err)
	return c
}

func newEngine(t *testing.T, opts ...ledger.Option) *ledger.Engine {
	t.Helper()
	e := ledger.NewEngine(storagetest.Open(t), newCoordinator(t, 500), opts...)
	t.Cleanup(func() { e.Close() })
	return e
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// assertAmount compares numerically; got is a decimal or a stored amount.
func assertAmount(t *testing.T, want string, got fmt.Stringer) {
	t.Helper()
	assert.True(t, amount(want).Equal(amount(got.String())), "want %s, got %s", want, got)
}

func deposit(t *testing.T, e *ledger.Engine, userID int64, asset, id, value string) ledger.Result {
	t.Helper()
	res, err := e.Apply(context.Background(), userID, asset, []ledger.Mutation{{
		OperationID: id,
		Operation:   models.OperationDepositCredit,
		Amount:      amount(value),
	}})
	require.NoError(t, err)
	return res
}

func debit(id, value string) []ledger.Mutation {
	return []ledger.Mutation{{
		OperationID: id,
		Operation:   models.OperationWagerDebit,
		Amount:      amount(value),
	}}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	deposit(t, e, 1, "USD", "dep-1", "10.00")

	ids := []string{"bet-a", "bet-b"}
	results := make([]ledger.Result, len(ids))
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i], errs[i] = e.Apply(ctx, 1, "USD", debit(id, "6.00"))
		}(i, id)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "both debits succeeded")
			winner = i
			continue
		}
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		assert.Equal(t, models.StatusFailed, results[i].Status)
		assert.Equal(t, ledger.MessageInsufficientBalance, ledger.Public(err))
	}
	require.NotEqual(t, -1, winner, "neither debit succeeded")
	assertAmount(t, "4", results[winner].Balance)

	wallet, err := e.Balance(ctx, 1, "USD")
	require.NoError(t, err)
	assertAmount(t, "4", wallet.Balance)

	replay, err := e.Apply(ctx, 1, "USD", debit(ids[winner], "6.00"))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, models.StatusConfirmed, replay.Status)
	assertAmount(t, "4", replay.Balance)

	wallet, err = e.Balance(ctx, 1, "USD")
	require.NoError(t, err)
	assertAmount(t, "4", wallet.Balance)

	history, err := e.History(ctx, 1, "USD", 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestConcurrentSameOperationAppliesOnce(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	var (
		wg       sync.WaitGroup
		applied  atomic.Int32
		replayed atomic.Int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Apply(ctx, 2, "USD", []ledger.Mutation{{
				OperationID: "dep-once",
				Operation:   models.OperationDepositCredit,
				Amount:      amount("5"),
			}})
			if !assert.NoError(t, err) {
				return
			}
			assertAmount(t, "5", res.Balance)
			if res.Replayed {
				replayed.Add(1)
			} else {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, int32(4), replayed.Load())

	wallet, err := e.Balance(ctx, 2, "USD")
	require.NoError(t, err)
	assertAmount(t, "5", wallet.Balance)
}

func TestReplayReturnsRecordedBalance(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	deposit(t, e, 3, "USD", "dep-1", "10")
	deposit(t, e, 3, "USD", "dep-2", "15")

	res := deposit(t, e, 3, "USD", "dep-1", "10")
	assert.True(t, res.Replayed)
	assertAmount(t, "10", res.Balance)
	require.Len(t, res.Entries, 1)
	assertAmount(t, "0", res.Entries[0].PreviousBalance)

	wallet, err := e.Balance(ctx, 3, "USD")
	require.NoError(t, err)
	assertAmount(t, "25", wallet.Balance)
}

func TestOperationIDReuseConflicts(t *testing.T) {
	e := newEngine(t)
	deposit(t, e, 4, "USD", "dep-1", "10")

	_, err := e.Apply(context.Background(), 4, "USD", []ledger.Mutation{{
		OperationID: "dep-1",
		Operation:   models.OperationDepositCredit,
		Amount:      amount("11"),
	}})
	assert.ErrorIs(t, err, ledger.ErrOperationConflict)

	_, err = e.Apply(context.Background(), 4, "USD", debit("dep-1", "10"))
	assert.ErrorIs(t, err, ledger.ErrOperationConflict)
}

func TestDebitWithoutWallet(t *testing.T) {
	e := newEngine(t)

	res, err := e.Apply(context.Background(), 5, "USD", debit("bet-1", "1"))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, models.StatusFailed, res.Status)

	_, err = e.Entry(context.Background(), "bet-1")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestCeiling(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, ledger.WithCeiling(amount("100")))
	deposit(t, e, 6, "USD", "dep-1", "90")

	_, err := e.Apply(ctx, 6, "USD", []ledger.Mutation{{
		OperationID: "dep-2",
		Operation:   models.OperationDepositCredit,
		Amount:      amount("20"),
	}})
	assert.ErrorIs(t, err, ledger.ErrCeilingExceeded)

	res := deposit(t, e, 6, "USD", "dep-3", "10")
	assertAmount(t, "100", res.Balance)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, ledger.WithAssets("USD", "BTC"), ledger.WithMinimumClaim(amount("5")))

	cases := []struct {
		name      string
		asset     string
		mutations []ledger.Mutation
		want      error
	}{
		{"unknown asset", "DOGE", debit("a", "1"), ledger.ErrInvalidAsset},
		{"empty asset", "", debit("a", "1"), ledger.ErrInvalidAsset},
		{"empty batch", "USD", nil, ledger.ErrInvalidMutation},
		{"missing id", "USD", debit("", "1"), ledger.ErrInvalidMutation},
		{"negative amount", "USD", debit("a", "-1"), ledger.ErrInvalidAmount},
		{"unknown operation", "USD", []ledger.Mutation{{OperationID: "a", Operation: "steal", Amount: amount("1")}}, ledger.ErrInvalidMutation},
		{"repeated id", "USD", append(debit("a", "1"), debit("a", "1")...), ledger.ErrInvalidMutation},
		{"claim below minimum", "USD", []ledger.Mutation{{OperationID: "a", Operation: models.OperationClaimDebit, Amount: amount("4.99")}}, ledger.ErrBelowMinimum},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := e.Apply(ctx, 7, tc.asset, tc.mutations)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, models.StatusFailed, res.Status)
		})
	}

	_, err := e.Apply(ctx, 7, "USD", []ledger.Mutation{{OperationID: "c", Operation: models.OperationClaimDebit, Amount: amount("4.99")}})
	assert.Equal(t, ledger.MessageBelowMinimum, ledger.Public(err))
}

func TestBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	deposit(t, e, 8, "USD", "dep-1", "10")

	_, err := e.Apply(ctx, 8, "USD", []ledger.Mutation{
		{OperationID: "w-1", Operation: models.OperationWagerDebit, Amount: amount("5")},
		{OperationID: "w-2", Operation: models.OperationWithdrawalDebit, Amount: amount("10")},
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	wallet, err := e.Balance(ctx, 8, "USD")
	require.NoError(t, err)
	assertAmount(t, "10", wallet.Balance)

	_, err = e.Entry(ctx, "w-1")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)

	stats, err := e.Statistics(ctx, 8, "USD")
	require.NoError(t, err)
	assertAmount(t, "0", stats.TotalWagered)
}

func TestBatchSettlementAndStatistics(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	deposit(t, e, 9, "USD", "dep-1", "10")

	res, err := e.Apply(ctx, 9, "USD", []ledger.Mutation{
		{OperationID: "round-1:wager", Operation: models.OperationWagerDebit, Amount: amount("5"), Metadata: map[string]any{"game": "dice"}},
		{OperationID: "round-1:payout", Operation: models.OperationSettlementCredit, Amount: amount("12.5")},
	})
	require.NoError(t, err)
	assertAmount(t, "17.5", res.Balance)
	require.Len(t, res.Entries, 2)
	assertAmount(t, "10", res.Entries[0].PreviousBalance)
	assertAmount(t, "5", res.Entries[0].BalanceAfter)
	assertAmount(t, "5", res.Entries[1].PreviousBalance)
	assertAmount(t, "17.5", res.Entries[1].BalanceAfter)

	entry, err := e.Entry(ctx, "round-1:wager")
	require.NoError(t, err)
	assert.Equal(t, "dice", entry.Metadata["game"])

	stats, err := e.Statistics(ctx, 9, "USD")
	require.NoError(t, err)
	assertAmount(t, "10", stats.TotalDeposited)
	assertAmount(t, "5", stats.TotalWagered)
	assertAmount(t, "12.5", stats.TotalWon)
}

func TestFractionalAmountsAreExact(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	deposit(t, e, 20, "USD", "frac-dep-1", "0.3")
	res, err := e.Apply(ctx, 20, "USD", []ledger.Mutation{
		{OperationID: "frac-w-1", Operation: models.OperationWagerDebit, Amount: amount("0.1")},
		{OperationID: "frac-w-2", Operation: models.OperationWagerDebit, Amount: amount("0.2")},
	})
	require.NoError(t, err)
	assertAmount(t, "0", res.Balance)
	assert.True(t, res.Balance.IsZero(), "balance %s", res.Balance)
	assertAmount(t, "0.2", res.Entries[0].BalanceAfter)

	// a float drift would leave a dust balance and reject this debit
	_, err = e.Apply(ctx, 20, "USD", []ledger.Mutation{
		{OperationID: "frac-w-3", Operation: models.OperationWagerDebit, Amount: amount("0.000000000000000001")},
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	deposit(t, e, 21, "USD", "frac-dep-2", "0.1")
	res = deposit(t, e, 21, "USD", "frac-dep-3", "0.2")
	assert.Equal(t, "0.3", res.Balance.String())
	assertAmount(t, "0.1", res.Entries[0].PreviousBalance)

	deposit(t, e, 22, "USD", "frac-dep-4", "12345678.123456789012345678")
	wallet, err := e.Balance(ctx, 22, "USD")
	require.NoError(t, err)
	assert.Equal(t, "12345678.123456789012345678", wallet.Balance.String())

	entry, err := e.Entry(ctx, "frac-dep-3")
	require.NoError(t, err)
	assert.Equal(t, "0.3", entry.BalanceAfter.String())

	stats, err := e.Statistics(ctx, 20, "USD")
	require.NoError(t, err)
	assert.Equal(t, "0.3", stats.TotalWagered.String())
	assert.Equal(t, "0.3", stats.TotalDeposited.String())

	stats, err = e.Statistics(ctx, 21, "USD")
	require.NoError(t, err)
	assert.Equal(t, "0.3", stats.TotalDeposited.String())
}

func TestFirstWalletIsPrimary(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	deposit(t, e, 10, "BTC", "dep-1", "1")
	deposit(t, e, 10, "USD", "dep-2", "1")

	wallets, err := e.Wallets(ctx, 10)
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	assert.Equal(t, "BTC", wallets[0].Asset)
	assert.True(t, wallets[0].IsPrimary)
	assert.False(t, wallets[1].IsPrimary)

	empty, err := e.Balance(ctx, 10, "ETH")
	require.NoError(t, err)
	assertAmount(t, "0", empty.Balance)
}

func TestNotifierRunsAfterCommit(t *testing.T) {
	events := make(chan ledger.BalanceEvent, 4)
	e := newEngine(t, ledger.WithNotifier(ledger.NotifierFunc(func(_ context.Context, ev ledger.BalanceEvent) error {
		events <- ev
		return nil
	})))

	deposit(t, e, 11, "USD", "dep-1", "3")
	deposit(t, e, 11, "USD", "dep-1", "3")
	e.Wait()

	require.Len(t, events, 1)
	ev := <-events
	assert.Equal(t, int64(11), ev.UserID)
	assert.Equal(t, []string{"dep-1"}, ev.OperationIDs)
	assertAmount(t, "3", ev.Balance)
}

func TestNotifierFailureDoesNotFailMutation(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newEngine(t,
		ledger.WithRegisterer(reg),
		ledger.WithNotifyTimeout(50*time.Millisecond),
		ledger.WithNotifier(ledger.NotifierFunc(func(ctx context.Context, _ ledger.BalanceEvent) error {
			<-ctx.Done()
			return errors.New("push gateway unreachable")
		})),
	)

	res := deposit(t, e, 12, "USD", "dep-1", "3")
	assert.Equal(t, models.StatusConfirmed, res.Status)
	e.Wait()

	wallet, err := e.Balance(context.Background(), 12, "USD")
	require.NoError(t, err)
	assertAmount(t, "3", wallet.Balance)
}

func TestSystemBusyWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	coordinator := newCoordinator(t, 0)
	e := ledger.NewEngine(storagetest.Open(t), coordinator)
	defer e.Close()

	held, err := coordinator.TryAcquire(ctx, ledger.LockKey(13, "USD"), time.Minute)
	require.NoError(t, err)

	res, err := e.Apply(ctx, 13, "USD", debit("bet-1", "1"))
	assert.ErrorIs(t, err, ledger.ErrSystemBusy)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, ledger.MessageSystemBusy, ledger.Public(err))

	coordinator.Release(ctx, held)
	deposit(t, e, 13, "USD", "dep-1", "1")
}

func TestAmountFromFloat(t *testing.T) {
	v, err := ledger.AmountFromFloat(2.5)
	require.NoError(t, err)
	assertAmount(t, "2.5", v)

	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := ledger.AmountFromFloat(f)
		assert.ErrorIs(t, err, ledger.ErrIntegrity)
		assert.Equal(t, ledger.MessageInternal, ledger.Public(err))
	}
}

func TestPublic(t *testing.T) {
	assert.Equal(t, "", ledger.Public(nil))
	assert.Equal(t, ledger.MessageInternal, ledger.Public(errors.New("disk on fire")))
	assert.Equal(t, ledger.MessageSystemBusy, ledger.Public(lock.ErrNotAcquired))
	assert.True(t, ledger.IsBusinessError(ledger.ErrCeilingExceeded))
	assert.False(t, ledger.IsBusinessError(ledger.ErrIntegrity))
}
