package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wager-core/internal/lock"
	"wager-core/internal/models"
)

const (
	DefaultLockTTL       = 5 * time.Second
	DefaultNotifyTimeout = 5 * time.Second
	MaxBatchSize         = 32
	maxAssetLength       = 16
)

var DefaultCeiling = decimal.New(1, 12)

// Locker serializes mutations of one wallet across processes.
type Locker interface {
	WithLock(ctx context.Context, resource string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Mutation is one requested balance change. Amount is a non-negative
// magnitude; the operation kind decides the sign.
type Mutation struct {
	OperationID string
	Operation   models.OperationKind
	Amount      decimal.Decimal
	Metadata    map[string]any
}

type Result struct {
	Balance decimal.Decimal    `json:"balance"`
	Status  models.EntryStatus `json:"status"`
	// Replayed is true when every mutation in the batch had already been
	// applied and nothing changed.
	Replayed bool                 `json:"replayed"`
	Entries  []models.LedgerEntry `json:"entries,omitempty"`
}

type Engine struct {
	db            *gorm.DB
	locker        Locker
	ceiling       decimal.Decimal
	assets        map[string]bool
	minClaim      decimal.Decimal
	lockTTL       time.Duration
	notifier      Notifier
	notifyTimeout time.Duration
	logger        *slog.Logger
	registerer    prometheus.Registerer
	metrics       *metrics
	now           func() time.Time
	wg            sync.WaitGroup
}

type Option func(*Engine)

func WithCeiling(ceiling decimal.Decimal) Option {
	return func(e *Engine) {
		e.ceiling = ceiling
	}
}

// WithAssets restricts the accepted assets. Without it any well-formed
// asset code is accepted.
func WithAssets(assets ...string) Option {
	return func(e *Engine) {
		for _, a := range assets {
			if a = strings.TrimSpace(a); a != "" {
				e.assets[a] = true
			}
		}
	}
}

func WithMinimumClaim(min decimal.Decimal) Option {
	return func(e *Engine) {
		e.minClaim = min
	}
}

func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = ttl
	}
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

func WithNotifyTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.notifyTimeout = timeout
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registerer = reg
	}
}

func NewEngine(db *gorm.DB, locker Locker, opts ...Option) *Engine {
	e := &Engine{
		db:            db,
		locker:        locker,
		ceiling:       DefaultCeiling,
		assets:        map[string]bool{},
		lockTTL:       DefaultLockTTL,
		notifyTimeout: DefaultNotifyTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e.metrics = newMetrics(e.registerer)
	return e
}

// LockKey names the lock guarding one wallet.
func LockKey(userID int64, asset string) string {
	return fmt.Sprintf("wallet:%d:%s", userID, asset)
}

// AmountFromFloat converts a float amount. NaN and infinities are integrity
// faults, never valid input.
func AmountFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("%w: non-finite amount %v", ErrIntegrity, f)
	}
	return decimal.NewFromFloat(f), nil
}

// Apply runs the mutations as one atomic batch under the wallet lock. A
// mutation whose operation id is already recorded is not applied again; if
// the whole batch was recorded before, the balance recorded by its last
// entry is returned.
func (e *Engine) Apply(ctx context.Context, userID int64, asset string, mutations []Mutation) (Result, error) {
	start := e.now()
	defer func() {
		e.metrics.applyDuration.Observe(e.now().Sub(start).Seconds())
	}()

	if err := e.validate(asset, mutations); err != nil {
		e.countFailed(mutations)
		return Result{Status: models.StatusFailed}, err
	}

	var result Result
	err := e.locker.WithLock(ctx, LockKey(userID, asset), e.lockTTL, func(ctx context.Context) error {
		var err error
		result, err = e.applyLocked(ctx, userID, asset, mutations)
		if err != nil && !IsBusinessError(err) && e.recorded(ctx, mutations) {
			// a concurrent writer outside this lock recorded one of the ids
			result, err = e.applyLocked(ctx, userID, asset, mutations)
		}
		return err
	})
	if err != nil {
		e.countFailed(mutations)
		if errors.Is(err, lock.ErrNotAcquired) {
			return Result{Status: models.StatusFailed}, fmt.Errorf("%w: %w", ErrSystemBusy, err)
		}
		if !IsBusinessError(err) {
			e.logger.Error("ledger batch failed",
				"user_id", userID,
				"asset", asset,
				"operation_id", mutations[0].OperationID,
				"error", err,
			)
		}
		return Result{Status: models.StatusFailed}, err
	}

	if result.Replayed {
		e.metrics.replays.Add(float64(len(mutations)))
		return result, nil
	}
	ids := make([]string, 0, len(mutations))
	for _, m := range mutations {
		e.metrics.mutations.WithLabelValues(string(m.Operation), string(models.StatusConfirmed)).Inc()
		ids = append(ids, m.OperationID)
	}
	e.notify(BalanceEvent{
		UserID:       userID,
		Asset:        asset,
		Balance:      result.Balance,
		OperationIDs: ids,
		OccurredAt:   e.now(),
	})
	return result, nil
}

func (e *Engine) countFailed(mutations []Mutation) {
	for _, m := range mutations {
		e.metrics.mutations.WithLabelValues(string(m.Operation), string(models.StatusFailed)).Inc()
	}
}

func (e *Engine) validate(asset string, mutations []Mutation) error {
	if asset == "" || len(asset) > maxAssetLength || strings.TrimSpace(asset) != asset {
		return fmt.Errorf("%w: %q", ErrInvalidAsset, asset)
	}
	if len(e.assets) > 0 && !e.assets[asset] {
		return fmt.Errorf("%w: %q", ErrInvalidAsset, asset)
	}
	if len(mutations) == 0 || len(mutations) > MaxBatchSize {
		return fmt.Errorf("%w: batch size %d", ErrInvalidMutation, len(mutations))
	}

	seen := make(map[string]bool, len(mutations))
	for _, m := range mutations {
		if m.OperationID == "" {
			return fmt.Errorf("%w: missing operation id", ErrInvalidMutation)
		}
		if seen[m.OperationID] {
			return fmt.Errorf("%w: operation id %s repeated in batch", ErrInvalidMutation, m.OperationID)
		}
		seen[m.OperationID] = true
		if !m.Operation.Valid() {
			return fmt.Errorf("%w: unknown operation %q", ErrInvalidMutation, m.Operation)
		}
		if m.Amount.IsNegative() {
			return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, m.Amount)
		}
		if m.Operation == models.OperationClaimDebit && m.Amount.LessThan(e.minClaim) {
			return fmt.Errorf("%w: claim %s below %s", ErrBelowMinimum, m.Amount, e.minClaim)
		}
	}
	return nil
}

func (e *Engine) applyLocked(ctx context.Context, userID int64, asset string, mutations []Mutation) (Result, error) {
	var result Result
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		replayed := 0
		for _, m := range mutations {
			existing, err := findEntry(tx, m.OperationID)
			if err != nil {
				return err
			}
			if existing != nil {
				if !sameMutation(existing, userID, asset, m) {
					return fmt.Errorf("%w: %s", ErrOperationConflict, m.OperationID)
				}
				result.Entries = append(result.Entries, *existing)
				replayed++
				continue
			}

			entry, err := e.applyOne(tx, userID, asset, m)
			if err != nil {
				return err
			}
			result.Entries = append(result.Entries, *entry)
		}

		result.Status = models.StatusConfirmed
		if replayed == len(mutations) {
			result.Replayed = true
			result.Balance = result.Entries[len(result.Entries)-1].BalanceAfter.Decimal
			return nil
		}
		wallet, err := findWallet(tx, userID, asset)
		if err != nil {
			return err
		}
		if wallet == nil {
			return fmt.Errorf("%w: wallet missing after update", ErrIntegrity)
		}
		result.Balance = wallet.Balance.Decimal
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func (e *Engine) applyOne(tx *gorm.DB, userID int64, asset string, m Mutation) (*models.LedgerEntry, error) {
	now := e.now()
	delta := m.Operation.Signed(m.Amount)

	if !m.Operation.IsDebit() {
		if err := ensureWallet(tx, userID, asset, now); err != nil {
			return nil, err
		}
	}

	wallet, err := findWallet(tx, userID, asset)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		if m.Operation.IsDebit() {
			return nil, fmt.Errorf("%w: no %s wallet", ErrInsufficientBalance, asset)
		}
		return nil, fmt.Errorf("%w: wallet missing after creation", ErrIntegrity)
	}

	next := wallet.Balance.Add(delta)
	switch {
	case next.IsNegative():
		return nil, fmt.Errorf("%w: balance %s, debit %s", ErrInsufficientBalance, wallet.Balance, m.Amount)
	case next.GreaterThan(e.ceiling):
		return nil, fmt.Errorf("%w: balance %s, credit %s", ErrCeilingExceeded, wallet.Balance, m.Amount)
	}

	// compare-and-set on the balance read above; the wallet lock makes a
	// mismatch an integrity failure rather than contention
	res := tx.Model(&models.Wallet{}).
		Where("id = ? AND balance = ?", wallet.ID, wallet.Balance).
		Updates(map[string]any{
			"balance":    models.NewAmount(next),
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update balance: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, fmt.Errorf("%w: balance changed under the wallet lock (%d rows)", ErrIntegrity, res.RowsAffected)
	}

	entry := &models.LedgerEntry{
		ID:              models.NewID(),
		OperationID:     m.OperationID,
		Operation:       m.Operation,
		UserID:          userID,
		Asset:           asset,
		Amount:          models.NewAmount(m.Amount),
		PreviousBalance: wallet.Balance,
		BalanceAfter:    models.NewAmount(next),
		Status:          models.StatusConfirmed,
		CreatedAt:       now,
	}
	if len(m.Metadata) > 0 {
		entry.Metadata = datatypes.JSONMap(m.Metadata)
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to record ledger entry: %w", err)
	}

	if err := addStatistics(tx, userID, asset, m, now); err != nil {
		return nil, err
	}
	return entry, nil
}

func ensureWallet(tx *gorm.DB, userID int64, asset string, now time.Time) error {
	existing, err := findWallet(tx, userID, asset)
	if err != nil || existing != nil {
		return err
	}

	var owned int64
	if err := tx.Model(&models.Wallet{}).Where("user_id = ?", userID).Count(&owned).Error; err != nil {
		return fmt.Errorf("failed to count wallets: %w", err)
	}
	wallet := models.Wallet{
		UserID:    userID,
		Asset:     asset,
		Balance:   models.NewAmount(decimal.Zero),
		IsPrimary: owned == 0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&wallet).Error; err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

// addStatistics runs under the same wallet lock as the balance update, so
// a read-modify-write of the rollup row cannot interleave.
func addStatistics(tx *gorm.DB, userID int64, asset string, m Mutation, now time.Time) error {
	column := models.StatisticsColumn(m.Operation)
	if column == "" {
		return nil
	}
	stats := models.UserStatistics{UserID: userID, Asset: asset, UpdatedAt: now}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&stats).Error; err != nil {
		return fmt.Errorf("failed to create statistics: %w", err)
	}
	var current models.UserStatistics
	if err := tx.Where("user_id = ? AND asset = ?", userID, asset).Take(&current).Error; err != nil {
		return fmt.Errorf("failed to load statistics: %w", err)
	}
	total := current.Total(m.Operation)
	err := tx.Model(&models.UserStatistics{}).
		Where("id = ?", current.ID).
		Updates(map[string]any{
			column:       models.NewAmount(total.Add(m.Amount)),
			"updated_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update statistics: %w", err)
	}
	return nil
}

func findWallet(tx *gorm.DB, userID int64, asset string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := tx.Where("user_id = ? AND asset = ?", userID, asset).Take(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	return &wallet, nil
}

func findEntry(tx *gorm.DB, operationID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := tx.Where("operation_id = ? AND status = ?", operationID, models.StatusConfirmed).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up operation %s: %w", operationID, err)
	}
	return &entry, nil
}

func sameMutation(entry *models.LedgerEntry, userID int64, asset string, m Mutation) bool {
	return entry.UserID == userID &&
		entry.Asset == asset &&
		entry.Operation == m.Operation &&
		entry.Amount.Equal(m.Amount)
}

// recorded reports whether any of the batch's operation ids now exist.
func (e *Engine) recorded(ctx context.Context, mutations []Mutation) bool {
	ids := make([]string, 0, len(mutations))
	for _, m := range mutations {
		ids = append(ids, m.OperationID)
	}
	var count int64
	err := e.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("operation_id IN ?", ids).Count(&count).Error
	return err == nil && count > 0
}

// Entry returns the confirmed entry recorded for an operation id.
func (e *Engine) Entry(ctx context.Context, operationID string) (*models.LedgerEntry, error) {
	entry, err := findEntry(e.db.WithContext(ctx), operationID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrEntryNotFound
	}
	return entry, nil
}

// Balance returns the wallet, or an empty one if it was never credited.
func (e *Engine) Balance(ctx context.Context, userID int64, asset string) (*models.Wallet, error) {
	wallet, err := findWallet(e.db.WithContext(ctx), userID, asset)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return &models.Wallet{UserID: userID, Asset: asset, Balance: models.NewAmount(decimal.Zero)}, nil
	}
	return wallet, nil
}

func (e *Engine) Wallets(ctx context.Context, userID int64) ([]models.Wallet, error) {
	var wallets []models.Wallet
	err := e.db.WithContext(ctx).Where("user_id = ?", userID).Order("is_primary DESC, asset").Find(&wallets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return wallets, nil
}

// History lists a wallet's entries, newest first.
func (e *Engine) History(ctx context.Context, userID int64, asset string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var entries []models.LedgerEntry
	err := e.db.WithContext(ctx).
		Where("user_id = ? AND asset = ?", userID, asset).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

func (e *Engine) Statistics(ctx context.Context, userID int64, asset string) (*models.UserStatistics, error) {
	var stats models.UserStatistics
	err := e.db.WithContext(ctx).Where("user_id = ? AND asset = ?", userID, asset).Take(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.UserStatistics{UserID: userID, Asset: asset}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load statistics: %w", err)
	}
	return &stats, nil
}

// Close waits for pending notifications.
func (e *Engine) Close() error {
	e.Wait()
	return nil
}
