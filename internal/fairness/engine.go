package fairness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"wager-core/internal/models"
)

const (
	// first attempt plus one retry after creating a missing seed pair
	maxSeedAttempts = 2

	MaxDraws = 1024
)

// ActiveGames reports whether a user has multi-step games in flight. Seeds
// cannot rotate while any are open.
type ActiveGames interface {
	HasActiveGames(ctx context.Context, userID int64) (bool, error)
}

type Request struct {
	UserID   int64
	GameKind string
	// Mode defaults to ModeCursor.
	Mode Mode
}

// Outcome is one uniformly distributed draw. ServerSeed is only set on
// outcomes rebuilt from a revealed pair.
type Outcome struct {
	Value          float64 `json:"value"`
	Hash           string  `json:"hash"`
	Nonce          int64   `json:"nonce"`
	Cursor         int     `json:"cursor"`
	Mode           Mode    `json:"mode"`
	GameKind       string  `json:"game_kind,omitempty"`
	ClientSeed     string  `json:"client_seed"`
	ServerSeedHash string  `json:"server_seed_hash"`
	ServerSeed     string  `json:"server_seed,omitempty"`
}

// Commitment is the public view of an active seed pair.
type Commitment struct {
	ServerSeedHash     string    `json:"server_seed_hash"`
	NextServerSeedHash string    `json:"next_server_seed_hash"`
	ClientSeed         string    `json:"client_seed"`
	Nonce              int64     `json:"nonce"`
	CreatedAt          time.Time `json:"created_at"`
}

type RevealedSeed struct {
	ServerSeed     string    `json:"server_seed"`
	ServerSeedHash string    `json:"server_seed_hash"`
	ClientSeed     string    `json:"client_seed"`
	Nonce          int64     `json:"nonce"`
	RevealedAt     time.Time `json:"revealed_at"`
}

type RotationResult struct {
	// Revealed is nil when the user had no seed pair before rotating.
	Revealed *RevealedSeed `json:"revealed,omitempty"`
	Active   Commitment    `json:"active"`
}

type Engine struct {
	store       *Store
	activeGames ActiveGames
	logger      *slog.Logger
	metrics     *Metrics
}

type EngineOption func(*Engine)

func WithActiveGames(activeGames ActiveGames) EngineOption {
	return func(e *Engine) {
		e.activeGames = activeGames
	}
}

func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithRegisterer(reg prometheus.Registerer) EngineOption {
	return func(e *Engine) {
		e.metrics.Register(reg)
	}
}

func NewEngine(store *Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		metrics: newMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e
}

// Generate draws a single outcome and spends one nonce.
func (e *Engine) Generate(ctx context.Context, req Request) (Outcome, error) {
	outcomes, err := e.GenerateTx(ctx, req, 1, nil)
	if err != nil {
		return Outcome{}, err
	}
	return outcomes[0], nil
}

// GenerateMultiple draws count outcomes from one nonce, varying the cursor.
func (e *Engine) GenerateMultiple(ctx context.Context, req Request, count int) ([]Outcome, error) {
	return e.GenerateTx(ctx, req, count, nil)
}

// GenerateTx draws count outcomes and runs fn inside the transaction that
// advances the nonce. If fn fails the nonce increment rolls back and the
// outcomes are not spent.
func (e *Engine) GenerateTx(ctx context.Context, req Request, count int, fn func(tx *gorm.DB, outcomes []Outcome) error) ([]Outcome, error) {
	if req.Mode == "" {
		req.Mode = ModeCursor
	}
	if err := validateRequest(req, count); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxSeedAttempts; attempt++ {
		outcomes, err := e.draw(ctx, req, count, fn)
		if err == nil {
			e.metrics.outcomes.WithLabelValues(string(req.Mode)).Add(float64(count))
			return outcomes, nil
		}
		if !errors.Is(err, ErrNoActiveSeedPair) {
			return nil, err
		}
		if attempt == maxSeedAttempts {
			break
		}
		if _, err := e.store.CreateInitial(ctx, req.UserID, ""); err != nil {
			return nil, fmt.Errorf("failed to create seed pair for user %d: %w", req.UserID, err)
		}
		e.metrics.seedPairsCreated.Inc()
	}

	e.logger.Error("active seed pair missing after creation", "user_id", req.UserID)
	return nil, fmt.Errorf("user %d: %w", req.UserID, ErrSeedPairUnavailable)
}

func (e *Engine) draw(ctx context.Context, req Request, count int, fn func(tx *gorm.DB, outcomes []Outcome) error) ([]Outcome, error) {
	var outcomes []Outcome
	err := e.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SeedPair{}).
			Where("user_id = ? AND is_active = ?", req.UserID, true).
			UpdateColumn("nonce", gorm.Expr("nonce + 1"))
		if res.Error != nil {
			return fmt.Errorf("failed to advance nonce: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNoActiveSeedPair
		}

		pair, err := getActive(tx, req.UserID)
		if err != nil {
			if errors.Is(err, ErrNoActiveSeedPair) {
				return fmt.Errorf("seed pair vanished after nonce update: %w", ErrSeedPairUnavailable)
			}
			return err
		}

		// the stored nonce is the next one to use
		outcomes = derive(pair, req, pair.Nonce-1, count)
		if fn != nil {
			return fn(tx, outcomes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

func derive(pair *models.SeedPair, req Request, nonce int64, count int) []Outcome {
	outcomes := make([]Outcome, 0, count)
	for cursor := 0; cursor < count; cursor++ {
		value, hash := Compute(req.Mode, pair.ServerSeed, pair.ClientSeed, nonce, cursor, req.GameKind)
		outcomes = append(outcomes, Outcome{
			Value:          value,
			Hash:           hash,
			Nonce:          nonce,
			Cursor:         cursor,
			Mode:           req.Mode,
			GameKind:       req.GameKind,
			ClientSeed:     pair.ClientSeed,
			ServerSeedHash: pair.ServerSeedHash,
		})
	}
	return outcomes
}

func validateRequest(req Request, count int) error {
	if !req.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}
	if count < 1 || count > MaxDraws {
		return fmt.Errorf("%w: count %d out of range", ErrInvalidRequest, count)
	}
	if req.Mode == ModeGameKind {
		if req.GameKind == "" {
			return fmt.Errorf("%w: game kind required", ErrInvalidRequest)
		}
		if count != 1 {
			return fmt.Errorf("%w: game kind mode draws a single value", ErrInvalidRequest)
		}
	}
	return nil
}

// Commitment returns the user's active commitment, creating the first seed
// pair if needed.
func (e *Engine) Commitment(ctx context.Context, userID int64) (*Commitment, error) {
	pair, err := e.store.GetActive(ctx, userID)
	if errors.Is(err, ErrNoActiveSeedPair) {
		pair, err = e.store.CreateInitial(ctx, userID, "")
		if err == nil {
			e.metrics.seedPairsCreated.Inc()
		}
	}
	if err != nil {
		return nil, err
	}
	commitment := commitmentOf(pair)
	return &commitment, nil
}

// Rotate reveals the active server seed and activates the next one.
func (e *Engine) Rotate(ctx context.Context, userID int64, newClientSeed string) (*RotationResult, error) {
	if e.activeGames != nil {
		active, err := e.activeGames.HasActiveGames(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to check active games: %w", err)
		}
		if active {
			return nil, ErrActiveGames
		}
	}

	rotation, err := e.store.Rotate(ctx, userID, newClientSeed)
	if err != nil {
		return nil, err
	}
	e.metrics.rotations.Inc()

	result := &RotationResult{Active: commitmentOf(rotation.Active)}
	if rotation.Previous != nil {
		revealed := revealedOf(rotation.Previous)
		result.Revealed = &revealed
		e.logger.Info("seed pair revealed",
			"user_id", userID,
			"server_seed_hash", revealed.ServerSeedHash,
			"nonce", revealed.Nonce,
		)
	}
	return result, nil
}

// Lookup returns a revealed seed by its commitment hash.
func (e *Engine) Lookup(ctx context.Context, serverSeedHash string) (*RevealedSeed, error) {
	pair, err := e.store.FindByHash(ctx, serverSeedHash)
	if err != nil {
		return nil, err
	}
	if !pair.IsRevealed() {
		return nil, ErrSeedNotRevealed
	}
	revealed := revealedOf(pair)
	return &revealed, nil
}

// Revealed lists the user's revealed seeds, newest first.
func (e *Engine) Revealed(ctx context.Context, userID int64, limit int) ([]RevealedSeed, error) {
	pairs, err := e.store.Revealed(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	seeds := make([]RevealedSeed, 0, len(pairs))
	for _, pair := range pairs {
		seeds = append(seeds, revealedOf(pair))
	}
	return seeds, nil
}

// Replay rebuilds an outcome from a revealed seed pair.
func (e *Engine) Replay(ctx context.Context, serverSeedHash string, nonce int64, cursor int, mode Mode, gameKind string) (*Outcome, error) {
	revealed, err := e.Lookup(ctx, serverSeedHash)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = ModeCursor
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, mode)
	}
	value, hash := Compute(mode, revealed.ServerSeed, revealed.ClientSeed, nonce, cursor, gameKind)
	return &Outcome{
		Value:          value,
		Hash:           hash,
		Nonce:          nonce,
		Cursor:         cursor,
		Mode:           mode,
		GameKind:       gameKind,
		ClientSeed:     revealed.ClientSeed,
		ServerSeedHash: revealed.ServerSeedHash,
		ServerSeed:     revealed.ServerSeed,
	}, nil
}

func commitmentOf(pair *models.SeedPair) Commitment {
	return Commitment{
		ServerSeedHash:     pair.ServerSeedHash,
		NextServerSeedHash: pair.NextServerSeedHash,
		ClientSeed:         pair.ClientSeed,
		Nonce:              pair.Nonce,
		CreatedAt:          pair.CreatedAt,
	}
}

func revealedOf(pair *models.SeedPair) RevealedSeed {
	revealed := RevealedSeed{
		ServerSeed:     pair.ServerSeed,
		ServerSeedHash: pair.ServerSeedHash,
		ClientSeed:     pair.ClientSeed,
		Nonce:          pair.Nonce,
	}
	if pair.RevealedAt != nil {
		revealed.RevealedAt = *pair.RevealedAt
	}
	return revealed
}
