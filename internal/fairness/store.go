package fairness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"wager-core/internal/models"
)

// Store persists seed pairs. At most one pair per user is active, enforced by
// a partial unique index and by doing deactivate-then-insert in one
// transaction.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:  db,
		now: time.Now,
	}
}

type Rotation struct {
	// Previous is the pair that was revealed, nil when the user had none.
	Previous *models.SeedPair
	Active   *models.SeedPair
}

func (s *Store) GetActive(ctx context.Context, userID int64) (*models.SeedPair, error) {
	return getActive(s.db.WithContext(ctx), userID)
}

func getActive(tx *gorm.DB, userID int64) (*models.SeedPair, error) {
	var pair models.SeedPair
	err := tx.Where("user_id = ? AND is_active = ?", userID, true).Take(&pair).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveSeedPair
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active seed pair: %w", err)
	}
	return &pair, nil
}

// CreateInitial creates the first active pair for a user. If another caller
// created one concurrently, that pair is returned instead.
func (s *Store) CreateInitial(ctx context.Context, userID int64, clientSeed string) (*models.SeedPair, error) {
	existing, err := s.GetActive(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNoActiveSeedPair) {
		return nil, err
	}

	serverSeed, err := models.GenerateServerSeed()
	if err != nil {
		return nil, err
	}
	pair, err := newSeedPair(userID, serverSeed, clientSeed, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(pair).Error; err != nil {
		// lost the race on the active-pair unique index
		if winner, getErr := s.GetActive(ctx, userID); getErr == nil {
			return winner, nil
		}
		return nil, fmt.Errorf("failed to create seed pair: %w", err)
	}
	return pair, nil
}

// Rotate reveals the active pair and activates its precomputed successor
// with a freshly precomputed successor of its own.
func (s *Store) Rotate(ctx context.Context, userID int64, newClientSeed string) (*Rotation, error) {
	var rotation Rotation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := getActive(tx, userID)
		if err != nil && !errors.Is(err, ErrNoActiveSeedPair) {
			return err
		}

		now := s.now()
		hadPair := current != nil
		if !hadPair {
			// a first rotation still promotes a precommitted successor, so
			// an initial pair is recorded and revealed unused
			serverSeed, err := models.GenerateServerSeed()
			if err != nil {
				return err
			}
			current, err = newSeedPair(userID, serverSeed, "", now)
			if err != nil {
				return err
			}
			if err := tx.Create(current).Error; err != nil {
				return fmt.Errorf("failed to create seed pair: %w", err)
			}
		}

		res := tx.Model(&models.SeedPair{}).
			Where("id = ? AND is_active = ?", current.ID, true).
			Updates(map[string]any{
				"is_active":   false,
				"revealed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to reveal seed pair: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrRotationConflict
		}
		current.IsActive = false
		current.RevealedAt = &now
		if hadPair {
			rotation.Previous = current
		}

		next, err := newSeedPair(userID, current.NextServerSeed, newClientSeed, now)
		if err != nil {
			return err
		}
		if err := tx.Create(next).Error; err != nil {
			return fmt.Errorf("failed to activate seed pair: %w", err)
		}
		rotation.Active = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rotation, nil
}

func (s *Store) FindByHash(ctx context.Context, serverSeedHash string) (*models.SeedPair, error) {
	var pair models.SeedPair
	err := s.db.WithContext(ctx).Where("server_seed_hash = ?", serverSeedHash).Take(&pair).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSeedPairNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find seed pair: %w", err)
	}
	return &pair, nil
}

// Revealed lists a user's revealed pairs, newest first.
func (s *Store) Revealed(ctx context.Context, userID int64, limit int) ([]*models.SeedPair, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var pairs []*models.SeedPair
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, false).
		Order("revealed_at DESC").
		Limit(limit).
		Find(&pairs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list revealed seed pairs: %w", err)
	}
	return pairs, nil
}

func newSeedPair(userID int64, serverSeed, clientSeed string, now time.Time) (*models.SeedPair, error) {
	if clientSeed == "" {
		generated, err := models.GenerateClientSeed()
		if err != nil {
			return nil, err
		}
		clientSeed = generated
	}
	nextServerSeed, err := models.GenerateServerSeed()
	if err != nil {
		return nil, err
	}
	return &models.SeedPair{
		ID:                 models.NewID(),
		UserID:             userID,
		ServerSeed:         serverSeed,
		ServerSeedHash:     models.HashServerSeed(serverSeed),
		ClientSeed:         clientSeed,
		Nonce:              0,
		NextServerSeed:     nextServerSeed,
		NextServerSeedHash: models.HashServerSeed(nextServerSeed),
		IsActive:           true,
		CreatedAt:          now,
	}, nil
}
