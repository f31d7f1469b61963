package models

import "time"

// SeedPair drives one user's provably fair randomness stream. ServerSeed and
// NextServerSeed stay secret until the pair is revealed.
type SeedPair struct {
	ID                 string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID             int64      `gorm:"not null;index;uniqueIndex:idx_seed_pairs_active_user,where:is_active = true" json:"user_id"`
	ServerSeed         string     `gorm:"type:varchar(128);not null" json:"-"`
	ServerSeedHash     string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"server_seed_hash"`
	ClientSeed         string     `gorm:"type:varchar(128);not null" json:"client_seed"`
	Nonce              int64      `gorm:"not null;default:0" json:"nonce"`
	NextServerSeed     string     `gorm:"type:varchar(128);not null" json:"-"`
	NextServerSeedHash string     `gorm:"type:varchar(64);not null" json:"next_server_seed_hash"`
	IsActive           bool       `gorm:"not null;default:false" json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
	RevealedAt         *time.Time `json:"revealed_at,omitempty"`
}

func (SeedPair) TableName() string {
	return "seed_pairs"
}

func (p *SeedPair) IsRevealed() bool {
	return !p.IsActive && p.RevealedAt != nil
}
