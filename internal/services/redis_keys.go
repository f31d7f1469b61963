package services

import "time"

const (
	KeyLockPrefix         = "lock:"
	KeyUserActiveGames    = "user:%d:active_games"
	KeyUserCompletedGames = "user:%d:completed_games"
	KeyRateLimit          = "ratelimit:%d:%s"
	KeyRevokedSession     = "session:%s:revoked"
	ChannelBalanceEvents  = "events:balance"

	TTLActiveGames = 7 * 24 * time.Hour // 7 days

	MaxCompletedGames = 100

	DefaultRateLimitSettle = 30  // Max 30 settlements per minute
	DefaultRateLimitRotate = 10  // Max 10 seed rotations per minute
	DefaultRateLimitVerify = 120 // Max 120 verifications per minute
)
