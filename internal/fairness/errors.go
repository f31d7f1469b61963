package fairness

import "errors"

// ErrNoActiveSeedPair is returned when a user has no active seed pair.
var ErrNoActiveSeedPair = errors.New("no active seed pair")

// ErrSeedPairNotFound is returned when a lookup by commitment hash finds nothing.
var ErrSeedPairNotFound = errors.New("seed pair not found")

// ErrSeedPairUnavailable is returned when an active seed pair is still missing
// after it was created. It indicates a persistent fault rather than a race.
var ErrSeedPairUnavailable = errors.New("seed pair unavailable after creation")

// ErrActiveGames is returned when a rotation is attempted while the user has
// multi-step games in flight.
var ErrActiveGames = errors.New("seed rotation blocked by active games")

// ErrRotationConflict is returned when another rotation replaced the active
// pair first.
var ErrRotationConflict = errors.New("seed pair rotated concurrently")

// ErrInvalidRequest is returned for malformed generation requests.
var ErrInvalidRequest = errors.New("invalid outcome request")

// ErrSeedNotRevealed is returned when a lookup targets a pair that is still active.
var ErrSeedNotRevealed = errors.New("seed pair not revealed yet")
