package fairness

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"wager-core/internal/models"
)

// Mode selects the HMAC message layout. The two layouts produce different
// values for the same seeds and nonce, so a verifier must use the mode the
// outcome was generated with.
type Mode string

const (
	// ModeCursor hashes "clientSeed:nonce:cursor". Used by games that draw
	// several values from one nonce.
	ModeCursor Mode = "cursor"
	// ModeGameKind hashes "clientSeed:nonce:gameKind". Used by crash-style
	// games that take a single value per round.
	ModeGameKind Mode = "game_kind"
)

// Tolerance is the maximum absolute difference Verify accepts between a
// recomputed value and the expected one.
const Tolerance = 1e-9

func (m Mode) Valid() bool {
	return m == ModeCursor || m == ModeGameKind
}

// Message builds the HMAC input for one draw.
func Message(mode Mode, clientSeed string, nonce int64, cursor int, gameKind string) string {
	if mode == ModeGameKind {
		return fmt.Sprintf("%s:%d:%s", clientSeed, nonce, gameKind)
	}
	return fmt.Sprintf("%s:%d:%d", clientSeed, nonce, cursor)
}

// Digest is HMAC-SHA256 over message keyed by serverSeed.
func Digest(serverSeed, message string) []byte {
	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(message))
	return h.Sum(nil)
}

// ValueFromDigest maps the first four bytes of digest onto [0, 1) as a
// big-endian base-256 fraction. The largest possible result is 1 - 2^-32.
func ValueFromDigest(digest []byte) float64 {
	var value float64
	for i := 0; i < 4 && i < len(digest); i++ {
		value += float64(digest[i]) / math.Pow(256, float64(i+1))
	}
	return value
}

// Compute returns the value and hex digest for one draw.
func Compute(mode Mode, serverSeed, clientSeed string, nonce int64, cursor int, gameKind string) (float64, string) {
	digest := Digest(serverSeed, Message(mode, clientSeed, nonce, cursor, gameKind))
	return ValueFromDigest(digest), hex.EncodeToString(digest)
}

// Value recomputes a cursor-mode value.
func Value(serverSeed, clientSeed string, nonce int64, cursor int) float64 {
	value, _ := Compute(ModeCursor, serverSeed, clientSeed, nonce, cursor, "")
	return value
}

// Verify reports whether expected is the cursor-mode value for the inputs.
func Verify(serverSeed, clientSeed string, nonce int64, cursor int, expected float64) bool {
	return VerifyMode(ModeCursor, serverSeed, clientSeed, nonce, cursor, "", expected)
}

func VerifyMode(mode Mode, serverSeed, clientSeed string, nonce int64, cursor int, gameKind string, expected float64) bool {
	if !mode.Valid() || math.IsNaN(expected) || math.IsInf(expected, 0) {
		return false
	}
	value, _ := Compute(mode, serverSeed, clientSeed, nonce, cursor, gameKind)
	return math.Abs(value-expected) <= Tolerance
}

// VerifyCommitment reports whether serverSeed matches a published hash.
func VerifyCommitment(serverSeed, serverSeedHash string) bool {
	return hmac.Equal([]byte(HashServerSeed(serverSeed)), []byte(serverSeedHash))
}

// HashServerSeed returns the public commitment for a server seed.
func HashServerSeed(serverSeed string) string {
	return models.HashServerSeed(serverSeed)
}
