// Package fair implements the provably-fair crash point protocol: a
// server seed committed to via SHA-256 before betting opens, and a fixed
// public mapping from HMAC-SHA256(serverSeed, clientSeed:sequence) to a
// crash multiplier. The mapping must never change post-launch; historical
// round verification depends on it staying fixed.
package fair

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	MinMultiplier = 1.00
	MaxMultiplier = 1000000.00

	// HouseEdge is the fraction of the digest space mapped to an instant
	// 1.00x crash. It also calibrates the tail of the distribution.
	HouseEdge = 0.01
)

// CrashPoint derives the crash multiplier for a round.
//
// Public contract: digest = HMAC-SHA256(key=serverSeed, msg=clientSeed:sequence),
// r = first 8 digest bytes as uint64 / 2^64, then
//
//	r < HouseEdge            -> 1.00
//	otherwise                -> (100 - HouseEdge*100) / (100 - r*100)
//
// clamped to [MinMultiplier, MaxMultiplier] and truncated to two decimals.
func CrashPoint(serverSeed, clientSeed string, sequence int64) float64 {
	data := fmt.Sprintf("%s:%d", clientSeed, sequence)
	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(data))
	digest := hex.EncodeToString(h.Sum(nil))

	// First 16 hex characters = 64 bits of the digest.
	i := new(big.Int)
	i.SetString(digest[:16], 16)

	const maxUint64F = 18446744073709551616.0
	return crashFromUnit(float64(i.Uint64()) / maxUint64F)
}

// crashFromUnit maps a uniform draw r in [0, 1) to a crash multiplier.
// The clamp runs before truncation: for r close enough to 1 the quotient
// overflows the int conversion inside truncate2, and a draw that good
// must pay the maximum, not collapse to 1.00.
func crashFromUnit(r float64) float64 {
	if r < HouseEdge {
		return MinMultiplier
	}

	crash := (100.0 - HouseEdge*100) / (100.0 - r*100.0)
	if crash >= MaxMultiplier {
		return MaxMultiplier
	}

	crash = truncate2(crash)
	if crash < MinMultiplier {
		return MinMultiplier
	}
	return crash
}

// GenerateSeed returns 32 bytes of crypto/rand entropy, hex encoded.
func GenerateSeed() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("fair: entropy source unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// HashCommitment returns the public SHA-256 commitment for a server seed.
func HashCommitment(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// Result is the outcome of verifying a revealed round.
type Result struct {
	HashMatch  bool    `json:"hash_match"`
	ValueMatch bool    `json:"value_match"`
	Expected   float64 `json:"expected_crash_point"`
}

func (r Result) Valid() bool { return r.HashMatch && r.ValueMatch }

// Verify certifies a revealed round. It is pure: it needs only the four
// values published in the round history and works offline, with no access
// to live state. Both the commitment and the recomputed crash point must
// match for the round to be fair.
func Verify(serverSeed, serverSeedHash, clientSeed string, sequence int64, claimedCrashPoint float64) Result {
	expected := CrashPoint(serverSeed, clientSeed, sequence)
	return Result{
		HashMatch:  HashCommitment(serverSeed) == serverSeedHash,
		ValueMatch: expected == claimedCrashPoint,
		Expected:   expected,
	}
}

func truncate2(v float64) float64 {
	return float64(int(v*100)) / 100.0
}
