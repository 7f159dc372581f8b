// Package fairness implements the provably-fair commit/reveal protocol
// that determines a round's crash point.
package fairness

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// MinMultiplier is the lowest possible crash point.
	MinMultiplier = 1.00

	// houseEdge shapes the instant-crash probability mass at the floor of
	// the distribution. There is no separate "instant crash" branch; the
	// mass near 1.00 falls out of the formula itself.
	houseEdge = 0.99
)

// NewSeed generates a 256-bit cryptographically random seed, hex-encoded.
// It is the only non-deterministic operation in this package.
func NewSeed() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("fairness: generate seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Hash computes a SHA-256 digest over the seed, a ':' separator, and the
// round number's canonical decimal encoding, hex-encoded. Published at
// round start as the commitment; the seed itself stays secret until crash.
func Hash(seed string, roundNumber int64) string {
	h := sha256.New()
	h.Write([]byte(seed))
	h.Write([]byte(fmt.Sprintf(":%d", roundNumber)))
	return hex.EncodeToString(h.Sum(nil))
}

// CrashPoint derives the round's crash multiplier deterministically from
// (seed, roundNumber):
//  1. digest = Hash(seed, roundNumber)
//  2. U = first 32 bits of digest, as an unsigned integer
//  3. r = U / 2^32, uniform in [0, 1)
//  4. raw = 1 / (1 - 0.99*r)
//  5. return clamp(raw, 1.00, maxCrash), rounded to two decimal places
func CrashPoint(seed string, roundNumber int64, maxCrash decimal.Decimal) decimal.Decimal {
	digest := sha256.Sum256(append([]byte(seed), []byte(fmt.Sprintf(":%d", roundNumber))...))
	u := binary.BigEndian.Uint32(digest[:4])

	r := new(big.Float).Quo(
		new(big.Float).SetUint64(uint64(u)),
		new(big.Float).SetUint64(1<<32),
	)

	one := big.NewFloat(1)
	edge := big.NewFloat(houseEdge)
	denom := new(big.Float).Sub(one, new(big.Float).Mul(edge, r))
	raw := new(big.Float).Quo(one, denom)

	rawDec, _ := decimal.NewFromString(raw.Text('f', 10))

	min := decimal.NewFromFloat(MinMultiplier)
	if rawDec.LessThan(min) {
		rawDec = min
	}
	if rawDec.GreaterThan(maxCrash) {
		rawDec = maxCrash
	}
	return rawDec.Round(2)
}

// Verify recomputes the crash point for (seed, roundNumber) and compares it
// against claimedCrash within a tolerance of 0.01.
func Verify(seed string, roundNumber int64, claimedCrash, maxCrash decimal.Decimal) bool {
	computed := CrashPoint(seed, roundNumber, maxCrash)
	diff := computed.Sub(claimedCrash).Abs()
	return diff.LessThanOrEqual(decimal.NewFromFloat(0.01))
}
