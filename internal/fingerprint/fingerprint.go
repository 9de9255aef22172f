// Package fingerprint derives the deterministic identity hash used as the
// primary dedup key for transaction records.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/worq1337/parcer-sub000/internal/timeparse"
)

// Input carries the identity-bearing fields of a candidate record.
type Input struct {
	DateTime  any
	Operator  string
	Type      string
	CardLast4 string
	Amount    float64
}

// Compute returns the fingerprint hash for the input, or the empty string when
// no fingerprint is possible (missing card or non-finite amount). Callers must
// fall back to heuristic dedup in that case.
//
// The datetime is bucketed to the nearest whole minute so that two sources
// timestamping the same transaction up to ±30s apart still collide.
func Compute(in Input) string {
	amount := NormalizeAmount(in.Amount)
	card := NormalizeCard(in.CardLast4)
	if amount == "" || card == "" {
		return ""
	}

	bucket := timeparse.ResolveTime(in.DateTime).Round(time.Minute).Unix()

	content := strings.Join([]string{
		fmt.Sprintf("%d", bucket),
		amount,
		card,
		NormalizeOperator(in.Operator),
		strings.ToLower(strings.TrimSpace(in.Type)),
	}, "|")

	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", sum)
}

// NormalizeAmount renders an amount as a fixed two-decimal string, empty when
// the value is not a finite number.
func NormalizeAmount(amount float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ""
	}
	return decimal.NewFromFloat(amount).StringFixed(2)
}

// NormalizeCard strips non-digits and keeps the last four. Empty input or
// input with no digits yields the empty string.
func NormalizeCard(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	s := digits.String()
	if s == "" {
		return ""
	}
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return s
}

// NormalizeOperator lowercases and collapses runs of whitespace.
func NormalizeOperator(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}
