// Package prediction packs a full-slate prediction into a single 256-bit
// integer, two bits per fixture. Fixture 0 occupies the least significant
// pair of bits.
package prediction

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

const (
	// BitsPerFixture is the width of one prediction code.
	BitsPerFixture = 2
	// MaxFixtures is the largest slate a 256-bit value can hold.
	MaxFixtures = 256 / BitsPerFixture

	codeMask = 1<<BitsPerFixture - 1
)

var (
	ErrCodeOutOfRange  = errors.New("prediction: code does not fit in two bits")
	ErrTooManyFixtures = fmt.Errorf("prediction: more than %d fixtures", MaxFixtures)
)

// Encode packs codes into a single integer. It is a bit-level transform: the
// unset code 0 is packed as-is, only values that do not fit two bits fail.
func Encode(codes []domain.Outcome) (*uint256.Int, error) {
	if len(codes) > MaxFixtures {
		return nil, ErrTooManyFixtures
	}
	out := new(uint256.Int)
	for i := len(codes) - 1; i >= 0; i-- {
		c := codes[i]
		if c > codeMask {
			return nil, fmt.Errorf("%w: fixture %d has code %d", ErrCodeOutOfRange, i, uint8(c))
		}
		out.Lsh(out, BitsPerFixture)
		out.Or(out, uint256.NewInt(uint64(c)))
	}
	return out, nil
}

// Decode extracts the code at index. Indexes past MaxFixtures decode as 0.
func Decode(encoded *uint256.Int, index int) domain.Outcome {
	if encoded == nil || index < 0 || index >= MaxFixtures {
		return domain.OutcomeUnset
	}
	v := new(uint256.Int).Rsh(encoded, uint(index*BitsPerFixture))
	return domain.Outcome(v.Uint64() & codeMask)
}

// DecodeAll unpacks the first n codes.
func DecodeAll(encoded *uint256.Int, n int) []domain.Outcome {
	out := make([]domain.Outcome, n)
	for i := range out {
		out[i] = Decode(encoded, i)
	}
	return out
}

// FirstUnset returns the first fixture index below n whose code is unset, or
// -1 when every fixture carries a Home, Tie or Away code.
func FirstUnset(encoded *uint256.Int, n int) int {
	for i := 0; i < n; i++ {
		if !Decode(encoded, i).IsPrediction() {
			return i
		}
	}
	return -1
}

// Uniform returns the encoding of a slate of n fixtures all predicting code.
func Uniform(code domain.Outcome, n int) (*uint256.Int, error) {
	codes := make([]domain.Outcome, n)
	for i := range codes {
		codes[i] = code
	}
	return Encode(codes)
}

// FromDecimal parses the decimal form of a packed prediction.
func FromDecimal(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("prediction: parse %q: %w", s, err)
	}
	return v, nil
}
