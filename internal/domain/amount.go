package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// weiExp is the decimal exponent of one wei in ether.
const weiExp = -18

// WeiToEther converts a wei amount to an exact ether decimal. nil is zero.
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, weiExp)
}

// FormatEther renders wei as ether without trailing zeros, e.g. "0.16".
func FormatEther(wei *big.Int) string {
	return WeiToEther(wei).String()
}

// ParseEther parses an ether amount such as "0.1" into wei. Fractions finer
// than one wei are rejected.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	wei := d.Shift(-weiExp)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, ErrInvalidPrice
	}
	return wei.BigInt(), nil
}
