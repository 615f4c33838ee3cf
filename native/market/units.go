package market

import (
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/holiman/uint256"
	"golang.org/x/text/unicode/norm"
)

// Decimals is the number of fractional digits in the display unit.
const Decimals = 18

// MaxDescriptionBytes bounds the encoded size of a job description.
const MaxDescriptionBytes = 4096

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// CheckAmount rejects nil, negative and wider than 256 bit amounts.
func CheckAmount(v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return ErrInvalidAmount
	}
	return nil
}

// ParseUnits converts a decimal display string such as "1.5" into the
// smallest unit.
func ParseUnits(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && len(frac) > Decimals {
		return nil, fmt.Errorf("%w: more than %d decimals", ErrInvalidAmount, Decimals)
	}
	if whole == "" {
		whole = "0"
	}
	frac = frac + strings.Repeat("0", Decimals-len(frac))
	value, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || value.Sign() < 0 || strings.HasPrefix(whole, "+") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := CheckAmount(value); err != nil {
		return nil, err
	}
	return value, nil
}

// FormatUnits renders a smallest-unit amount as a decimal display string with
// trailing zeros removed.
func FormatUnits(v *big.Int) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)
	q, r := new(big.Int).QuoRem(abs, unit, new(big.Int))
	out := q.String()
	if r.Sign() != 0 {
		digits := r.String()
		frac := strings.Repeat("0", Decimals-len(digits)) + digits
		out += "." + strings.TrimRight(frac, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}

// NormalizeDescription returns the NFC form of the trimmed description or
// ErrInvalidDescription when it is empty, not UTF-8 or too long.
func NormalizeDescription(desc string) (string, error) {
	if !utf8.ValidString(desc) {
		return "", fmt.Errorf("%w: not valid utf-8", ErrInvalidDescription)
	}
	out := strings.TrimSpace(norm.NFC.String(desc))
	if out == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDescription)
	}
	if len(out) > MaxDescriptionBytes {
		return "", fmt.Errorf("%w: exceeds %d bytes", ErrInvalidDescription, MaxDescriptionBytes)
	}
	return out, nil
}
