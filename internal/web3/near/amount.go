package near

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	xerrors "NFTMarket-Harness/internal/errors"
)

const nearDecimals = 24

var yoctoPerNEAR = uint256.MustFromDecimal("1000000000000000000000000")

// Balance is a little-endian u128 as laid out by borsh.
type Balance [16]byte

// Amount is a yoctoNEAR quantity. The zero value is zero.
type Amount struct {
	v uint256.Int
}

// NewAmount converts a small yocto value.
func NewAmount(yocto uint64) Amount {
	var a Amount
	a.v.SetUint64(yocto)
	return a
}

// OneYocto is the confirmation deposit many change methods demand.
func OneYocto() Amount { return NewAmount(1) }

// ParseYocto parses a decimal yoctoNEAR string.
func ParseYocto(raw string) (Amount, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Amount{}, nil
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return Amount{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("invalid yocto amount %q", raw))
	}
	if v.BitLen() > 128 {
		return Amount{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("amount %q overflows u128", raw))
	}
	return Amount{v: *v}, nil
}

// ParseNEAR parses a decimal NEAR amount such as "0.1" into yocto.
func ParseNEAR(raw string) (Amount, error) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if raw == "" {
		return Amount{}, nil
	}
	whole, frac, _ := strings.Cut(raw, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > nearDecimals {
		return Amount{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("amount %q has more than %d fractional digits", raw, nearDecimals))
	}
	return ParseYocto(strings.TrimLeft(whole+frac+strings.Repeat("0", nearDecimals-len(frac)), "0"))
}

// MustParseNEAR panics on malformed input; meant for constants.
func MustParseNEAR(raw string) Amount {
	a, err := ParseNEAR(raw)
	if err != nil {
		panic(err)
	}
	return a
}

// MustParseYocto panics on malformed input; meant for constants.
func MustParseYocto(raw string) Amount {
	a, err := ParseYocto(raw)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) String() string { return a.v.Dec() }

// FormatNEAR renders the amount in NEAR without trailing zeros.
func (a Amount) FormatNEAR() string {
	var whole, frac uint256.Int
	whole.DivMod(&a.v, yoctoPerNEAR, &frac)
	if frac.IsZero() {
		return whole.Dec()
	}
	digits := frac.Dec()
	digits = strings.Repeat("0", nearDecimals-len(digits)) + digits
	return whole.Dec() + "." + strings.TrimRight(digits, "0")
}

func (a Amount) IsZero() bool { return a.v.IsZero() }

func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

func (a Amount) Add(b Amount) Amount {
	var out Amount
	out.v.Add(&a.v, &b.v)
	return out
}

// Sub returns a-b and false when the subtraction would underflow.
func (a Amount) Sub(b Amount) (Amount, bool) {
	var out Amount
	if _, underflow := out.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, false
	}
	return out, true
}

// MulDiv returns a*mul/div, used for basis point fees.
func (a Amount) MulDiv(mul, div uint64) Amount {
	var out Amount
	if div == 0 {
		return out
	}
	out.v.Mul(&a.v, uint256.NewInt(mul))
	out.v.Div(&out.v, uint256.NewInt(div))
	return out
}

// U128 encodes the amount little-endian for borsh.
func (a Amount) U128() Balance {
	be := a.v.Bytes32()
	var out Balance
	for i := 0; i < len(out); i++ {
		out[i] = be[31-i]
	}
	return out
}

// AmountFromU128 decodes a borsh u128.
func AmountFromU128(b Balance) Amount {
	var be [16]byte
	for i := 0; i < len(b); i++ {
		be[15-i] = b[i]
	}
	var out Amount
	out.v.SetBytes(be[:])
	return out
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts quoted decimals and bare numbers.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "null" {
		*a = Amount{}
		return nil
	}
	parsed, err := ParseYocto(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
