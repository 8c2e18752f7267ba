package platform

import (
	"fmt"
	"math/big"
	"strings"
)

// Gas is a prepaid execution budget.
type Gas uint64

// TGas is one tera-gas.
const TGas Gas = 1_000_000_000_000

// String renders the budget in Tgas when it divides evenly.
func (g Gas) String() string {
	if g != 0 && g%TGas == 0 {
		return fmt.Sprintf("%d Tgas", uint64(g/TGas))
	}
	return fmt.Sprintf("%d gas", uint64(g))
}

// YoctoPerUnit is the number of yocto in one whole balance unit.
var YoctoPerUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

// ParseAmount parses a non-negative yocto amount. A trailing "N" denotes
// whole units, e.g. "5N" is 5 * 10^24 yocto.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	whole := strings.HasSuffix(s, "N")
	digits := strings.TrimSuffix(s, "N")

	amount, ok := new(big.Int).SetString(digits, 10)
	if !ok || digits == "" {
		return nil, fmt.Errorf("invalid amount %q: must be a base-10 integer, optionally suffixed with N", s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q: must not be negative", s)
	}
	if whole {
		amount.Mul(amount, YoctoPerUnit)
	}
	return amount, nil
}
