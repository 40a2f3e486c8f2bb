package model

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a suffix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)
	return idWithSuffix
}

// BigInt wraps big.Int for artifact serialization. Token amounts cross stage
// boundaries as decimal strings so precision survives JSON round-trips; bare
// JSON numbers produced by other tooling are still accepted on the way in.
type BigInt big.Int

// NewBigInt wraps a *big.Int. A nil input yields a zero value.
func NewBigInt(value *big.Int) *BigInt {
	if value == nil {
		value = new(big.Int)
	}
	return (*BigInt)(new(big.Int).Set(value))
}

// Int64ToBigInt converts an int64 value to a *BigInt.
func Int64ToBigInt(value int64) *BigInt {
	return (*BigInt)(big.NewInt(value))
}

// Int returns the underlying *big.Int. The caller must not mutate it.
func (b *BigInt) Int() *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return (*big.Int)(b)
}

func (b *BigInt) String() string {
	return b.Int().String()
}

// Cmp compares b and other, returning -1, 0 or +1.
func (b *BigInt) Cmp(other *BigInt) int {
	return b.Int().Cmp(other.Int())
}

// Sign returns -1, 0 or +1 depending on the sign of b.
func (b *BigInt) Sign() int {
	return b.Int().Sign()
}

// Sub returns b - other as a new value. b is left untouched.
func (b *BigInt) Sub(other *BigInt) *BigInt {
	return (*BigInt)(new(big.Int).Sub(b.Int(), other.Int()))
}

func (b *BigInt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.Int().String() + `"`), nil
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if _, ok := (*big.Int)(b).SetString(s, 10); ok {
		return nil
	}
	// Bare numbers may arrive in scientific notation.
	f, _, err := big.ParseFloat(s, 10, 256, big.ToNearestEven)
	if err != nil {
		return errors.Wrapf(err, "invalid integer amount %q", s)
	}
	if _, accuracy := f.Int((*big.Int)(b)); accuracy != big.Exact {
		return errors.Errorf("amount %q is not an integer", s)
	}
	return nil
}
