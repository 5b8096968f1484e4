package gas

import (
	"fmt"
	"math"
)

// MilligasPrecision is the number of milligas units in one unit of gas.
const MilligasPrecision = 1000

// Gas is an amount of gas, held in milligas. All arithmetic saturates at the
// bounds of int64 instead of wrapping.
type Gas int64

// Zero is no gas.
const Zero Gas = 0

// NewGas returns whole units of gas.
func NewGas(units int64) Gas {
	return Gas(mulSat(units, MilligasPrecision))
}

func FromMilligas(milligas int64) Gas {
	return Gas(milligas)
}

func (g Gas) Milligas() int64 {
	return int64(g)
}

// IsSaturated reports whether g has hit the upper bound, which only happens
// through saturating arithmetic.
func (g Gas) IsSaturated() bool {
	return g == math.MaxInt64
}

// RoundUp converts to whole gas units, rounding towards positive infinity.
func (g Gas) RoundUp() int64 {
	return milligasToGas(int64(g), true)
}

// RoundDown converts to whole gas units, rounding towards negative infinity.
func (g Gas) RoundDown() int64 {
	return milligasToGas(int64(g), false)
}

func (g Gas) Add(o Gas) Gas {
	return Gas(addSat(int64(g), int64(o)))
}

func (g Gas) Sub(o Gas) Gas {
	return Gas(subSat(int64(g), int64(o)))
}

func (g Gas) Mul(n int64) Gas {
	return Gas(mulSat(int64(g), n))
}

// String formats g in gas units with three decimals, e.g. "12.345".
func (g Gas) String() string {
	if g == 0 {
		return "0"
	}
	m := int64(g)
	sign := ""
	if m < 0 {
		sign = "-"
	}
	integral := m / MilligasPrecision
	fractional := m % MilligasPrecision
	if integral < 0 {
		integral = -integral
	}
	if fractional < 0 {
		fractional = -fractional
	}
	return fmt.Sprintf("%s%d.%03d", sign, integral, fractional)
}

func milligasToGas(milligas int64, roundUp bool) int64 {
	div := milligas / MilligasPrecision
	rem := milligas % MilligasPrecision
	if milligas > 0 && roundUp && rem != 0 {
		div = addSat(div, 1)
	} else if milligas < 0 && !roundUp && rem != 0 {
		div = subSat(div, 1)
	}
	return div
}

func addSat(a, b int64) int64 {
	s := a + b
	switch {
	case a > 0 && b > 0 && s < 0:
		return math.MaxInt64
	case a < 0 && b < 0 && s >= 0:
		return math.MinInt64
	}
	return s
}

func subSat(a, b int64) int64 {
	if b == math.MinInt64 {
		if a >= 0 {
			return math.MaxInt64
		}
		return a - b
	}
	return addSat(a, -b)
}

func mulSat(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	p := a * b
	if p/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		if (a < 0) == (b < 0) {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return p
}
