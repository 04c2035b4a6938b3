package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two. The
// second return value is false if the rounding wrapped around the top of the type.
func AlignUp[T constraints.Unsigned](value T, alignment T) (T, bool) {
	aligned := (value + alignment - 1) &^ (alignment - 1)
	return aligned, aligned >= value
}

func AlignDown[T constraints.Unsigned](value T, alignment T) T {
	return value &^ (alignment - 1)
}

// MinUint returns the smallest of the provided values
func MinUint[T constraints.Unsigned](first T, rest ...T) T {
	result := first
	for _, value := range rest {
		if value < result {
			result = value
		}
	}

	return result
}
