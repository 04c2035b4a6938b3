package bounds

import (
	"math/bits"

	"github.com/cockroachdb/errors"
)

// Encoding describes a compressed capability bounds format in the style of CHERI Concentrate.
// Bounds are stored as a base and top mantissa that share one exponent. Lengths short enough to fit
// the mantissa are always exact; longer lengths borrow ExponentBits bits from each mantissa to store
// an internal exponent, and lose that many bits of precision plus the exponent itself.
type Encoding struct {
	// Name identifies the encoding in logs and stats dumps
	Name string
	// MantissaWidth is the width in bits of the base and top fields
	MantissaWidth uint
	// ExponentBits is the number of low mantissa bits used to hold the exponent once the internal
	// exponent is in use
	ExponentBits uint
	// PointerAlignment is the natural alignment of a pointer (the capability size) on the platform.
	// Every region handed out is aligned to at least this.
	PointerAlignment uint64
}

var (
	// Morello is the 128-bit capability format of Arm Morello. The first length it cannot
	// represent exactly is 16385, which rounds up to 16392.
	Morello = Encoding{
		Name:             "morello",
		MantissaWidth:    16,
		ExponentBits:     3,
		PointerAlignment: 16,
	}

	// RISCV128 is the 128-bit capability format of CHERI-RISC-V. The first length it cannot
	// represent exactly is 4097, which rounds up to 4104.
	RISCV128 = Encoding{
		Name:             "riscv128",
		MantissaWidth:    14,
		ExponentBits:     3,
		PointerAlignment: 16,
	}
)

// Validate reports whether the encoding parameters describe a usable format
func (e Encoding) Validate() error {
	if e.MantissaWidth < 4 || e.MantissaWidth > 62 {
		return errors.Newf("encoding %q: mantissa width %d must be between 4 and 62", e.Name, e.MantissaWidth)
	}
	if e.ExponentBits == 0 || e.ExponentBits >= e.MantissaWidth-2 {
		return errors.Newf("encoding %q: exponent bits %d must be between 1 and %d", e.Name, e.ExponentBits, e.MantissaWidth-3)
	}
	if e.PointerAlignment == 0 || e.PointerAlignment&(e.PointerAlignment-1) != 0 {
		return errors.Newf("encoding %q: pointer alignment %d must be a power of two", e.Name, e.PointerAlignment)
	}

	return nil
}

// PrecisionThreshold is the smallest length that needs the internal exponent. Every length below it
// is representable as-is.
func (e Encoding) PrecisionThreshold() uint64 {
	return 1 << (e.MantissaWidth - 2)
}

// exponent returns the exponent the format picks for a length and whether the internal exponent
// is in use at all
func (e Encoding) exponent(length uint64) (uint, bool) {
	exp := uint(bits.Len64(length >> (e.MantissaWidth - 1)))
	internal := exp != 0 || length&e.PrecisionThreshold() != 0

	return exp, internal
}

// fits reports whether a span of the given length can be described with the given exponent without
// the top mantissa overflowing
func (e Encoding) fits(span uint64, exp uint) bool {
	return uint(bits.Len64(span>>(e.MantissaWidth-1))) <= exp
}

// granule returns the log2 of the bounds granularity used for lengths that use the internal exponent
func (e Encoding) granule(exp uint) uint {
	return exp + e.ExponentBits
}
