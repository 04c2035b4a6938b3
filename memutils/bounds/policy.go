package bounds

import (
	"fmt"

	"github.com/cheriprobe/caparena/memutils"
	"github.com/cockroachdb/errors"
)

// Representation is the answer to "how should a region of n bytes be carved": a region of exactly
// Length bytes whose base is aligned to Alignment can be described by the bounds format with no slack.
type Representation struct {
	Length    uint64
	Alignment uint64
}

// Bounds is the [Base, Top) range a bounds format actually records when asked to describe some
// base and length. Exact is true when it is precisely the range that was asked for.
type Bounds struct {
	Base  uint64
	Top   uint64
	Exact bool
}

// Length returns Top - Base
func (b Bounds) Length() uint64 {
	return b.Top - b.Base
}

// Policy decides how allocation lengths are rounded and aligned. Allocators select one at
// construction time.
type Policy interface {
	// Representable maps a requested length to the representable length and base alignment.
	// It is a pure function of its argument and the policy's parameters.
	Representable(length uint64) (Representation, error)
	// SetBounds returns the bounds the format would actually record for [base, base+length).
	// Inexact results are widened outward, never narrowed.
	SetBounds(base, length uint64) Bounds
	String() string
}

// ExactPolicy rounds lengths to the exactly-representable lengths of a compressed capability encoding.
type ExactPolicy struct {
	encoding Encoding
}

var _ Policy = ExactPolicy{}

// NewExactPolicy creates a policy for the provided encoding, which must pass Encoding.Validate
func NewExactPolicy(encoding Encoding) (ExactPolicy, error) {
	if err := encoding.Validate(); err != nil {
		return ExactPolicy{}, err
	}

	return ExactPolicy{encoding: encoding}, nil
}

// Encoding returns the parameters this policy rounds with
func (p ExactPolicy) Encoding() Encoding {
	return p.encoding
}

func (p ExactPolicy) String() string {
	return fmt.Sprintf("exact(%s)", p.encoding.Name)
}

// Representable returns the length and alignment at which a region of the requested length has
// exact bounds. Lengths below the encoding's precision threshold come back unchanged with pointer
// alignment.
func (p ExactPolicy) Representable(length uint64) (Representation, error) {
	e := p.encoding
	exp, internal := e.exponent(length)
	if !internal {
		return Representation{Length: length, Alignment: e.PointerAlignment}, nil
	}

	shift := e.granule(exp)
	rounded, ok := memutils.AlignUp(length, uint64(1)<<shift)
	if ok && !e.fits(rounded, exp) {
		// Rounding carried into the next binade
		shift++
		rounded, ok = memutils.AlignUp(length, uint64(1)<<shift)
	}
	if !ok {
		return Representation{}, errors.Wrapf(memutils.ErrUnrepresentable, "%d bytes under %s", length, p)
	}

	alignment := uint64(1) << shift
	if alignment < e.PointerAlignment {
		alignment = e.PointerAlignment
	}

	return Representation{Length: rounded, Alignment: alignment}, nil
}

// AlignmentMask mirrors the mask form of Representable's alignment: a base address is suitable for
// a region of the given length when base&^mask == 0. Unrepresentable lengths return 0.
func (p ExactPolicy) AlignmentMask(length uint64) uint64 {
	rep, err := p.Representable(length)
	if err != nil {
		return 0
	}

	return ^(rep.Alignment - 1)
}

// SetBounds models a bounds-setting instruction: the base is rounded down and the top rounded up to
// the granule chosen for the length, growing the granule if the widened span no longer fits.
func (p ExactPolicy) SetBounds(base, length uint64) Bounds {
	e := p.encoding
	top := base + length
	exp, internal := e.exponent(length)
	if !internal {
		return Bounds{Base: base, Top: top, Exact: true}
	}

	shift := e.granule(exp)
	lo, hi := widen(base, top, shift)
	if !e.fits(hi-lo, exp) {
		shift++
		lo, hi = widen(base, top, shift)
	}

	return Bounds{Base: lo, Top: hi, Exact: lo == base && hi == top}
}

func widen(base, top uint64, shift uint) (uint64, uint64) {
	granule := uint64(1) << shift
	lo := memutils.AlignDown(base, granule)
	hi, ok := memutils.AlignUp(top, granule)
	if !ok {
		// Saturate at the top of the address space
		hi = memutils.AlignDown(^uint64(0), granule)
	}

	return lo, hi
}

// PlainPolicy describes ordinary pointers with no bounds compression. Lengths are rounded to a
// fixed granularity, which is also the base alignment.
type PlainPolicy struct {
	granularity uint64
}

var _ Policy = PlainPolicy{}

// DefaultGranularity is the alignment of the largest scalar type on common 64-bit targets
const DefaultGranularity uint64 = 16

// NewPlainPolicy creates a policy with the given granularity, which must be a power of two. A
// granularity of 0 selects DefaultGranularity.
func NewPlainPolicy(granularity uint64) (PlainPolicy, error) {
	if granularity == 0 {
		granularity = DefaultGranularity
	}
	if err := memutils.CheckPow2(granularity, "granularity"); err != nil {
		return PlainPolicy{}, err
	}

	return PlainPolicy{granularity: granularity}, nil
}

func (p PlainPolicy) String() string {
	return fmt.Sprintf("plain(%d)", p.granularity)
}

func (p PlainPolicy) Representable(length uint64) (Representation, error) {
	rounded, ok := memutils.AlignUp(length, p.granularity)
	if !ok {
		return Representation{}, errors.Wrapf(memutils.ErrUnrepresentable, "%d bytes under %s", length, p)
	}

	return Representation{Length: rounded, Alignment: p.granularity}, nil
}

// SetBounds is always exact: plain pointers record no bounds to lose precision in.
func (p PlainPolicy) SetBounds(base, length uint64) Bounds {
	return Bounds{Base: base, Top: base + length, Exact: true}
}

// FirstInexactLength searches upward from 1 for the first length the policy cannot represent
// as-is and returns it alongside its rounded length. The search gives up after limit lengths.
func FirstInexactLength(policy Policy, limit uint64) (uint64, uint64, bool) {
	for length := uint64(1); length <= limit; length++ {
		rep, err := policy.Representable(length)
		if err != nil {
			return 0, 0, false
		}
		if rep.Length > length {
			return length, rep.Length, true
		}
	}

	return 0, 0, false
}
