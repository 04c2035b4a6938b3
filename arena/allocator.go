package arena

import (
	"math/bits"

	"github.com/cheriprobe/caparena/memutils"
	"github.com/cheriprobe/caparena/memutils/bounds"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
)

// Allocator issues capabilities with exact bounds from a forward-only Arena. It is the only surface
// consumers need: Allocate, Deallocate and Resize follow the usual heap contract, except that
// deallocated memory is never handed out again.
type Allocator struct {
	logger *slog.Logger
	policy bounds.Policy
	arena  *Arena
}

// Policy returns the bounds policy allocations are rounded with
func (a *Allocator) Policy() bounds.Policy { return a.policy }

// Arena returns the arena allocations are carved from
func (a *Allocator) Arena() *Arena { return a.arena }

// Allocate returns a capability for at least size bytes. Its length is exactly the policy's
// representable length for size, its address is aligned as the policy requires, and its range does not
// overlap any other capability this allocator has issued. The memory is zeroed.
//
// Errors match memutils.ErrReservation if the arena could not reserve memory, or
// memutils.ErrOutOfMemory if the request does not fit in what remains.
func (a *Allocator) Allocate(size uint64) (Capability, error) {
	if err := a.arena.Init(); err != nil {
		return Capability{}, err
	}

	rep, err := a.policy.Representable(size)
	if err != nil {
		return Capability{}, errors.Mark(errors.Wrapf(err, "allocate %d bytes", size), memutils.ErrOutOfMemory)
	}
	memutils.DebugCheckPow2(rep.Alignment, "representable alignment")

	region, err := a.arena.Carve(rep.Length, rep.Alignment, size)
	if err != nil {
		a.logger.Debug("Allocator::Allocate failed", slog.Uint64("Size", size), slog.Any("error", err))
		return Capability{}, errors.Wrapf(err, "allocate %d bytes", size)
	}

	return newCapability(region), nil
}

// AllocateArray allocates room for count elements of size bytes each. A product that overflows is
// reported as memutils.ErrOutOfMemory.
func (a *Allocator) AllocateArray(count, size uint64) (Capability, error) {
	hi, total := bits.Mul64(count, size)
	if hi != 0 {
		return Capability{}, errors.Wrapf(memutils.ErrOutOfMemory, "allocate %d elements of %d bytes", count, size)
	}

	return a.Allocate(total)
}

// Deallocate does nothing. Memory is never reclaimed, so no capability can ever alias a later
// allocation. Any capability is accepted, including invalid and null ones.
func (a *Allocator) Deallocate(capability Capability) {
}

// Resize allocates a new capability for size bytes and copies over as much of the old contents as
// fit. The number of bytes copied is bounded by what the passed capability itself may load (so a
// narrowed or invalid capability copies less, or nothing), by the new capability's length and by size.
// The old capability is left as it was. If the allocation fails, nothing is copied and the error
// matches that of Allocate.
func (a *Allocator) Resize(capability Capability, size uint64) (Capability, error) {
	resized, err := a.Allocate(size)
	if err != nil {
		return Capability{}, err
	}

	source := capability.Bytes()
	copyLength := memutils.MinUint(uint64(len(source)), resized.Length(), size)
	copy(resized.memory[:copyLength], source[:copyLength])

	return resized, nil
}

// Validate performs internal consistency checks on the arena
func (a *Allocator) Validate() error {
	return a.arena.Validate()
}

// Destroy releases the arena's memory. Every capability issued by this allocator must be out of use.
func (a *Allocator) Destroy() error {
	return a.arena.Destroy()
}

// CalculateStatistics retrieves statistics about the current state of the allocator
func (a *Allocator) CalculateStatistics(stats *memutils.DetailedStatistics) {
	stats.Clear()
	a.arena.AddDetailedStatistics(stats)
}

// BuildStatsString returns a json description of the allocator. With detailedMap set the arena's
// metadata is included, along with every carve if the arena tracks them.
func (a *Allocator) BuildStatsString(detailedMap bool) string {
	var stats memutils.DetailedStatistics
	a.CalculateStatistics(&stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Policy").String(a.policy.String())
	printDetailedStatistics(obj.Name("Total"), &stats)

	if detailedMap {
		a.arena.PrintDetailedMap(obj.Name("Arena"))
	}

	obj.End()
	return string(writer.Bytes())
}

func printDetailedStatistics(writer *jwriter.Writer, stats *memutils.DetailedStatistics) {
	obj := writer.Object()
	defer obj.End()

	obj.Name("BlockCount").Int(stats.BlockCount)
	obj.Name("BlockBytes").Int(int(stats.BlockBytes))
	obj.Name("AllocationCount").Int(stats.AllocationCount)
	obj.Name("AllocationBytes").Int(int(stats.AllocationBytes))
	obj.Name("RequestedBytes").Int(int(stats.RequestedBytes))
	obj.Name("PaddingBytes").Int(int(stats.PaddingBytes))
	obj.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)

	if stats.AllocationCount > 0 {
		obj.Name("AllocationSizeMin").Int(int(stats.AllocationSizeMin))
		obj.Name("AllocationSizeMax").Int(int(stats.AllocationSizeMax))
	}

	if stats.UnusedRangeCount > 0 {
		obj.Name("UnusedRangeSizeMin").Int(int(stats.UnusedRangeSizeMin))
		obj.Name("UnusedRangeSizeMax").Int(int(stats.UnusedRangeSizeMax))
	}
}
