package arena

import (
	"context"
	"math"
	"unsafe"

	"github.com/cheriprobe/caparena/internal/utils"
	"github.com/cheriprobe/caparena/memutils"
	"github.com/cheriprobe/caparena/memutils/metadata"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
)

var errArenaDestroyed = errors.New("arena has been destroyed")

// Region is a range of memory carved from an Arena
type Region struct {
	// Address is the absolute address of the first byte of the region
	Address uint64
	// Offset is the position of the region within the arena
	Offset uint64
	// Length is the size of the region in bytes
	Length uint64
	// Padding is the number of bytes skipped before the region to align it
	Padding uint64
	// Handle identifies the carve in the arena's metadata. Empty regions have metadata.NoAllocation.
	Handle metadata.BlockAllocationHandle

	memory []byte
}

// Bytes returns the memory of the region. Its length and capacity are both exactly Length.
func (r Region) Bytes() []byte {
	return r.memory
}

// Arena owns a single reservation of memory and hands out non-overlapping regions of it by moving a
// cursor forward. The reservation is made lazily, at most once, and nothing carved is ever reclaimed.
type Arena struct {
	logger   *slog.Logger
	reserver Reserver
	capacity uint64
	mutex    utils.OptionalMutex

	initialized bool
	initErr     error
	memory      []byte
	metadata    *metadata.BumpBlockMetadata
	trackCarves bool
}

// NewArena creates an arena that will reserve capacity bytes from reserver on first use
func NewArena(logger *slog.Logger, reserver Reserver, capacity uint64, flags CreateFlags) *Arena {
	if logger == nil {
		logger = discardLogger()
	}
	if reserver == nil {
		reserver = MmapReserver
	}

	return &Arena{
		logger:      logger,
		reserver:    reserver,
		capacity:    capacity,
		mutex:       utils.OptionalMutex{UseMutex: flags&CreateInternallySynchronized != 0},
		trackCarves: flags&CreateTrackCarves != 0,
	}
}

// Init reserves the arena's memory if that has not happened yet. A failed reservation is not retried:
// every later call returns the same error, which matches memutils.ErrReservation.
func (a *Arena) Init() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.init()
}

func (a *Arena) init() error {
	if a.initialized {
		return a.initErr
	}
	a.initialized = true

	if a.capacity == 0 || a.capacity > math.MaxInt {
		a.initErr = errors.Mark(errors.Newf("arena capacity %d is not a valid reservation size", a.capacity), memutils.ErrReservation)
		return a.initErr
	}

	memory, err := a.reserver.Reserve(int(a.capacity))
	if err == nil && uint64(len(memory)) != a.capacity {
		releaseErr := a.reserver.Release(memory)
		err = errors.CombineErrors(errors.Newf("reserver returned %d bytes, expected %d", len(memory), a.capacity), releaseErr)
	}
	if err != nil {
		a.initErr = errors.Mark(errors.Wrapf(err, "reserve %d bytes", a.capacity), memutils.ErrReservation)
		a.logger.LogAttrs(context.Background(), slog.LevelError, "Arena::Init reservation failed",
			slog.Uint64("Capacity", a.capacity),
			slog.Any("error", a.initErr))
		return a.initErr
	}

	a.memory = memory
	base := uint64(uintptr(unsafe.Pointer(unsafe.SliceData(memory))))
	a.metadata = metadata.NewBumpBlockMetadata(base, a.trackCarves)
	a.metadata.Init(a.capacity)

	a.logger.Debug("Arena::Init", slog.Uint64("Base", base), slog.Uint64("Capacity", a.capacity), slog.Bool("TrackCarves", a.trackCarves))
	return nil
}

// Carve moves the cursor to the next address aligned to alignment and hands out the following length
// bytes. When that would run past the end of the arena it returns an error matching
// memutils.ErrOutOfMemory and the cursor does not move. requested is the caller's length before bounds
// rounding and only feeds statistics.
func (a *Arena) Carve(length, alignment, requested uint64) (Region, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := a.init(); err != nil {
		return Region{}, err
	}

	success, request, err := a.metadata.CreateAllocationRequest(length, alignment, requested)
	if err != nil {
		return Region{}, err
	}
	if !success {
		a.logger.Debug("Arena::Carve out of space",
			slog.Uint64("Length", length),
			slog.Uint64("Alignment", alignment),
			slog.Uint64("Remaining", a.metadata.SumFreeSize()))
		return Region{}, errors.Wrapf(memutils.ErrOutOfMemory, "carve %d bytes aligned to %d with %d of %d bytes remaining",
			length, alignment, a.metadata.SumFreeSize(), a.capacity)
	}

	if err := a.metadata.Alloc(request); err != nil {
		return Region{}, err
	}

	item := request.Item
	return Region{
		Address: a.metadata.BaseAddress() + item.Offset,
		Offset:  item.Offset,
		Length:  item.Size,
		Padding: item.Padding,
		Handle:  request.BlockAllocationHandle,
		memory:  a.memory[item.Offset:item.End():item.End()],
	}, nil
}

// Destroy releases the arena's reservation. Every region carved from it becomes invalid, and every
// later operation fails.
func (a *Arena) Destroy() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.initialized || a.initErr != nil {
		a.initialized = true
		if a.initErr == nil {
			a.initErr = errArenaDestroyed
		}
		return nil
	}

	err := a.reserver.Release(a.memory)
	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelError, "Arena::Destroy release failed", slog.Any("error", err))
	}

	a.memory = nil
	a.metadata = nil
	a.initErr = errArenaDestroyed
	return err
}

// Initialized returns true once the reservation has been attempted and succeeded
func (a *Arena) Initialized() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.metadata != nil
}

// Capacity returns the size of the reservation in bytes
func (a *Arena) Capacity() uint64 { return a.capacity }

// Base returns the address of the first byte of the reservation, or 0 before Init
func (a *Arena) Base() (base uint64) {
	a.mutex.Do(func() {
		if a.metadata != nil {
			base = a.metadata.BaseAddress()
		}
	})
	return base
}

// End returns the address one past the last byte of the reservation, or 0 before Init
func (a *Arena) End() (end uint64) {
	a.mutex.Do(func() {
		if a.metadata != nil {
			end = a.metadata.BaseAddress() + a.metadata.Size()
		}
	})
	return end
}

// Cursor returns the address of the first byte that has never been carved, or 0 before Init
func (a *Arena) Cursor() (cursor uint64) {
	a.mutex.Do(func() {
		if a.metadata != nil {
			cursor = a.metadata.BaseAddress() + a.metadata.Cursor()
		}
	})
	return cursor
}

// Remaining returns the number of bytes between the cursor and the end of the arena. Alignment may
// make less than this available to any single carve.
func (a *Arena) Remaining() (remaining uint64) {
	a.mutex.Do(func() {
		remaining = a.capacity
		if a.metadata != nil {
			remaining = a.metadata.SumFreeSize()
		}
	})
	return remaining
}

// FindCarve returns the carve containing address. It only finds anything when the arena was created
// with CreateTrackCarves.
func (a *Arena) FindCarve(address uint64) (metadata.Suballocation, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.metadata == nil || address < a.metadata.BaseAddress() {
		return metadata.Suballocation{}, false
	}
	return a.metadata.FindAllocation(address - a.metadata.BaseAddress())
}

// Validate performs internal consistency checks on the arena's metadata
func (a *Arena) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.metadata == nil {
		return nil
	}
	return a.metadata.Validate()
}

// AddDetailedStatistics sums the arena's statistics into stats. An arena that has not reserved its
// memory yet reports its capacity as a single unused range.
func (a *Arena) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.metadata == nil {
		stats.BlockCount++
		stats.BlockBytes += a.capacity
		stats.AddUnusedRange(a.capacity)
		return
	}
	a.metadata.AddDetailedStatistics(stats)
}

// PrintDetailedMap writes a json description of the arena, including every carve if the arena
// tracks them
func (a *Arena) PrintDetailedMap(writer *jwriter.Writer) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.metadata == nil {
		writer.Null()
		return
	}

	obj := writer.Object()
	defer obj.End()

	a.metadata.BlockJsonData(&obj)
	if !a.metadata.TracksCarves() {
		return
	}

	arrayState := obj.Name("Suballocations").Array()
	defer arrayState.End()

	_ = a.metadata.VisitAllRegions(
		func(handle metadata.BlockAllocationHandle, offset uint64, size uint64, free bool) error {
			carveObj := arrayState.Object()
			defer carveObj.End()

			carveObj.Name("Offset").Int(int(offset))
			carveObj.Name("Size").Int(int(size))
			if free {
				carveObj.Name("Type").String("FREE")
				return nil
			}

			carveObj.Name("Type").String("CARVE")
			if suballoc, ok := a.metadata.FindAllocation(offset); ok {
				carveObj.Name("Requested").Int(int(suballoc.Requested))
				carveObj.Name("Alignment").Int(int(suballoc.Alignment))
			}
			return nil
		})
}
