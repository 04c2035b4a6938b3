package arena

import (
	"io"

	"github.com/cheriprobe/caparena/memutils/bounds"
	"golang.org/x/exp/slog"
)

const (
	// DefaultCapacity is the value that is used as the arena capacity when none is provided via
	// CreateOptions. It is equal to 16Mb.
	DefaultCapacity uint64 = 16 * 1024 * 1024
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// Capacity is the number of bytes the arena reserves on first use. It can never grow.
	Capacity uint64
	// Policy decides how requested lengths are rounded and aligned. When nil, exact rounding
	// for the Morello encoding is used.
	Policy bounds.Policy
	// Reserver provides the arena's memory. When nil, a private anonymous mapping is used.
	Reserver Reserver
}

// New creates a new Allocator. No memory is reserved until the first allocation.
//
// logger - Receives diagnostic records. May be nil.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = discardLogger()
	}

	policy := options.Policy
	if policy == nil {
		exact, err := bounds.NewExactPolicy(bounds.Morello)
		if err != nil {
			return nil, err
		}
		policy = exact
	}

	capacity := options.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}

	logger.Debug("Allocator::New",
		slog.String("Policy", policy.String()),
		slog.Uint64("Capacity", capacity),
		slog.String("Flags", options.Flags.String()))

	return &Allocator{
		logger: logger,
		policy: policy,
		arena:  NewArena(logger, options.Reserver, capacity, options.Flags),
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
