package arena

import (
	"math/bits"
	"strings"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateInternallySynchronized guards the arena cursor with a mutex so the allocator may be shared
	// between goroutines. Without it the consumer must guarantee that only one goroutine uses the
	// allocator at a time.
	CreateInternallySynchronized CreateFlags = 1 << iota
	// CreateTrackCarves keeps a ledger of every carve. This enables full overlap checks in Validate and
	// a per-carve map in BuildStatsString, at the cost of memory that grows with every allocation.
	CreateTrackCarves
)

var createFlagsMapping = map[CreateFlags]string{
	CreateInternallySynchronized: "CreateInternallySynchronized",
	CreateTrackCarves:            "CreateTrackCarves",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for remaining := uint32(f); remaining != 0; remaining &= remaining - 1 {
		flag := CreateFlags(1 << bits.TrailingZeros32(remaining))
		name, ok := createFlagsMapping[flag]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}
