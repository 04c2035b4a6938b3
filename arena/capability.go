package arena

import (
	"fmt"
	"strings"

	"github.com/cheriprobe/caparena/memutils/bounds"
	"github.com/cockroachdb/errors"
)

var (
	// ErrTagViolation is returned when memory is accessed through a capability whose tag is clear
	ErrTagViolation = errors.New("capability tag violation")
	// ErrPermissionViolation is returned when a capability lacks the permission an access needs
	ErrPermissionViolation = errors.New("capability permission violation")
	// ErrBoundsViolation is returned when an access falls outside a capability's bounds
	ErrBoundsViolation = errors.New("capability bounds violation")
)

// Permissions are the access rights a capability grants
type Permissions uint32

const (
	PermissionLoad Permissions = 1 << iota
	PermissionStore
	PermissionExecute
	PermissionLoadCapability
	PermissionStoreCapability
)

// PermissionsReadWrite is what the allocator grants every capability it issues
const PermissionsReadWrite = PermissionLoad | PermissionStore | PermissionLoadCapability | PermissionStoreCapability

var permissionLetters = []struct {
	permission Permissions
	letter     byte
}{
	{PermissionLoad, 'r'},
	{PermissionStore, 'w'},
	{PermissionExecute, 'x'},
	{PermissionLoadCapability, 'R'},
	{PermissionStoreCapability, 'W'},
}

// String renders permissions in the conventional rwxRW form, omitting absent ones
func (p Permissions) String() string {
	var builder strings.Builder
	for _, entry := range permissionLetters {
		if p&entry.permission != 0 {
			builder.WriteByte(entry.letter)
		}
	}

	return builder.String()
}

// Capability is a bounded, tagged reference to memory. The allocator issues capabilities whose bounds
// are exactly the carved region; afterward they can only be narrowed, restricted or invalidated, never
// widened. The zero Capability is the null capability: untagged with empty bounds.
type Capability struct {
	memory      []byte
	address     uint64
	length      uint64
	permissions Permissions
	tag         bool
}

func newCapability(region Region) Capability {
	return Capability{
		memory:      region.Bytes(),
		address:     region.Address,
		length:      region.Length,
		permissions: PermissionsReadWrite,
		tag:         true,
	}
}

// Address returns the address of the first byte of the capability's bounds
func (c Capability) Address() uint64 { return c.address }

// Length returns the length of the capability's bounds
func (c Capability) Length() uint64 { return c.length }

// Top returns the address one past the last byte of the capability's bounds
func (c Capability) Top() uint64 { return c.address + c.length }

// Tag returns true if the capability is valid
func (c Capability) Tag() bool { return c.tag }

// Permissions returns the access rights of the capability
func (c Capability) Permissions() Permissions { return c.permissions }

// IsNull returns true for the null capability
func (c Capability) IsNull() bool {
	return !c.tag && c.address == 0 && c.length == 0
}

// Bytes returns the memory the capability may load from, or nil if it may not load at all. The
// returned slice cannot be resliced past the capability's bounds.
func (c Capability) Bytes() []byte {
	if !c.tag || c.permissions&PermissionLoad == 0 {
		return nil
	}

	return c.memory
}

func (c Capability) check(off int64, size int, needed Permissions) error {
	if !c.tag {
		return errors.Wrapf(ErrTagViolation, "access at %#x", c.address)
	}

	if c.permissions&needed != needed {
		return errors.Wrapf(ErrPermissionViolation, "access needs %s, capability has %s", needed, c.permissions)
	}

	if off < 0 || uint64(off) > c.length || uint64(size) > c.length-uint64(off) {
		return errors.Wrapf(ErrBoundsViolation, "access of %d bytes at offset %d, capability length is %d", size, off, c.length)
	}

	return nil
}

// ReadAt loads len(p) bytes starting off bytes into the capability. Like the hardware it emulates, it
// either loads everything or faults without loading anything.
func (c Capability) ReadAt(p []byte, off int64) (int, error) {
	if err := c.check(off, len(p), PermissionLoad); err != nil {
		return 0, err
	}

	return copy(p, c.memory[off:]), nil
}

// WriteAt stores p starting off bytes into the capability, or faults without storing anything
func (c Capability) WriteAt(p []byte, off int64) (int, error) {
	if err := c.check(off, len(p), PermissionStore); err != nil {
		return 0, err
	}

	return copy(c.memory[off:], p), nil
}

// Narrow returns a capability for length bytes starting offset bytes into c. Bounds that reach
// outside c produce an untagged capability, as does narrowing an untagged one.
func (c Capability) Narrow(offset, length uint64) Capability {
	if !c.tag || offset > c.length || length > c.length-offset {
		narrowed := c.Invalidate()
		narrowed.address = c.address + offset
		narrowed.length = length
		return narrowed
	}

	return Capability{
		memory:      c.memory[offset : offset+length : offset+length],
		address:     c.address + offset,
		length:      length,
		permissions: c.permissions,
		tag:         true,
	}
}

// NarrowWith narrows c the way a bounds-setting instruction under policy would: when the requested
// bounds are not representable they are widened to the nearest representable ones, which may be
// larger than asked for. The result is untagged if the widened bounds escape c.
func (c Capability) NarrowWith(policy bounds.Policy, offset, length uint64) Capability {
	actual := policy.SetBounds(c.address+offset, length)
	if actual.Base < c.address {
		return c.Narrow(offset, length).Invalidate()
	}

	return c.Narrow(actual.Base-c.address, actual.Length())
}

// Restrict returns c with every permission not in keep removed
func (c Capability) Restrict(keep Permissions) Capability {
	c.permissions &= keep
	return c
}

// Invalidate returns c with its tag cleared. The bounds remain visible but the memory does not.
func (c Capability) Invalidate() Capability {
	c.tag = false
	c.memory = nil
	return c
}

// Contains returns true if [address, address+length) lies entirely within c's bounds
func (c Capability) Contains(address, length uint64) bool {
	return address >= c.address && address <= c.Top() && length <= c.Top()-address
}

// Overlaps returns true if c and other share at least one byte
func (c Capability) Overlaps(other Capability) bool {
	if c.length == 0 || other.length == 0 {
		return false
	}

	return c.address < other.Top() && other.address < c.Top()
}

func (c Capability) String() string {
	tag := "invalid"
	if c.tag {
		tag = "valid"
	}

	return fmt.Sprintf("%#x [%s,%#x-%#x] (%s)", c.address, c.permissions, c.address, c.Top(), tag)
}
