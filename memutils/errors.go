package memutils

import "github.com/cockroachdb/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrOutOfMemory is returned when an arena cannot fit a request between its cursor and its end. The arena
// is left exactly as it was before the request, so smaller requests may still succeed.
var ErrOutOfMemory error = errors.New("out of memory")

// ErrReservation is returned when the backing memory for an arena could not be reserved from the
// operating environment. It is fatal to the arena that produced it.
var ErrReservation error = errors.New("could not reserve arena memory")

// ErrUnrepresentable is returned by bounds policies when a length cannot be rounded to a representable
// length without overflowing the address space
var ErrUnrepresentable error = errors.New("length has no representable encoding")
