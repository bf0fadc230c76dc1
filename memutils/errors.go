package memutils

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidSize is returned when a requested segment size or region size is not positive
	ErrInvalidSize error = errors.New("size must be greater than zero")
	// ErrCapacityExceeded is returned when splitting a block would grow the memory map past its
	// maximum block count
	ErrCapacityExceeded error = errors.New("memory map block capacity exceeded")
	// ErrBlockNotFound is returned when a release names bounds that do not match any block in the map
	ErrBlockNotFound error = errors.New("no block with matching bounds")
	// ErrBlockAlreadyFree is returned when a release names a block that is not owned by any process
	ErrBlockAlreadyFree error = errors.New("block is already free")
	// ErrInvalidMap is returned when a caller-provided set of blocks does not form a valid memory map
	ErrInvalidMap error = errors.New("invalid memory map")
	// ErrUnknownStrategy is returned when a placement strategy name or value is not recognized
	ErrUnknownStrategy error = errors.New("unknown allocation strategy")
)
