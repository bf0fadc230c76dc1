package metadata

import (
	"fmt"

	"github.com/mm7655/MemoryDisk/memutils"
)

// OwnerID identifies the process that owns a block. FreeOwner marks a block that belongs to nobody.
type OwnerID int

const (
	// FreeOwner is the owner value of every unallocated block
	FreeOwner OwnerID = 0
	nullOwner OwnerID = -1
)

// Block describes one contiguous segment of the managed address range. End is inclusive, so
// Size is always End - Start + 1.
type Block struct {
	Start int
	End   int
	Size  int
	Owner OwnerID
}

// NullBlock is returned in place of a Block when an allocation could not be satisfied. It is never
// stored in a MemoryMap.
var NullBlock = Block{Start: -1, End: -1, Size: -1, Owner: nullOwner}

func newBlock(start, size int, owner OwnerID) Block {
	memutils.DebugCheckPositive(size, "size")

	return Block{
		Start: start,
		End:   memutils.LastAddress(start, size),
		Size:  size,
		Owner: owner,
	}
}

// IsNull returns true if this block is the NullBlock sentinel
func (b Block) IsNull() bool {
	return b == NullBlock
}

// IsFree returns true if no process owns this block
func (b Block) IsFree() bool {
	return b.Owner == FreeOwner
}

func (b Block) String() string {
	if b.IsNull() {
		return "[null]"
	}
	if b.IsFree() {
		return fmt.Sprintf("[%d..%d free]", b.Start, b.End)
	}
	return fmt.Sprintf("[%d..%d pid=%d]", b.Start, b.End, b.Owner)
}
