package defrag

import (
	"github.com/mm7655/MemoryDisk/memutils/metadata"
)

type DefragmentationMoveOperation uint32

const (
	// DefragmentationMoveCopy relocates the block to its planned destination
	DefragmentationMoveCopy DefragmentationMoveOperation = iota
	// DefragmentationMoveIgnore pins the block at its current address
	DefragmentationMoveIgnore
)

var defragmentationMoveOperationMapping = map[DefragmentationMoveOperation]string{
	DefragmentationMoveCopy:   "DefragmentationMoveCopy",
	DefragmentationMoveIgnore: "DefragmentationMoveIgnore",
}

func (o DefragmentationMoveOperation) String() string {
	return defragmentationMoveOperationMapping[o]
}

// DefragmentOperationHandler is consulted for every owned block that compaction would like to relocate.
// Returning DefragmentationMoveIgnore pins the block in place.
type DefragmentOperationHandler func(block metadata.Block) DefragmentationMoveOperation

// DefragmentationMove describes the relocation of one owned block toward the start of the map
type DefragmentationMove struct {
	Size      int
	Src       metadata.Block
	Dst       metadata.Block
	Operation DefragmentationMoveOperation
}
