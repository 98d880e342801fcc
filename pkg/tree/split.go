// pkg/tree/split.go
package tree

import "hbtdb/pkg/format"

// cellCopy is a defensive, independently-owned copy of a decoded cell, safe
// to hold onto across mutations of the node it came from.
type cellCopy struct {
	key      []byte
	value    []byte
	overflow bool
	context  uint32
}

func copyCell(c format.Cell) cellCopy {
	return cellCopy{
		key:      append([]byte(nil), c.Key...),
		value:    append([]byte(nil), c.Value...),
		overflow: c.Overflow,
		context:  c.Context,
	}
}

// splitIndexLeaf picks the smallest prefix whose cumulative
// space_needed_for_node exceeds capacity/2 - overflow_threshold/2 (spec
// §4.5 "Split").
func splitIndexLeaf(cells []cellCopy, overflowThreshold, pageSize int) int {
	target := pageSize/2 - overflowThreshold/2
	if target <= 0 {
		target = pageSize / 2
	}
	cum := 0
	for i, c := range cells {
		cum += format.SpaceNeededForCell(c.key, c.value, c.overflow)
		if cum > target {
			return i
		}
	}
	return len(cells) / 2
}

// splitIndexBranch biases left (mid-1) per spec §4.5 "Split".
func splitIndexBranch(n int) int {
	if n < 2 {
		return 1
	}
	idx := (n-1)/2 - 1
	if idx < 1 {
		idx = 1
	}
	return idx
}

// splitNode moves the tail of left's cells into a freshly formatted right
// node at rightPN, preserving left's history list. Returns the right node
// and the separator key to promote to the parent.
func (t *Tree) splitNode(left *format.Node, rightPN uint32, isLeaf bool, syncID uint64) (*format.Node, []byte, error) {
	count := left.CellCount()
	cells := make([]cellCopy, count)
	for i := 0; i < count; i++ {
		cells[i] = copyCell(left.GetCell(i))
	}

	var splitIdx int
	if isLeaf {
		splitIdx = splitIndexLeaf(cells, t.overflowThreshold, t.pageSize)
	} else {
		splitIdx = splitIndexBranch(count)
	}
	if splitIdx < 1 {
		splitIdx = 1
	}
	if splitIdx >= count {
		splitIdx = count - 1
	}

	rightCells := cells[splitIdx:]
	for i := count - 1; i >= splitIdx; i-- {
		left.DeleteCell(i)
	}

	splitKey := append([]byte(nil), rightCells[0].key...)

	rightData := make([]byte, t.pageSize)
	right := format.NewNode(rightData, rightPN, isLeaf, syncID)
	for i, c := range rightCells {
		key := c.key
		if !isLeaf && i == 0 {
			// The promoted cell becomes the right node's own leftmost
			// (-inf) routing entry; its original key is the separator
			// already captured above, not a key within the right subtree.
			key = []byte{}
		}
		if err := right.InsertCell(i, key, c.value, c.overflow, c.context); err != nil {
			return nil, nil, err
		}
	}
	return right, splitKey, nil
}
