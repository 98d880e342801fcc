// pkg/tree/delete.go
package tree

import "hbtdb/pkg/format"

// fillThreshold is the page-fill fraction below which rebalance acts (spec
// §4.5 "Rebalance": "full enough when fill factor > 25%").
const fillThreshold = 0.25

func (t *Tree) isFullEnough(node *format.Node) bool {
	used := t.pageSize - node.FreeSpace()
	return float64(used)/float64(t.pageSize) > fillThreshold
}

// Delete performs spec §4.5 "Delete" / "Rebalance" against root. found
// reports whether key was present.
func (t *Tree) Delete(root uint32, key []byte) (newRoot uint32, found bool, err error) {
	if root == format.InvalidPage {
		return root, false, nil
	}
	return t.deleteNode(root, key, true)
}

func (t *Tree) deleteNode(pn uint32, key []byte, isRoot bool) (newPN uint32, found bool, err error) {
	node, err := t.touch(pn)
	if err != nil {
		return 0, false, err
	}
	newPN = node.PageNumber()

	if node.IsLeaf() {
		idx := t.findPosition(node, key)
		if idx >= node.CellCount() || !t.cellKeyEquals(node, idx, key) {
			node.Finalize()
			t.putNode(node)
			return newPN, false, nil
		}
		cell := node.GetCell(idx)
		if cell.Overflow {
			if err := t.releaseOverflowChain(cell.Context); err != nil {
				return 0, false, err
			}
		}
		node.DeleteCell(idx)
		node.Finalize()
		t.putNode(node)

		if isRoot && node.CellCount() == 0 {
			t.retirePage(node, newPN)
			return format.InvalidPage, true, nil
		}
		return newPN, true, nil
	}

	idx := t.findChildIndex(node, key)
	childPN := node.GetCell(idx).Context
	newChildPN, found, err := t.deleteNode(childPN, key, false)
	if err != nil {
		return 0, false, err
	}
	if newChildPN != childPN {
		node.UpdateCellContext(idx, newChildPN)
	}
	if !found {
		node.Finalize()
		t.putNode(node)
		return newPN, false, nil
	}

	if err := t.rebalanceChild(node, idx); err != nil {
		return 0, false, err
	}
	node.Finalize()
	t.putNode(node)

	if isRoot {
		if node.CellCount() == 1 {
			onlyChild := node.GetCell(0).Context
			t.retirePage(node, newPN)
			return onlyChild, true, nil
		}
	}
	return newPN, true, nil
}

// retirePage releases a page being removed from the tree outright (root
// collapse / empty root), per spec §4.3 classification.
func (t *Tree) retirePage(node *format.Node, pn uint32) {
	lastSynced := t.free.LastSyncedID()
	immediate := node.SyncID() > lastSynced
	t.free.Release(node.SyncID(), pn, immediate)
	t.cache.Delete(pn)
	delete(t.dirty, pn)
}

// rebalanceChild checks the child at parent's slot idx and, if it has
// fallen under the fill threshold, either borrows a single entry from its
// chosen neighbour or merges with it (spec §4.5 "Rebalance", "Move-node
// (borrow)"). Grounded on the original hbtree.cpp's rebalance()/moveNode():
// the neighbour is tried for a borrow first, and only merged with when the
// neighbour cannot spare an entry without itself becoming too empty or the
// transfer would overflow a page on either side.
func (t *Tree) rebalanceChild(parent *format.Node, idx int) error {
	childPN := parent.GetCell(idx).Context
	child, err := t.getNode(childPN)
	if err != nil {
		return err
	}
	if t.isFullEnough(child) {
		return nil
	}
	if parent.CellCount() < 2 {
		return nil // only child; nothing to rebalance against at this level
	}

	var leftIdx, rightIdx int
	if idx == 0 {
		leftIdx, rightIdx = idx, idx+1
	} else {
		leftIdx, rightIdx = idx-1, idx
	}

	neighborIdx := leftIdx
	if idx == 0 {
		neighborIdx = rightIdx
	}
	moved, err := t.moveNode(parent, idx, neighborIdx)
	if err != nil {
		return err
	}
	if moved {
		return nil
	}

	leftPN := parent.GetCell(leftIdx).Context
	rightPN := parent.GetCell(rightIdx).Context

	left, err := t.touch(leftPN)
	if err != nil {
		return err
	}
	if left.PageNumber() != leftPN {
		parent.UpdateCellContext(leftIdx, left.PageNumber())
	}
	right, err := t.touch(rightPN)
	if err != nil {
		return err
	}
	if right.PageNumber() != rightPN {
		parent.UpdateCellContext(rightIdx, right.PageNumber())
	}

	count := right.CellCount()
	for i := 0; i < count; i++ {
		c := right.GetCell(i)
		key := c.Key
		if !left.IsLeaf() && i == 0 {
			// Right's own -inf sentinel becomes a real separator once
			// absorbed into left: recover it from the parent's cell.
			key = parent.GetCell(rightIdx).Key
		}
		if err := left.InsertCell(left.CellCount(), key, c.Value, c.Overflow, c.Context); err != nil {
			return err
		}
	}
	left.Finalize()
	t.putNode(left)
	t.retirePage(right, right.PageNumber())

	parent.DeleteCell(rightIdx)
	parent.UpdateCellContext(leftIdx, left.PageNumber())
	return nil
}

// moveNode borrows a single entry between the children at parent's slots
// dstIdx and neighborIdx, rewriting whichever separator keys the transfer
// invalidates (spec §4.5 "Move-node (borrow)"). It reports whether the
// borrow happened; false means the neighbour cannot spare an entry without
// violating one of spec §4.5's borrow conditions ("more than minimally
// full", "source entry fits", "does not violate parent-key size
// constraints"), and the caller should merge instead. All eligibility is
// checked read-only before anything is touched, so a declined borrow
// leaves every page untouched.
func (t *Tree) moveNode(parent *format.Node, dstIdx, neighborIdx int) (bool, error) {
	neighborPN := parent.GetCell(neighborIdx).Context
	neighbor, err := t.getNode(neighborPN)
	if err != nil {
		return false, err
	}
	if neighbor.CellCount() <= 2 {
		return false, nil
	}
	dstPN := parent.GetCell(dstIdx).Context
	dst, err := t.getNode(dstPN)
	if err != nil {
		return false, err
	}

	fromLeft := neighborIdx < dstIdx

	var movedKey, movedValue []byte
	var movedOverflow bool
	if fromLeft {
		c := neighbor.GetCell(neighbor.CellCount() - 1)
		movedKey = append([]byte(nil), c.Key...)
		movedValue = append([]byte(nil), c.Value...)
		movedOverflow = c.Overflow
	} else {
		c := neighbor.GetCell(0)
		if neighbor.IsLeaf() {
			movedKey = append([]byte(nil), c.Key...)
		} else {
			// A branch's own cell0 key is always the -inf sentinel; its
			// real key is the separator the parent already carries for it.
			movedKey = append([]byte(nil), parent.GetCell(neighborIdx).Key...)
		}
		movedValue = append([]byte(nil), c.Value...)
		movedOverflow = c.Overflow
	}

	// spec §4.5 "the source entry fits in P"
	dstNeed := format.SpaceNeededForCell(movedKey, movedValue, movedOverflow)
	if !dst.IsLeaf() {
		dstNeed = format.SpaceNeededForCell(movedKey, nil, false)
		if fromLeft {
			// dst's old sentinel cell0 is displaced to slot 1 and must
			// carry a real key there.
			dstNeed += len(parent.GetCell(dstIdx).Key)
		}
	}
	if dst.FreeSpace() < dstNeed {
		return false, nil
	}

	// spec §4.5 "does not violate parent-key size constraints on either
	// side"
	if fromLeft {
		oldKey := parent.GetCell(dstIdx).Key
		if grow := len(movedKey) - len(oldKey); grow > 0 && parent.FreeSpace() < grow {
			return false, nil
		}
	} else if neighbor.CellCount() > 1 {
		newNeighborMin := neighbor.GetCell(1).Key
		oldKey := parent.GetCell(neighborIdx).Key
		if grow := len(newNeighborMin) - len(oldKey); grow > 0 && parent.FreeSpace() < grow {
			return false, nil
		}
	}

	dst, err = t.touch(dstPN)
	if err != nil {
		return false, err
	}
	if dst.PageNumber() != dstPN {
		parent.UpdateCellContext(dstIdx, dst.PageNumber())
	}
	neighbor, err = t.touch(neighborPN)
	if err != nil {
		return false, err
	}
	if neighbor.PageNumber() != neighborPN {
		parent.UpdateCellContext(neighborIdx, neighbor.PageNumber())
	}

	if fromLeft {
		c := neighbor.GetCell(neighbor.CellCount() - 1)
		movedCtx := c.Context
		neighbor.DeleteCell(neighbor.CellCount() - 1)

		if dst.IsLeaf() {
			if err := dst.InsertCell(0, movedKey, movedValue, movedOverflow, movedCtx); err != nil {
				return false, err
			}
		} else {
			old0 := dst.GetCell(0)
			oldSeparator := append([]byte(nil), parent.GetCell(dstIdx).Key...)
			oldCtx := old0.Context
			dst.DeleteCell(0)
			if err := dst.InsertCell(0, oldSeparator, nil, false, oldCtx); err != nil {
				return false, err
			}
			if err := dst.InsertCell(0, []byte{}, nil, false, movedCtx); err != nil {
				return false, err
			}
		}
		if err := rewriteCellKey(parent, dstIdx, movedKey); err != nil {
			return false, err
		}
	} else {
		c := neighbor.GetCell(0)
		movedCtx := c.Context
		neighbor.DeleteCell(0)

		if dst.IsLeaf() {
			if err := dst.InsertCell(dst.CellCount(), movedKey, movedValue, movedOverflow, movedCtx); err != nil {
				return false, err
			}
		} else {
			if err := dst.InsertCell(dst.CellCount(), movedKey, nil, false, movedCtx); err != nil {
				return false, err
			}
		}

		var newNeighborMin []byte
		if neighbor.IsLeaf() {
			newNeighborMin = append([]byte(nil), neighbor.GetCell(0).Key...)
		} else {
			// The former slot 1 shifted down to slot 0 and now carries a
			// real key where the sentinel belongs; promote it to the
			// parent and restore the sentinel.
			newMin := neighbor.GetCell(0)
			newNeighborMin = append([]byte(nil), newMin.Key...)
			if err := rewriteCellKey(neighbor, 0, []byte{}); err != nil {
				return false, err
			}
		}
		if err := rewriteCellKey(parent, neighborIdx, newNeighborMin); err != nil {
			return false, err
		}
	}

	dst.Finalize()
	neighbor.Finalize()
	t.putNode(dst)
	t.putNode(neighbor)
	return true, nil
}

// rewriteCellKey replaces the key of the cell at idx, keeping its value,
// overflow flag, and context intact; used to slide a separator key as a
// borrow or merge changes a node's logical minimum.
func rewriteCellKey(node *format.Node, idx int, newKey []byte) error {
	c := node.GetCell(idx)
	ctx := c.Context
	value := append([]byte(nil), c.Value...)
	overflow := c.Overflow
	node.DeleteCell(idx)
	return node.InsertCell(idx, newKey, value, overflow, ctx)
}
