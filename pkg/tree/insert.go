// pkg/tree/insert.go
package tree

import "hbtdb/pkg/format"

// Insert performs spec §4.5 "Insert" against root, returning the (possibly
// new) root page number.
func (t *Tree) Insert(root uint32, key, value []byte) (uint32, error) {
	if len(key) == 0 {
		return root, ErrEmptyLeafKey
	}
	if len(key) > format.MaxKeySize {
		return root, format.ErrKeyTooLong
	}

	overflow, ctx, inline, err := t.prepareValue(value)
	if err != nil {
		return root, err
	}

	if root == format.InvalidPage {
		pn, err := t.allocatePage()
		if err != nil {
			return root, err
		}
		data := make([]byte, t.pageSize)
		node := format.NewNode(data, pn, true, t.free.LastSyncedID()+1)
		if err := node.InsertCell(0, key, inline, overflow, ctx); err != nil {
			return root, err
		}
		node.Finalize()
		t.putNode(node)
		return pn, nil
	}

	newRoot, splitKey, rightPN, split, err := t.insertNode(root, key, inline, overflow, ctx)
	if err != nil {
		return root, err
	}
	if !split {
		return newRoot, nil
	}

	rootPN, err := t.allocatePage()
	if err != nil {
		return root, err
	}
	data := make([]byte, t.pageSize)
	rootNode := format.NewNode(data, rootPN, false, t.free.LastSyncedID()+1)
	if err := rootNode.InsertCell(0, []byte{}, nil, false, newRoot); err != nil {
		return root, err
	}
	if err := rootNode.InsertCell(1, splitKey, nil, false, rightPN); err != nil {
		return root, err
	}
	rootNode.Finalize()
	t.putNode(rootNode)
	return rootPN, nil
}

// insertNode recursively descends to the target leaf, touching every page
// on the path, and bubbles split results back up (spec §4.5 "Split": "the
// separator ... is inserted into the parent; if the parent lacks space, the
// parent is split recursively before insertion").
func (t *Tree) insertNode(pn uint32, key, value []byte, overflow bool, ctx uint32) (newPN uint32, splitKey []byte, rightPN uint32, split bool, err error) {
	node, err := t.touch(pn)
	if err != nil {
		return 0, nil, 0, false, err
	}
	newPN = node.PageNumber()

	if node.IsLeaf() {
		idx := t.findPosition(node, key)
		if idx < node.CellCount() && t.cellKeyEquals(node, idx, key) {
			existing := node.GetCell(idx)
			if existing.Overflow {
				if err := t.releaseOverflowChain(existing.Context); err != nil {
					return 0, nil, 0, false, err
				}
			}
			node.DeleteCell(idx)
			idx = t.findPosition(node, key)
		}

		if insErr := node.InsertCell(idx, key, value, overflow, ctx); insErr == nil {
			node.Finalize()
			t.putNode(node)
			return newPN, nil, 0, false, nil
		} else if insErr != format.ErrNodeFull {
			return 0, nil, 0, false, insErr
		}

		rightPN, err = t.allocatePage()
		if err != nil {
			return 0, nil, 0, false, err
		}
		right, sk, err := t.splitNode(node, rightPN, true, node.SyncID())
		if err != nil {
			return 0, nil, 0, false, err
		}
		if t.compareKeys(key, sk) < 0 {
			pos := t.findPosition(node, key)
			if err := node.InsertCell(pos, key, value, overflow, ctx); err != nil {
				return 0, nil, 0, false, err
			}
		} else {
			pos := t.findPosition(right, key)
			if err := right.InsertCell(pos, key, value, overflow, ctx); err != nil {
				return 0, nil, 0, false, err
			}
		}
		node.Finalize()
		right.Finalize()
		t.putNode(node)
		t.putNode(right)
		return newPN, sk, rightPN, true, nil
	}

	idx := t.findChildIndex(node, key)
	childPN := node.GetCell(idx).Context
	newChildPN, sk, rightChildPN, childSplit, err := t.insertNode(childPN, key, value, overflow, ctx)
	if err != nil {
		return 0, nil, 0, false, err
	}
	if newChildPN != childPN {
		node.UpdateCellContext(idx, newChildPN)
	}
	if !childSplit {
		node.Finalize()
		t.putNode(node)
		return newPN, nil, 0, false, nil
	}

	insPos := idx + 1
	if insErr := node.InsertCell(insPos, sk, nil, false, rightChildPN); insErr == nil {
		node.Finalize()
		t.putNode(node)
		return newPN, nil, 0, false, nil
	} else if insErr != format.ErrNodeFull {
		return 0, nil, 0, false, insErr
	}

	rightPN, err = t.allocatePage()
	if err != nil {
		return 0, nil, 0, false, err
	}
	rightBranch, sk2, err := t.splitNode(node, rightPN, false, node.SyncID())
	if err != nil {
		return 0, nil, 0, false, err
	}
	if t.compareKeys(sk, sk2) < 0 {
		pos := t.findPosition(node, sk)
		if err := node.InsertCell(pos, sk, nil, false, rightChildPN); err != nil {
			return 0, nil, 0, false, err
		}
	} else {
		pos := t.findPosition(rightBranch, sk)
		if err := rightBranch.InsertCell(pos, sk, nil, false, rightChildPN); err != nil {
			return 0, nil, 0, false, err
		}
	}
	node.Finalize()
	rightBranch.Finalize()
	t.putNode(node)
	t.putNode(rightBranch)
	return newPN, sk2, rightPN, true, nil
}
