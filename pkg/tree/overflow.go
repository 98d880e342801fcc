// pkg/tree/overflow.go
package tree

import "hbtdb/pkg/format"

// writeOverflowChain splits value across as many overflow pages as needed
// and returns the chain head (spec §4.5 "Overflow chains"). Pages are
// staged in dirtyOverflow and only reach disk on FlushDirty.
func (t *Tree) writeOverflowChain(value []byte) (uint32, error) {
	capacity := format.OverflowCapacity(t.pageSize)
	n := (len(value) + capacity - 1) / capacity
	if n == 0 {
		n = 1
	}

	pages := make([]uint32, n)
	for i := range pages {
		pn, err := t.allocatePage()
		if err != nil {
			return 0, err
		}
		pages[i] = pn
	}

	for i := n - 1; i >= 0; i-- {
		start := i * capacity
		end := start + capacity
		if end > len(value) {
			end = len(value)
		}
		next := format.InvalidPage
		if i+1 < n {
			next = pages[i+1]
		}
		t.dirtyOverflow[pages[i]] = format.EncodeOverflowPage(t.pageSize, pages[i], next, value[start:end])
	}
	return pages[0], nil
}

// readOverflowChainPages returns the raw page bytes of every link in a
// chain. head pages may be uncommitted (only present in dirtyOverflow) or
// already durable (read through the pager).
func (t *Tree) readOverflowChainPages(head uint32) ([][]byte, error) {
	var out [][]byte
	pn := head
	for pn != format.InvalidPage {
		data, ok := t.dirtyOverflow[pn]
		if !ok {
			var err error
			data, err = t.pager.ReadPage(pn, nil)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, data)
		next, _ := format.DecodeOverflowPage(data)
		pn = next
	}
	return out, nil
}

// readOverflowChain reassembles a chain's full payload.
func (t *Tree) readOverflowChain(head uint32) ([]byte, error) {
	pages, err := t.readOverflowChainPages(head)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, data := range pages {
		_, payload := format.DecodeOverflowPage(data)
		out = append(out, payload...)
	}
	return out, nil
}

// releaseOverflowChain marks every page of a deleted chain as residue
// (spec §4.5 "Deleting a leaf entry with the overflow flag enqueues all
// chain pages into the free-page tracker"). Overflow pages carry no
// sync_id, so there is no cheap way to tell whether they predate the last
// sync; deferring to residue is always safe, just occasionally slower to
// reclaim than strictly necessary.
func (t *Tree) releaseOverflowChain(head uint32) error {
	pn := head
	for pn != format.InvalidPage {
		data, ok := t.dirtyOverflow[pn]
		if ok {
			delete(t.dirtyOverflow, pn)
		} else {
			var err error
			data, err = t.pager.ReadPage(pn, nil)
			if err != nil {
				return err
			}
		}
		next, _ := format.DecodeOverflowPage(data)
		t.free.Defer(pn)
		pn = next
	}
	return nil
}

// prepareValue decides whether value fits inline or must move to an
// overflow chain: a value longer than the tree's overflow threshold moves to
// a chain. Only the value's length is compared; the key and the record
// header are not counted.
func (t *Tree) prepareValue(value []byte) (overflow bool, ctx uint32, inline []byte, err error) {
	if len(value) <= t.overflowThreshold {
		return false, 0, value, nil
	}
	head, err := t.writeOverflowChain(value)
	if err != nil {
		return false, 0, nil, err
	}
	return true, head, nil, nil
}
