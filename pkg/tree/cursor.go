// pkg/tree/cursor.go
package tree

import "hbtdb/pkg/format"

// pathEntry is one step of a root-to-leaf descent: the page visited and
// the index within it that was followed (spec §9 Design Notes: "return a
// full search path ... this avoids mutable back-references").
type pathEntry struct {
	pageNumber uint32
	index      int
}

// Cursor positions within the tree via a held key, re-resolving its path on
// every movement since the underlying snapshot's root may have advanced
// between cursor operations within a write transaction (spec §4.8).
type Cursor struct {
	tree *Tree
	root uint32

	valid bool
	key   []byte
	value []byte
}

// NewCursor creates a cursor over root. It starts unpositioned.
func (t *Tree) NewCursor(root uint32) *Cursor {
	return &Cursor{tree: t, root: root}
}

// Valid reports whether the cursor is positioned on an entry.
func (c *Cursor) Valid() bool { return c.valid }

// Key returns the current entry's key. Only valid when Valid() is true.
func (c *Cursor) Key() []byte { return c.key }

// Value returns the current entry's value, resolving overflow chains.
func (c *Cursor) Value() []byte { return c.value }

func (c *Cursor) setPosition(leaf *format.Node, idx int) error {
	cell := leaf.GetCell(idx)
	c.key = append([]byte(nil), cell.Key...)
	if cell.Overflow {
		val, err := c.tree.readOverflowChain(cell.Context)
		if err != nil {
			return err
		}
		c.value = val
	} else {
		c.value = append([]byte(nil), cell.Value...)
	}
	c.valid = true
	return nil
}

// descendPath walks from root to the leaf that would contain key (or does
// contain it), recording the path taken.
func (c *Cursor) descendPath(key []byte) ([]pathEntry, *format.Node, error) {
	var path []pathEntry
	pn := c.root
	for {
		node, err := c.tree.getNode(pn)
		if err != nil {
			return nil, nil, err
		}
		if node.IsLeaf() {
			return path, node, nil
		}
		idx := c.tree.findChildIndex(node, key)
		path = append(path, pathEntry{pageNumber: pn, index: idx})
		pn = node.GetCell(idx).Context
	}
}

// First positions the cursor at the smallest key (spec §4.8 "first":
// "descend always-left from root").
func (c *Cursor) First() error {
	pn := c.root
	if pn == format.InvalidPage {
		c.valid = false
		return nil
	}
	for {
		node, err := c.tree.getNode(pn)
		if err != nil {
			return err
		}
		if node.IsLeaf() {
			if node.CellCount() == 0 {
				c.valid = false
				return nil
			}
			return c.setPosition(node, 0)
		}
		pn = node.GetCell(0).Context
	}
}

// Last positions the cursor at the largest key (spec §4.8 "last":
// "descend always-right from root").
func (c *Cursor) Last() error {
	pn := c.root
	if pn == format.InvalidPage {
		c.valid = false
		return nil
	}
	for {
		node, err := c.tree.getNode(pn)
		if err != nil {
			return err
		}
		if node.IsLeaf() {
			if node.CellCount() == 0 {
				c.valid = false
				return nil
			}
			return c.setPosition(node, node.CellCount()-1)
		}
		pn = node.GetCell(node.CellCount() - 1).Context
	}
}

// Seek positions the cursor at an exact match for key, failing (Valid()
// becomes false) otherwise (spec §4.8 "seek(k)").
func (c *Cursor) Seek(key []byte) error {
	_, leaf, err := c.descendPath(key)
	if err != nil {
		return err
	}
	idx := c.tree.findPosition(leaf, key)
	if idx >= leaf.CellCount() || !c.tree.cellKeyEquals(leaf, idx, key) {
		c.valid = false
		return nil
	}
	return c.setPosition(leaf, idx)
}

// SeekRange positions at an exact match for key, or else the least key
// greater than it, crossing to the right sibling if the target leaf has no
// such key (spec §4.8 "seekRange(k)").
func (c *Cursor) SeekRange(key []byte) error {
	path, leaf, err := c.descendPath(key)
	if err != nil {
		return err
	}
	idx := c.tree.findPosition(leaf, key)
	if idx < leaf.CellCount() {
		return c.setPosition(leaf, idx)
	}
	return c.advanceFrom(path, leaf)
}

// Next advances to the next key in comparator order (spec §4.8 "next": "from
// the held key, re-search, then step").
func (c *Cursor) Next() error {
	if !c.valid {
		return nil
	}
	path, leaf, err := c.descendPath(c.key)
	if err != nil {
		return err
	}
	idx := c.tree.findPosition(leaf, c.key)
	if idx < leaf.CellCount() && c.tree.cellKeyEquals(leaf, idx, c.key) {
		idx++
	}
	if idx < leaf.CellCount() {
		return c.setPosition(leaf, idx)
	}
	return c.advanceFrom(path, leaf)
}

// Prev retreats to the previous key in comparator order.
func (c *Cursor) Prev() error {
	if !c.valid {
		return nil
	}
	path, leaf, err := c.descendPath(c.key)
	if err != nil {
		return err
	}
	idx := c.tree.findPosition(leaf, c.key)
	idx--
	if idx >= 0 {
		return c.setPosition(leaf, idx)
	}
	return c.retreatFrom(path, leaf)
}

// advanceFrom climbs the path looking for the nearest ancestor with a
// right sibling subtree, then descends leftmost into it (spec §4.8:
// "crossing leaf boundaries uses the right ... sibling links computed
// during search descent").
func (c *Cursor) advanceFrom(path []pathEntry, _ *format.Node) error {
	for i := len(path) - 1; i >= 0; i-- {
		entry := path[i]
		parent, err := c.tree.getNode(entry.pageNumber)
		if err != nil {
			return err
		}
		if entry.index+1 < parent.CellCount() {
			pn := parent.GetCell(entry.index + 1).Context
			return c.descendLeftmost(pn)
		}
	}
	c.valid = false
	return nil
}

// retreatFrom is the mirror of advanceFrom for Prev.
func (c *Cursor) retreatFrom(path []pathEntry, _ *format.Node) error {
	for i := len(path) - 1; i >= 0; i-- {
		entry := path[i]
		parent, err := c.tree.getNode(entry.pageNumber)
		if err != nil {
			return err
		}
		if entry.index-1 >= 0 {
			pn := parent.GetCell(entry.index - 1).Context
			return c.descendRightmost(pn)
		}
	}
	c.valid = false
	return nil
}

func (c *Cursor) descendLeftmost(pn uint32) error {
	for {
		node, err := c.tree.getNode(pn)
		if err != nil {
			return err
		}
		if node.IsLeaf() {
			if node.CellCount() == 0 {
				c.valid = false
				return nil
			}
			return c.setPosition(node, 0)
		}
		pn = node.GetCell(0).Context
	}
}

func (c *Cursor) descendRightmost(pn uint32) error {
	for {
		node, err := c.tree.getNode(pn)
		if err != nil {
			return err
		}
		if node.IsLeaf() {
			if node.CellCount() == 0 {
				c.valid = false
				return nil
			}
			return c.setPosition(node, node.CellCount()-1)
		}
		pn = node.GetCell(node.CellCount() - 1).Context
	}
}
