package amt

import (
	"bytes"
	"context"
	"fmt"

	cbor "github.com/ipfs/go-ipld-cbor"
	cbg "github.com/whyrusleeping/cbor-gen"
)

type ChangeType int

const (
	Add ChangeType = iota
	Remove
	Modify
)

func (t ChangeType) String() string {
	switch t {
	case Add:
		return "add"
	case Remove:
		return "remove"
	case Modify:
		return "modify"
	default:
		return fmt.Sprintf("ChangeType(%d)", int(t))
	}
}

// Change is a single difference between two AMTs. Before is nil for Add and
// After is nil for Remove.
type Change struct {
	Type   ChangeType
	Key    uint64
	Before *cbg.Deferred
	After  *cbg.Deferred
}

func (c *Change) String() string {
	return fmt.Sprintf("%s %d", c.Type, c.Key)
}

// Diff lists the changes that turn prev into cur, in ascending index order.
// Subtrees that are flushed in both tries and share a CID are not visited.
// Both tries must use the same bit width.
func Diff(ctx context.Context, prev, cur *AMT) ([]*Change, error) {
	if prev.bitWidth != cur.bitWidth {
		return nil, fmt.Errorf("%w: cannot diff AMTs with bit widths %d and %d", ErrInvalidBitWidth, prev.bitWidth, cur.bitWidth)
	}

	d := &differ{
		prevStore: prev.store,
		curStore:  cur.store,
		bitWidth:  prev.bitWidth,
	}
	if err := d.diffNodes(ctx, prev.node, prev.height, cur.node, cur.height, 0); err != nil {
		return nil, err
	}
	return d.changes, nil
}

type differ struct {
	prevStore cbor.IpldStore
	curStore  cbor.IpldStore
	bitWidth  uint
	changes   []*Change
}

func (d *differ) diffNodes(ctx context.Context, prev *node, prevHeight int, cur *node, curHeight int, offset uint64) error {
	switch {
	case prevHeight > curHeight:
		// only slot 0 of the taller tree overlaps the shorter one; if it is
		// empty, everything in the shorter tree is unmatched
		nfh := nodesForHeight(d.bitWidth, prevHeight)
		for i, l := range prev.links {
			if l == nil {
				if i == 0 {
					if err := d.emitAll(ctx, d.curStore, cur, curHeight, offset, Add); err != nil {
						return err
					}
				}
				continue
			}
			sub, err := l.load(ctx, d.prevStore, d.bitWidth, prevHeight-1)
			if err != nil {
				return err
			}
			if i == 0 {
				err = d.diffNodes(ctx, sub, prevHeight-1, cur, curHeight, offset)
			} else {
				err = d.emitAll(ctx, d.prevStore, sub, prevHeight-1, offset+uint64(i)*nfh, Remove)
			}
			if err != nil {
				return err
			}
		}
		return nil
	case curHeight > prevHeight:
		nfh := nodesForHeight(d.bitWidth, curHeight)
		for i, l := range cur.links {
			if l == nil {
				if i == 0 {
					if err := d.emitAll(ctx, d.prevStore, prev, prevHeight, offset, Remove); err != nil {
						return err
					}
				}
				continue
			}
			sub, err := l.load(ctx, d.curStore, d.bitWidth, curHeight-1)
			if err != nil {
				return err
			}
			if i == 0 {
				err = d.diffNodes(ctx, prev, prevHeight, sub, curHeight-1, offset)
			} else {
				err = d.emitAll(ctx, d.curStore, sub, curHeight-1, offset+uint64(i)*nfh, Add)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}

	if prevHeight == 0 {
		for i := range prev.values {
			pv, cv := prev.values[i], cur.values[i]
			key := offset + uint64(i)
			switch {
			case pv == nil && cv == nil:
			case pv == nil:
				d.changes = append(d.changes, &Change{Type: Add, Key: key, After: cv})
			case cv == nil:
				d.changes = append(d.changes, &Change{Type: Remove, Key: key, Before: pv})
			case !bytes.Equal(pv.Raw, cv.Raw):
				d.changes = append(d.changes, &Change{Type: Modify, Key: key, Before: pv, After: cv})
			}
		}
		return nil
	}

	nfh := nodesForHeight(d.bitWidth, prevHeight)
	for i := range prev.links {
		pl, cl := prev.links[i], cur.links[i]
		offs := offset + uint64(i)*nfh
		switch {
		case pl == nil && cl == nil:
			continue
		case pl == nil:
			sub, err := cl.load(ctx, d.curStore, d.bitWidth, prevHeight-1)
			if err != nil {
				return err
			}
			if err := d.emitAll(ctx, d.curStore, sub, prevHeight-1, offs, Add); err != nil {
				return err
			}
		case cl == nil:
			sub, err := pl.load(ctx, d.prevStore, d.bitWidth, prevHeight-1)
			if err != nil {
				return err
			}
			if err := d.emitAll(ctx, d.prevStore, sub, prevHeight-1, offs, Remove); err != nil {
				return err
			}
		case !pl.dirty && !cl.dirty && pl.cid.Equals(cl.cid):
			continue
		default:
			psub, err := pl.load(ctx, d.prevStore, d.bitWidth, prevHeight-1)
			if err != nil {
				return err
			}
			csub, err := cl.load(ctx, d.curStore, d.bitWidth, prevHeight-1)
			if err != nil {
				return err
			}
			if err := d.diffNodes(ctx, psub, prevHeight-1, csub, prevHeight-1, offs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *differ) emitAll(ctx context.Context, bs cbor.IpldStore, n *node, height int, offset uint64, t ChangeType) error {
	_, err := n.forEachWhile(ctx, bs, d.bitWidth, height, 0, offset, func(i uint64, v *cbg.Deferred) (bool, error) {
		c := &Change{Type: t, Key: i}
		if t == Add {
			c.After = v
		} else {
			c.Before = v
		}
		d.changes = append(d.changes, c)
		return true, nil
	})
	return err
}
