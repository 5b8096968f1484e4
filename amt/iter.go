package amt

import (
	"bytes"
	"context"
	"fmt"

	cbor "github.com/ipfs/go-ipld-cbor"
	cbg "github.com/whyrusleeping/cbor-gen"
)

// ValueMut gives a ForEachMut callback write access to the value it is visiting.
type ValueMut struct {
	value   *cbg.Deferred
	changed bool
}

// Raw returns the current encoded value.
func (v *ValueMut) Raw() *cbg.Deferred {
	return v.value
}

// Load decodes the current value into out.
func (v *ValueMut) Load(out cbg.CBORUnmarshaler) error {
	return out.UnmarshalCBOR(bytes.NewReader(v.value.Raw))
}

// Set replaces the value. Setting an identical encoding is not a change.
func (v *ValueMut) Set(val cbg.CBORMarshaler) error {
	if val == nil {
		return fmt.Errorf("%w: nil", ErrInvalidValue)
	}
	buf := new(bytes.Buffer)
	if err := val.MarshalCBOR(buf); err != nil {
		return err
	}
	return v.SetRaw(&cbg.Deferred{Raw: buf.Bytes()})
}

// SetRaw replaces the value with an already encoded one.
func (v *ValueMut) SetRaw(d *cbg.Deferred) error {
	if err := validateValue(d); err != nil {
		return err
	}
	if bytes.Equal(d.Raw, v.value.Raw) {
		return nil
	}
	v.value = d
	v.changed = true
	return nil
}

// Changed reports whether the callback replaced the value with a different one.
func (v *ValueMut) Changed() bool {
	return v.changed
}

// ForEach calls cb for every stored value in ascending index order.
func (a *AMT) ForEach(ctx context.Context, cb func(i uint64, v *cbg.Deferred) error) error {
	return a.ForEachWhile(ctx, func(i uint64, v *cbg.Deferred) (bool, error) {
		if err := cb(i, v); err != nil {
			return false, err
		}
		return true, nil
	})
}

// ForEachWhile calls cb for every stored value in ascending index order until
// cb returns false or an error.
func (a *AMT) ForEachWhile(ctx context.Context, cb func(i uint64, v *cbg.Deferred) (bool, error)) error {
	_, err := a.node.forEachWhile(ctx, a.store, a.bitWidth, a.height, 0, 0, cb)
	return err
}

// ForEachWhileRanged visits values starting at index start, stopping after
// limit values (0 means no limit) or when cb returns false. It returns how
// many values were visited and, if the limit cut the walk short, the index of
// the next value.
func (a *AMT) ForEachWhileRanged(ctx context.Context, start, limit uint64, cb func(i uint64, v *cbg.Deferred) (bool, error)) (uint64, *uint64, error) {
	if start > MaxIndex {
		return 0, nil, fmt.Errorf("%w: %d", ErrOutOfRange, start)
	}
	if !a.inRange(start) {
		return 0, nil, nil
	}

	var traversed uint64
	var next *uint64
	_, err := a.node.forEachWhile(ctx, a.store, a.bitWidth, a.height, start, 0, func(i uint64, v *cbg.Deferred) (bool, error) {
		if limit > 0 && traversed == limit {
			n := i
			next = &n
			return false, nil
		}
		traversed++
		return cb(i, v)
	})
	if err != nil {
		return traversed, nil, err
	}
	return traversed, next, nil
}

// ForEachMut is ForEach with write access to each value. Only subtrees
// holding a changed value are rewritten on the next Flush.
func (a *AMT) ForEachMut(ctx context.Context, cb func(i uint64, v *ValueMut) error) error {
	return a.ForEachWhileMut(ctx, func(i uint64, v *ValueMut) (bool, error) {
		if err := cb(i, v); err != nil {
			return false, err
		}
		return true, nil
	})
}

// ForEachWhileMut is ForEachWhile with write access to each value.
func (a *AMT) ForEachWhileMut(ctx context.Context, cb func(i uint64, v *ValueMut) (bool, error)) error {
	if a.cfg.legacyMutIterate {
		return a.forEachWhileMutLegacy(ctx, cb)
	}

	_, changed, err := a.node.forEachWhileMut(ctx, a.store, a.bitWidth, a.height, 0, cb)
	if changed {
		a.invalidate()
	}
	return err
}

type bufferedWrite struct {
	index uint64
	value *cbg.Deferred
}

func (a *AMT) forEachWhileMutLegacy(ctx context.Context, cb func(i uint64, v *ValueMut) (bool, error)) error {
	var writes []bufferedWrite
	_, err := a.node.forEachWhile(ctx, a.store, a.bitWidth, a.height, 0, 0, func(i uint64, v *cbg.Deferred) (bool, error) {
		vm := &ValueMut{value: v}
		keepGoing, err := cb(i, vm)
		if err != nil {
			return false, err
		}
		if vm.changed {
			writes = append(writes, bufferedWrite{index: i, value: vm.value})
		}
		return keepGoing, nil
	})
	if err != nil {
		return err
	}

	for _, w := range writes {
		if err := a.SetRaw(ctx, w.index, w.value); err != nil {
			return fmt.Errorf("replaying buffered write at index %d: %w", w.index, err)
		}
	}
	if len(writes) > 0 {
		a.cfg.logger.Debug("replayed buffered AMT writes", "count", len(writes))
	}
	return nil
}

// forEachWhile walks values with index >= start in ascending order. offset is
// the absolute index of this node's first slot. Returns false once cb stopped the walk.
func (n *node) forEachWhile(ctx context.Context, bs cbor.IpldStore, bitWidth uint, height int, start, offset uint64, cb func(uint64, *cbg.Deferred) (bool, error)) (bool, error) {
	if height == 0 {
		if !n.isLeaf() {
			return false, fmt.Errorf("%w: expected leaf at height 0", ErrInvalidTree)
		}
		for i, v := range n.values {
			if v == nil {
				continue
			}
			ix := offset + uint64(i)
			if ix < start {
				continue
			}
			keepGoing, err := cb(ix, v)
			if err != nil {
				return false, err
			}
			if !keepGoing {
				return false, nil
			}
		}
		return true, nil
	}
	if n.links == nil {
		return false, fmt.Errorf("%w: expected link node at height %d", ErrInvalidTree, height)
	}

	nfh := nodesForHeight(bitWidth, height)
	for i, l := range n.links {
		if l == nil {
			continue
		}
		offs := offset + uint64(i)*nfh
		// whole subtree sits below start
		if start > offs && start-offs >= nfh {
			continue
		}
		sub, err := l.load(ctx, bs, bitWidth, height-1)
		if err != nil {
			return false, err
		}
		keepGoing, err := sub.forEachWhile(ctx, bs, bitWidth, height-1, start, offs, cb)
		if err != nil || !keepGoing {
			return false, err
		}
	}
	return true, nil
}

// forEachWhileMut is forEachWhile for mutating callbacks. changed reports
// whether any value in this subtree was replaced; only links leading to such
// values are marked dirty.
func (n *node) forEachWhileMut(ctx context.Context, bs cbor.IpldStore, bitWidth uint, height int, offset uint64, cb func(uint64, *ValueMut) (bool, error)) (keepGoing bool, changed bool, err error) {
	if height == 0 {
		if !n.isLeaf() {
			return false, false, fmt.Errorf("%w: expected leaf at height 0", ErrInvalidTree)
		}
		for i, v := range n.values {
			if v == nil {
				continue
			}
			vm := &ValueMut{value: v}
			keepGoing, err := cb(offset+uint64(i), vm)
			if vm.changed {
				n.values[i] = vm.value
				changed = true
			}
			if err != nil {
				return false, changed, err
			}
			if !keepGoing {
				return false, changed, nil
			}
		}
		return true, changed, nil
	}
	if n.links == nil {
		return false, false, fmt.Errorf("%w: expected link node at height %d", ErrInvalidTree, height)
	}

	nfh := nodesForHeight(bitWidth, height)
	for i, l := range n.links {
		if l == nil {
			continue
		}
		sub, err := l.load(ctx, bs, bitWidth, height-1)
		if err != nil {
			return false, changed, err
		}
		keepGoing, subChanged, err := sub.forEachWhileMut(ctx, bs, bitWidth, height-1, offset+uint64(i)*nfh, cb)
		if subChanged {
			l.markDirty()
			changed = true
		}
		if err != nil {
			return false, changed, err
		}
		if !keepGoing {
			return false, changed, nil
		}
	}
	return true, changed, nil
}
