package amt

import (
	"bytes"
	"context"
	"fmt"
	"math/bits"

	"github.com/chainstate/amt/amt/internal"

	cid "github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	ipld "github.com/ipfs/go-ipld-format"
	cbg "github.com/whyrusleeping/cbor-gen"
)

// node is the expanded, in-memory form of a trie node. Exactly one of links
// and values is non-nil, and it always has one slot per position in the node
// (1 << bitWidth), with nil marking an empty slot.
//
// Height is not stored: a node at height 0 is a leaf, anything above holds links.
type node struct {
	links  []*link
	values []*cbg.Deferred
}

// link points at a child node. A dirty link owns its child in cached and has
// no CID yet. A clean link has a CID; cached is then an optional copy of the
// content behind that CID, loaded on first use.
type link struct {
	cid    cid.Cid
	cached *node
	dirty  bool
}

func newLeaf(bitWidth uint) *node {
	return &node{values: make([]*cbg.Deferred, 1<<bitWidth)}
}

func newLinkNode(bitWidth uint) *node {
	return &node{links: make([]*link, 1<<bitWidth)}
}

// newNodeForHeight allocates an empty node suitable for the given height.
func newNodeForHeight(bitWidth uint, height int) *node {
	if height == 0 {
		return newLeaf(bitWidth)
	}
	return newLinkNode(bitWidth)
}

func (n *node) isLeaf() bool {
	return n.values != nil
}

func (n *node) empty() bool {
	for _, l := range n.links {
		if l != nil {
			return false
		}
	}
	for _, v := range n.values {
		if v != nil {
			return false
		}
	}
	return true
}

// canCollapse reports whether this is a link node whose only child sits in slot 0.
// Only that child can be promoted without changing which indices it covers.
func (n *node) canCollapse() bool {
	if n.links == nil || n.links[0] == nil {
		return false
	}
	for _, l := range n.links[1:] {
		if l != nil {
			return false
		}
	}
	return true
}

func bmapBytes(bitWidth uint) int {
	if bitWidth <= 3 {
		return 1
	}
	return 1 << (bitWidth - 3)
}

// nodesForHeight returns how many indices a single slot covers at the given
// height, saturating at MaxUint64 instead of overflowing.
func nodesForHeight(bitWidth uint, height int) uint64 {
	heightLogTwo := uint64(bitWidth) * uint64(height)
	if heightLogTwo >= 64 {
		return ^uint64(0)
	}
	return 1 << heightLogTwo
}

// expand converts a collapsed wire node into a fixed-width node. It validates
// that the node matches what is expected at this height.
func expandNode(nd *internal.Node, bitWidth uint, height int, allowEmpty bool) (*node, error) {
	if len(nd.Links) > 0 && len(nd.Values) > 0 {
		return nil, fmt.Errorf("%w: node has both links and values", ErrMalformedNode)
	}
	if len(nd.Bmap) != bmapBytes(bitWidth) {
		return nil, fmt.Errorf("%w: expected bitfield of length %d, found %d", ErrMalformedNode, bmapBytes(bitWidth), len(nd.Bmap))
	}
	set := 0
	for _, b := range nd.Bmap {
		set += bits.OnesCount8(b)
	}
	width := 1 << bitWidth
	if width < 8 && nd.Bmap[0]>>uint(width) != 0 {
		return nil, fmt.Errorf("%w: bitfield has bits set past the node width", ErrMalformedNode)
	}

	switch {
	case len(nd.Links) > 0:
		if height == 0 {
			return nil, fmt.Errorf("%w: expected values at height 0, found links", ErrMalformedNode)
		}
		if set != len(nd.Links) {
			return nil, fmt.Errorf("%w: bitfield has %d set bits but node has %d links", ErrMalformedNode, set, len(nd.Links))
		}
		nfh := nodesForHeight(bitWidth, height)
		n := newLinkNode(bitWidth)
		j := 0
		for i := 0; i < width; i++ {
			if nd.Bmap[i/8]&(1<<(i%8)) == 0 {
				continue
			}
			// slots starting past MaxIndex only occur in a root at maximum height
			if hi, lo := bits.Mul64(uint64(i), nfh); hi != 0 || lo > MaxIndex {
				return nil, fmt.Errorf("%w: link in slot %d at height %d starts past the maximum index", ErrMalformedNode, i, height)
			}
			n.links[i] = &link{cid: nd.Links[j]}
			j++
		}
		return n, nil
	case len(nd.Values) > 0:
		if height != 0 {
			return nil, fmt.Errorf("%w: expected links at height %d, found values", ErrMalformedNode, height)
		}
		if set != len(nd.Values) {
			return nil, fmt.Errorf("%w: bitfield has %d set bits but node has %d values", ErrMalformedNode, set, len(nd.Values))
		}
		n := newLeaf(bitWidth)
		j := 0
		for i := 0; i < width; i++ {
			if nd.Bmap[i/8]&(1<<(i%8)) == 0 {
				continue
			}
			n.values[i] = nd.Values[j]
			j++
		}
		return n, nil
	default:
		if set != 0 {
			return nil, fmt.Errorf("%w: bitfield has %d set bits but node is empty", ErrMalformedNode, set)
		}
		if !allowEmpty {
			return nil, fmt.Errorf("%w: unexpected empty node", ErrMalformedNode)
		}
		return newNodeForHeight(bitWidth, height), nil
	}
}

// collapse produces the wire form of the node. All links must already be flushed.
func (n *node) collapse(bitWidth uint) (*internal.Node, error) {
	nd := &internal.Node{
		Bmap:   make([]byte, bmapBytes(bitWidth)),
		Links:  []cid.Cid{},
		Values: []*cbg.Deferred{},
	}
	for i, l := range n.links {
		if l == nil {
			continue
		}
		if l.dirty {
			return nil, ErrPendingLink
		}
		nd.Bmap[i/8] |= 1 << (i % 8)
		nd.Links = append(nd.Links, l.cid)
	}
	for i, v := range n.values {
		if v == nil {
			continue
		}
		nd.Bmap[i/8] |= 1 << (i % 8)
		nd.Values = append(nd.Values, v)
	}
	return nd, nil
}

// load resolves the child behind the link, fetching and caching it if needed.
// height is the height of the child.
func (l *link) load(ctx context.Context, bs cbor.IpldStore, bitWidth uint, height int) (*node, error) {
	if l.cached != nil {
		if !l.dirty {
			nodeCacheHits.Inc()
		}
		return l.cached, nil
	}
	if l.dirty {
		return nil, fmt.Errorf("%w: pending link without a node", ErrInvalidTree)
	}

	var nd internal.Node
	if err := bs.Get(ctx, l.cid, &nd); err != nil {
		if ipld.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrCidNotFound, l.cid)
		}
		return nil, fmt.Errorf("loading AMT node %s: %w", l.cid, err)
	}
	nodeLoads.Inc()

	sub, err := expandNode(&nd, bitWidth, height, false)
	if err != nil {
		return nil, fmt.Errorf("expanding AMT node %s: %w", l.cid, err)
	}
	l.cached = sub
	return sub, nil
}

// markDirty turns a clean link into a pending one that owns its cached node.
func (l *link) markDirty() {
	l.dirty = true
	l.cid = cid.Undef
}

func (n *node) get(ctx context.Context, bs cbor.IpldStore, bitWidth uint, height int, i uint64) (*cbg.Deferred, error) {
	if height == 0 {
		if !n.isLeaf() {
			return nil, fmt.Errorf("%w: expected leaf at height 0", ErrInvalidTree)
		}
		return n.values[i], nil
	}
	if n.links == nil {
		return nil, fmt.Errorf("%w: expected link node at height %d", ErrInvalidTree, height)
	}

	nfh := nodesForHeight(bitWidth, height)
	l := n.links[i/nfh]
	if l == nil {
		return nil, nil
	}
	sub, err := l.load(ctx, bs, bitWidth, height-1)
	if err != nil {
		return nil, err
	}
	return sub.get(ctx, bs, bitWidth, height-1, i%nfh)
}

// set writes val at index i and returns the previous value, if any.
func (n *node) set(ctx context.Context, bs cbor.IpldStore, bitWidth uint, height int, i uint64, val *cbg.Deferred) (*cbg.Deferred, error) {
	if height == 0 {
		if !n.isLeaf() {
			return nil, fmt.Errorf("%w: expected leaf at height 0", ErrInvalidTree)
		}
		prev := n.values[i]
		n.values[i] = val
		return prev, nil
	}
	if n.links == nil {
		return nil, fmt.Errorf("%w: expected link node at height %d", ErrInvalidTree, height)
	}

	nfh := nodesForHeight(bitWidth, height)
	idx := i / nfh
	l := n.links[idx]
	if l == nil {
		l = &link{
			dirty:  true,
			cached: newNodeForHeight(bitWidth, height-1),
		}
		n.links[idx] = l
	}

	sub, err := l.load(ctx, bs, bitWidth, height-1)
	if err != nil {
		return nil, err
	}
	prev, err := sub.set(ctx, bs, bitWidth, height-1, i%nfh, val)
	if err != nil {
		return nil, err
	}
	l.markDirty()
	return prev, nil
}

// delete clears index i and returns the removed value. Children that become
// empty are unlinked.
func (n *node) delete(ctx context.Context, bs cbor.IpldStore, bitWidth uint, height int, i uint64) (*cbg.Deferred, error) {
	if height == 0 {
		if !n.isLeaf() {
			return nil, fmt.Errorf("%w: expected leaf at height 0", ErrInvalidTree)
		}
		prev := n.values[i]
		n.values[i] = nil
		return prev, nil
	}
	if n.links == nil {
		return nil, fmt.Errorf("%w: expected link node at height %d", ErrInvalidTree, height)
	}

	nfh := nodesForHeight(bitWidth, height)
	idx := i / nfh
	l := n.links[idx]
	if l == nil {
		return nil, nil
	}
	sub, err := l.load(ctx, bs, bitWidth, height-1)
	if err != nil {
		return nil, err
	}
	deleted, err := sub.delete(ctx, bs, bitWidth, height-1, i%nfh)
	if err != nil {
		return nil, err
	}
	if deleted == nil {
		return nil, nil
	}

	if sub.empty() {
		n.links[idx] = nil
	} else {
		l.markDirty()
	}
	return deleted, nil
}

// flush writes every pending child, bottom-up, and turns the links into clean
// ones that keep the flushed node as their cache. Returns the number of nodes written.
func (n *node) flush(ctx context.Context, bs cbor.IpldStore, bitWidth uint, height int) (int, error) {
	if height == 0 {
		return 0, nil
	}

	written := 0
	for _, l := range n.links {
		if l == nil || !l.dirty {
			continue
		}
		if l.cached == nil {
			return written, fmt.Errorf("%w: pending link without a node", ErrInvalidTree)
		}

		w, err := l.cached.flush(ctx, bs, bitWidth, height-1)
		written += w
		if err != nil {
			return written, err
		}

		nd, err := l.cached.collapse(bitWidth)
		if err != nil {
			return written, err
		}
		c, err := bs.Put(ctx, nd)
		if err != nil {
			return written, fmt.Errorf("writing AMT node: %w", err)
		}
		l.cid = c
		l.dirty = false
		written++
		nodesFlushed.Inc()
	}
	return written, nil
}

// equal compares two nodes as they are held in memory. Links compare by CID
// when both are clean and by content when both are pending; a clean link
// never equals a pending one.
func (n *node) equal(o *node) bool {
	if n.isLeaf() != o.isLeaf() {
		return false
	}
	if len(n.values) != len(o.values) || len(n.links) != len(o.links) {
		return false
	}
	for i, v := range n.values {
		ov := o.values[i]
		if (v == nil) != (ov == nil) {
			return false
		}
		if v != nil && !bytes.Equal(v.Raw, ov.Raw) {
			return false
		}
	}
	for i, l := range n.links {
		ol := o.links[i]
		if (l == nil) != (ol == nil) {
			return false
		}
		if l == nil {
			continue
		}
		if l.dirty != ol.dirty {
			return false
		}
		if l.dirty {
			if !l.cached.equal(ol.cached) {
				return false
			}
		} else if !l.cid.Equals(ol.cid) {
			return false
		}
	}
	return true
}
