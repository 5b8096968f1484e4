package amt

import (
	"context"
	"testing"

	"github.com/chainstate/amt/amt/internal"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	cbg "github.com/whyrusleeping/cbor-gen"
)

func TestRootEncoding(t *testing.T) {
	ctx := context.TODO()

	tests := []struct {
		name     string
		opts     []Option
		values   map[uint64]uint64
		expected []byte
	}{
		{
			name:     "empty",
			expected: []byte{0x84, 0x03, 0x00, 0x00, 0x83, 0x41, 0x00, 0x80, 0x80},
		},
		{
			name:     "empty legacy",
			opts:     []Option{UseVersion(V0)},
			expected: []byte{0x83, 0x00, 0x00, 0x83, 0x41, 0x00, 0x80, 0x80},
		},
		{
			name:     "sparse leaf",
			values:   map[uint64]uint64{0: 1, 2: 2},
			expected: []byte{0x84, 0x03, 0x00, 0x02, 0x83, 0x41, 0x05, 0x80, 0x82, 0x01, 0x02},
		},
		{
			name:     "wide bitfield",
			opts:     []Option{UseTreeBitWidth(4)},
			values:   map[uint64]uint64{9: 7},
			expected: []byte{0x84, 0x04, 0x00, 0x01, 0x83, 0x42, 0x00, 0x02, 0x80, 0x81, 0x07},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)
			bs, cst := newTestStore()

			a, err := NewAMT(cst, tc.opts...)
			assert.NoError(err)
			for i, v := range tc.values {
				assert.NoError(a.Set(ctx, i, tv(v)))
			}
			c, err := a.Flush(ctx)
			assert.NoError(err)

			assert.Equal(uint64(cid.DagCBOR), c.Prefix().Codec)
			assert.Equal(uint64(mh.BLAKE2B_MIN+31), c.Prefix().MhType)

			blk, err := bs.Get(ctx, c)
			assert.NoError(err)
			assert.Equal(tc.expected, blk.RawData())
		})
	}
}

func TestExpandNodeValidation(t *testing.T) {
	someCid := func() cid.Cid {
		h, _ := mh.Sum([]byte("child"), mh.BLAKE2B_MIN+31, -1)
		return cid.NewCidV1(cid.DagCBOR, h)
	}()
	val := &cbg.Deferred{Raw: []byte{0x01}}

	tests := []struct {
		name       string
		node       internal.Node
		bitWidth   uint
		height     int
		allowEmpty bool
		valid      bool
	}{
		{
			name:     "leaf",
			node:     internal.Node{Bmap: []byte{0x03}, Values: []*cbg.Deferred{val, val}},
			bitWidth: 3,
			valid:    true,
		},
		{
			name:     "links",
			node:     internal.Node{Bmap: []byte{0x80}, Links: []cid.Cid{someCid}},
			bitWidth: 3,
			height:   1,
			valid:    true,
		},
		{
			name:     "links and values",
			node:     internal.Node{Bmap: []byte{0x03}, Links: []cid.Cid{someCid}, Values: []*cbg.Deferred{val}},
			bitWidth: 3,
			height:   1,
		},
		{
			name:     "short bitfield",
			node:     internal.Node{Bmap: []byte{0x01}, Values: []*cbg.Deferred{val}},
			bitWidth: 4,
		},
		{
			name:     "long bitfield",
			node:     internal.Node{Bmap: []byte{0x01, 0x00}, Values: []*cbg.Deferred{val}},
			bitWidth: 3,
		},
		{
			name:     "bits past width",
			node:     internal.Node{Bmap: []byte{0x05}, Values: []*cbg.Deferred{val, val}},
			bitWidth: 1,
		},
		{
			name:     "too few values",
			node:     internal.Node{Bmap: []byte{0x07}, Values: []*cbg.Deferred{val, val}},
			bitWidth: 3,
		},
		{
			name:     "too many links",
			node:     internal.Node{Bmap: []byte{0x01}, Links: []cid.Cid{someCid, someCid}},
			bitWidth: 3,
			height:   1,
		},
		{
			name:     "values above leaves",
			node:     internal.Node{Bmap: []byte{0x01}, Values: []*cbg.Deferred{val}},
			bitWidth: 3,
			height:   2,
		},
		{
			name:     "last reachable slot at maximum height",
			node:     internal.Node{Bmap: []byte{0x02}, Links: []cid.Cid{someCid}},
			bitWidth: 3,
			height:   21,
			valid:    true,
		},
		{
			name:     "slot past maximum index",
			node:     internal.Node{Bmap: []byte{0x06}, Links: []cid.Cid{someCid, someCid}},
			bitWidth: 3,
			height:   21,
		},
		{
			name:     "slot past maximum index at wide bit width",
			node:     internal.Node{Bmap: []byte{0x00, 0x00, 0x01, 0x00}, Links: []cid.Cid{someCid}},
			bitWidth: 5,
			height:   12,
		},
		{
			name:     "links in leaf",
			node:     internal.Node{Bmap: []byte{0x01}, Links: []cid.Cid{someCid}},
			bitWidth: 3,
		},
		{
			name:     "empty child",
			node:     internal.Node{Bmap: []byte{0x00}},
			bitWidth: 3,
		},
		{
			name:       "empty root",
			node:       internal.Node{Bmap: []byte{0x00}},
			bitWidth:   3,
			allowEmpty: true,
			valid:      true,
		},
		{
			name:       "empty root with bits",
			node:       internal.Node{Bmap: []byte{0x01}},
			bitWidth:   3,
			allowEmpty: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n, err := expandNode(&tc.node, tc.bitWidth, tc.height, tc.allowEmpty)
			if !tc.valid {
				assert.ErrorIs(t, err, ErrMalformedNode)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.height == 0, n.isLeaf())

			back, err := n.collapse(tc.bitWidth)
			assert.NoError(t, err)
			assert.Equal(t, tc.node.Bmap, back.Bmap)
		})
	}
}

func TestCollapsePendingLink(t *testing.T) {
	n := newLinkNode(3)
	n.links[1] = &link{dirty: true, cached: newLeaf(3)}
	_, err := n.collapse(3)
	assert.ErrorIs(t, err, ErrPendingLink)
}

func TestNodesForHeightSaturates(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint64(1), nodesForHeight(3, 0))
	assert.Equal(uint64(512), nodesForHeight(3, 3))
	assert.Equal(uint64(1)<<63, nodesForHeight(3, 21))
	assert.Equal(^uint64(0), nodesForHeight(3, 22))
	assert.Equal(^uint64(0), nodesForHeight(18, 4))
	assert.Equal(1, bmapBytes(1))
	assert.Equal(1, bmapBytes(3))
	assert.Equal(2, bmapBytes(4))
	assert.Equal(32768, bmapBytes(18))
}
