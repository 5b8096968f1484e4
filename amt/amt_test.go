package amt

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"testing"

	"github.com/chainstate/amt/amt/internal"
	"github.com/chainstate/amt/util"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	cbor "github.com/ipfs/go-ipld-cbor"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cbg "github.com/whyrusleeping/cbor-gen"
)

type testInt uint64

func (v *testInt) MarshalCBOR(w io.Writer) error {
	return cbg.NewCborWriter(w).WriteMajorTypeHeader(cbg.MajUnsignedInt, uint64(*v))
}

func (v *testInt) UnmarshalCBOR(r io.Reader) error {
	maj, extra, err := cbg.NewCborReader(r).ReadHeader()
	if err != nil {
		return err
	}
	if maj != cbg.MajUnsignedInt {
		return fmt.Errorf("expected unsigned int, got major type %d", maj)
	}
	*v = testInt(extra)
	return nil
}

func tv(n uint64) *testInt {
	v := testInt(n)
	return &v
}

func newTestStore() (*util.MeteredBlockstore, cbor.IpldStore) {
	bs := util.NewMeteredBlockstore("test", blockstore.NewBlockstore(datastore.NewMapDatastore()))
	return bs, util.CborStore(bs)
}

func assertGet(t *testing.T, a *AMT, i uint64, expected uint64) {
	t.Helper()
	var out testInt
	found, err := a.Get(context.TODO(), i, &out)
	require.NoError(t, err)
	require.True(t, found, "expected value at index %d", i)
	assert.Equal(t, testInt(expected), out, "wrong value at index %d", i)
}

func assertMissing(t *testing.T, a *AMT, i uint64) {
	t.Helper()
	found, err := a.Get(context.TODO(), i, nil)
	require.NoError(t, err)
	assert.False(t, found, "expected no value at index %d", i)
}

func TestBasicSetGet(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	a, err := NewAMT(cst)
	assert.NoError(err)

	assert.NoError(a.Set(ctx, 2, tv(100)))
	assert.NoError(a.Set(ctx, 1, tv(200)))
	assert.Equal(uint64(2), a.Count())

	deleted, err := a.Delete(ctx, 2)
	assert.NoError(err)
	assert.True(deleted)

	assert.Equal(uint64(1), a.Count())
	assert.Equal(0, a.Height())
	assertGet(t, a, 1, 200)
	assertMissing(t, a, 2)
}

func TestOverwriteKeepsCount(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	a, err := NewAMT(cst)
	assert.NoError(err)

	assert.NoError(a.Set(ctx, 7, tv(1)))
	assert.NoError(a.Set(ctx, 7, tv(2)))
	assert.Equal(uint64(1), a.Count())
	assertGet(t, a, 7, 2)
}

func TestGrowAndCollapse(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	a, err := NewAMT(cst)
	assert.NoError(err)

	assert.NoError(a.Set(ctx, 0, tv(1)))
	assert.NoError(a.Set(ctx, 100, tv(2)))
	assert.Equal(2, a.Height())

	deleted, err := a.Delete(ctx, 100)
	assert.NoError(err)
	assert.True(deleted)
	assert.Equal(0, a.Height())
	assert.Equal(uint64(1), a.Count())
	assertGet(t, a, 0, 1)
}

func TestMultiLevelCollapse(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	a, err := NewAMT(cst)
	assert.NoError(err)

	assert.NoError(a.Set(ctx, 3, tv(1)))
	assert.NoError(a.Set(ctx, 1000, tv(2)))
	assert.Equal(3, a.Height())

	// collapsing across committed nodes has to load them back from the store
	c, err := a.Flush(ctx)
	assert.NoError(err)
	a, err = LoadAMT(ctx, cst, c)
	assert.NoError(err)

	deleted, err := a.Delete(ctx, 1000)
	assert.NoError(err)
	assert.True(deleted)
	assert.Equal(0, a.Height())
	assertGet(t, a, 3, 1)

	deleted, err = a.Delete(ctx, 3)
	assert.NoError(err)
	assert.True(deleted)
	assert.Equal(0, a.Height())
	assert.Equal(uint64(0), a.Count())

	empty, err := NewAMT(cst)
	assert.NoError(err)
	assert.True(a.Equal(empty))
}

func TestCollapseStopsAtMinimalHeight(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	a, err := NewAMT(cst)
	assert.NoError(err)

	assert.NoError(a.Set(ctx, 0, tv(1)))
	assert.NoError(a.Set(ctx, 9, tv(2)))
	assert.NoError(a.Set(ctx, 4000, tv(3)))
	assert.Equal(3, a.Height())

	_, err = a.Delete(ctx, 4000)
	assert.NoError(err)
	// index 9 still needs a second level
	assert.Equal(1, a.Height())
	assertGet(t, a, 0, 1)
	assertGet(t, a, 9, 2)
}

func TestDeleteMissing(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	a, err := NewAMT(cst)
	assert.NoError(err)
	assert.NoError(a.Set(ctx, 5, tv(5)))

	deleted, err := a.Delete(ctx, 6)
	assert.NoError(err)
	assert.False(deleted)

	// outside the addressable range
	deleted, err = a.Delete(ctx, 1<<40)
	assert.NoError(err)
	assert.False(deleted)
	assert.Equal(uint64(1), a.Count())
}

func TestBatchDeleteStrict(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	a, err := NewAMT(cst)
	assert.NoError(err)
	assert.NoError(a.Set(ctx, 5, tv(5)))
	assert.NoError(a.Set(ctx, 9, tv(9)))

	modified, err := a.BatchDelete(ctx, []uint64{9, 7, 5}, true)
	assert.ErrorIs(err, ErrIndexNotFound)
	assert.True(modified)

	// 5 is processed before 7 and is not restored
	assertMissing(t, a, 5)
	assertGet(t, a, 9, 9)
	assert.Equal(uint64(1), a.Count())
}

func TestBatchDeleteLenient(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	a, err := NewAMT(cst)
	assert.NoError(err)
	for _, i := range []uint64{5, 9, 70} {
		assert.NoError(a.Set(ctx, i, tv(i)))
	}

	indices := []uint64{70, 7, 5}
	modified, err := a.BatchDelete(ctx, indices, false)
	assert.NoError(err)
	assert.True(modified)
	assert.Equal([]uint64{70, 7, 5}, indices)
	assert.Equal(uint64(1), a.Count())
	assert.Equal(1, a.Height())
	assertGet(t, a, 9, 9)

	modified, err = a.BatchDelete(ctx, []uint64{1, 2}, false)
	assert.NoError(err)
	assert.False(modified)
}

func TestBatchSetAndFromArray(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	var vals []cbg.CBORMarshaler
	for i := uint64(0); i < 100; i++ {
		vals = append(vals, tv(i*3))
	}

	c, err := FromArray(ctx, cst, vals)
	assert.NoError(err)

	a, err := LoadAMT(ctx, cst, c)
	assert.NoError(err)
	assert.Equal(uint64(100), a.Count())
	for i := uint64(0); i < 100; i++ {
		assertGet(t, a, i, i*3)
	}

	b, err := NewAMT(cst)
	assert.NoError(err)
	assert.NoError(b.BatchSet(ctx, vals))
	bc, err := b.Flush(ctx)
	assert.NoError(err)
	assert.Equal(c, bc)
}

func TestOutOfRange(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	a, err := NewAMT(cst)
	assert.NoError(err)

	assert.ErrorIs(a.Set(ctx, MaxIndex+1, tv(1)), ErrOutOfRange)
	_, err = a.Get(ctx, MaxIndex+1, nil)
	assert.ErrorIs(err, ErrOutOfRange)
	_, err = a.Delete(ctx, MaxIndex+1)
	assert.ErrorIs(err, ErrOutOfRange)
	assert.Equal(uint64(0), a.Count())
}

func TestMaxIndex(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	a, err := NewAMT(cst)
	assert.NoError(err)

	assert.NoError(a.Set(ctx, MaxIndex, tv(1)))
	assert.NoError(a.Set(ctx, 0, tv(2)))
	assert.Equal(MaxHeight(defaultBitWidth), a.Height())

	c, err := a.Flush(ctx)
	assert.NoError(err)

	a, err = LoadAMT(ctx, cst, c)
	assert.NoError(err)
	assertGet(t, a, MaxIndex, 1)
	assertGet(t, a, 0, 2)

	deleted, err := a.Delete(ctx, MaxIndex)
	assert.NoError(err)
	assert.True(deleted)
	assert.Equal(0, a.Height())
}

func TestMaxHeight(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(63, MaxHeight(1))
	assert.Equal(31, MaxHeight(2))
	assert.Equal(21, MaxHeight(3))
	assert.Equal(15, MaxHeight(4))
	assert.Equal(7, MaxHeight(8))
	assert.Equal(3, MaxHeight(18))
}

func TestLoadRejectsExcessiveHeight(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	leaf := &internal.Node{
		Bmap:   []byte{0x01},
		Links:  []cid.Cid{},
		Values: []*cbg.Deferred{{Raw: []byte{0x01}}},
	}
	child, err := cst.Put(ctx, leaf)
	assert.NoError(err)

	root := &internal.Root{
		BitWidth: 3,
		Height:   uint64(MaxHeight(3) + 1),
		Count:    1,
		Node: internal.Node{
			Bmap:   []byte{0x01},
			Links:  []cid.Cid{child},
			Values: []*cbg.Deferred{},
		},
	}
	c, err := cst.Put(ctx, root)
	assert.NoError(err)

	_, err = LoadAMT(ctx, cst, c)
	assert.ErrorIs(err, ErrMaxHeight)
}

func TestLoadMissingRoot(t *testing.T) {
	ctx := context.TODO()
	_, cst := newTestStore()

	h, err := mh.Sum([]byte("not stored"), mh.BLAKE2B_MIN+31, -1)
	require.NoError(t, err)
	c := cid.NewCidV1(cid.DagCBOR, h)

	_, err = LoadAMT(ctx, cst, c)
	assert.ErrorIs(t, err, ErrCidNotFound)
}

func TestMissingChildNode(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	bs, cst := newTestStore()

	a, err := NewAMT(cst)
	assert.NoError(err)
	assert.NoError(a.Set(ctx, 0, tv(1)))
	assert.NoError(a.Set(ctx, 100, tv(2)))
	c, err := a.Flush(ctx)
	assert.NoError(err)

	// copy only the root block into an otherwise empty store
	rootBlk, err := bs.Get(ctx, c)
	assert.NoError(err)
	partial := blockstore.NewBlockstore(datastore.NewMapDatastore())
	assert.NoError(partial.Put(ctx, rootBlk))

	b, err := LoadAMT(ctx, util.CborStore(partial), c)
	assert.NoError(err)
	assert.Equal(uint64(2), b.Count())

	_, err = b.Get(ctx, 100, nil)
	assert.ErrorIs(err, ErrCidNotFound)
}

func TestFlushIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	bs, cst := newTestStore()

	a, err := NewAMT(cst)
	assert.NoError(err)
	for i := uint64(0); i < 200; i += 3 {
		assert.NoError(a.Set(ctx, i, tv(i)))
	}

	c1, err := a.Flush(ctx)
	assert.NoError(err)
	puts := bs.Stats().Puts
	assert.True(puts > 1)

	c2, err := a.Flush(ctx)
	assert.NoError(err)
	assert.Equal(c1, c2)
	assert.Equal(puts, bs.Stats().Puts)

	// a freshly loaded trie is already flushed too
	b, err := LoadAMT(ctx, cst, c1)
	assert.NoError(err)
	c3, err := b.Flush(ctx)
	assert.NoError(err)
	assert.Equal(c1, c3)
	assert.Equal(puts, bs.Stats().Puts)

	// overwriting with the same value still yields the same root
	assert.NoError(b.Set(ctx, 3, tv(3)))
	c4, err := b.Flush(ctx)
	assert.NoError(err)
	assert.Equal(c1, c4)
}

func TestFlushOnlyRewritesTouchedPath(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	bs, cst := newTestStore()

	a, err := NewAMT(cst)
	assert.NoError(err)
	for i := uint64(0); i < 512; i++ {
		assert.NoError(a.Set(ctx, i, tv(i)))
	}
	c, err := a.Flush(ctx)
	assert.NoError(err)
	assert.Equal(2, a.Height())

	b, err := LoadAMT(ctx, cst, c)
	assert.NoError(err)
	before := bs.Stats().Puts
	assert.NoError(b.Set(ctx, 17, tv(0)))
	_, err = b.Flush(ctx)
	assert.NoError(err)
	// one leaf, one intermediate node and the root
	assert.Equal(int64(3), bs.Stats().Puts-before)
}

func TestRoundTripRandom(t *testing.T) {
	ctx := context.TODO()
	r := rand.New(rand.NewSource(42))

	for _, bw := range []uint{1, 2, 3, 4, 5, 8} {
		t.Run(fmt.Sprintf("bitwidth-%d", bw), func(t *testing.T) {
			assert := assert.New(t)
			_, cst := newTestStore()

			a, err := NewAMT(cst, UseTreeBitWidth(bw))
			assert.NoError(err)

			expected := make(map[uint64]uint64)
			for i := 0; i < 300; i++ {
				idx := uint64(r.Int63n(100000))
				val := r.Uint64()
				expected[idx] = val
				assert.NoError(a.Set(ctx, idx, tv(val)))
			}
			for idx := range expected {
				if r.Intn(3) == 0 {
					deleted, err := a.Delete(ctx, idx)
					assert.NoError(err)
					assert.True(deleted)
					delete(expected, idx)
				}
			}
			assert.Equal(uint64(len(expected)), a.Count())

			c, err := a.Flush(ctx)
			assert.NoError(err)

			b, err := LoadAMT(ctx, cst, c, UseTreeBitWidth(bw))
			assert.NoError(err)
			assert.Equal(a.Count(), b.Count())
			assert.Equal(a.Height(), b.Height())
			assert.Equal(bw, b.BitWidth())
			for idx, val := range expected {
				assertGet(t, b, idx, val)
			}

			var keys []uint64
			for k := range expected {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

			var visited []uint64
			assert.NoError(b.ForEach(ctx, func(i uint64, v *cbg.Deferred) error {
				visited = append(visited, i)
				return nil
			}))
			assert.Equal(keys, visited)
		})
	}
}

func TestMaxBitWidth(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates full-width nodes")
	}
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	a, err := NewAMT(cst, UseTreeBitWidth(MaxBitWidth))
	assert.NoError(err)
	assert.NoError(a.Set(ctx, 1, tv(1)))
	assert.NoError(a.Set(ctx, 1<<20, tv(2)))
	assert.Equal(1, a.Height())

	c, err := a.Flush(ctx)
	assert.NoError(err)
	b, err := LoadAMT(ctx, cst, c)
	assert.NoError(err)
	assertGet(t, b, 1, 1)
	assertGet(t, b, 1<<20, 2)
}

func TestInvalidBitWidth(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	_, err := NewAMT(cst, UseTreeBitWidth(0))
	assert.ErrorIs(err, ErrInvalidBitWidth)
	_, err = NewAMT(cst, UseTreeBitWidth(MaxBitWidth+1))
	assert.ErrorIs(err, ErrInvalidBitWidth)
	_, err = NewAMT(cst, UseVersion(V0), UseTreeBitWidth(5))
	assert.ErrorIs(err, ErrInvalidBitWidth)

	a, err := NewAMT(cst, UseTreeBitWidth(5))
	assert.NoError(err)
	assert.NoError(a.Set(ctx, 1, tv(1)))
	c, err := a.Flush(ctx)
	assert.NoError(err)

	_, err = LoadAMT(ctx, cst, c, UseTreeBitWidth(4))
	assert.ErrorIs(err, ErrInvalidBitWidth)

	// without an explicit width, the stored one is used
	b, err := LoadAMT(ctx, cst, c)
	assert.NoError(err)
	assert.Equal(uint(5), b.BitWidth())
}

func TestLegacyVersion(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	legacy, err := NewAMT(cst, UseVersion(V0))
	assert.NoError(err)
	current, err := NewAMT(cst)
	assert.NoError(err)
	for i := uint64(0); i < 20; i++ {
		assert.NoError(legacy.Set(ctx, i*7, tv(i)))
		assert.NoError(current.Set(ctx, i*7, tv(i)))
	}

	lc, err := legacy.Flush(ctx)
	assert.NoError(err)
	cc, err := current.Flush(ctx)
	assert.NoError(err)
	assert.NotEqual(lc, cc)

	loaded, err := LoadAMT(ctx, cst, lc, UseVersion(V0))
	assert.NoError(err)
	assert.Equal(V0, loaded.Version())
	assert.Equal(uint64(20), loaded.Count())
	assertGet(t, loaded, 133, 19)

	// the layouts are not interchangeable
	_, err = LoadAMT(ctx, cst, lc)
	assert.Error(err)
	_, err = LoadAMT(ctx, cst, cc, UseVersion(V0))
	assert.Error(err)
}

func TestEqual(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	build := func() *AMT {
		a, err := NewAMT(cst)
		require.NoError(t, err)
		for i := uint64(0); i < 50; i += 5 {
			require.NoError(t, a.Set(ctx, i, tv(i)))
		}
		return a
	}

	a, b := build(), build()
	assert.True(a.Equal(b))

	assert.NoError(b.Set(ctx, 1, tv(1)))
	assert.False(a.Equal(b))
	_, err := b.Delete(ctx, 1)
	assert.NoError(err)
	assert.True(a.Equal(b))

	// a flushed subtree and an identical pending one differ in representation
	_, err = a.Flush(ctx)
	assert.NoError(err)
	assert.False(a.Equal(b))

	_, err = b.Flush(ctx)
	assert.NoError(err)
	assert.True(a.Equal(b))
}

var invalidValues = []struct {
	name string
	raw  []byte
}{
	{"empty", []byte{}},
	{"trailing bytes", []byte{0x01, 0x02}},
	{"truncated array", []byte{0x82, 0x01}},
	{"truncated bytes", []byte{0x43, 0x01}},
}

func TestSetRawRejectsInvalidCBOR(t *testing.T) {
	ctx := context.TODO()

	for _, tc := range invalidValues {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)
			a := buildTestAMT(t, []uint64{0})

			err := a.SetRaw(ctx, 1, &cbg.Deferred{Raw: tc.raw})
			assert.ErrorIs(err, ErrInvalidValue)
			assert.Equal(uint64(1), a.Count())
			assertMissing(t, a, 1)
		})
	}

	a := buildTestAMT(t, nil)
	assert.ErrorIs(t, a.SetRaw(ctx, 1, nil), ErrInvalidValue)
	assert.ErrorIs(t, a.Set(ctx, 1, nil), ErrInvalidValue)
}

func TestValueMutRejectsInvalidCBOR(t *testing.T) {
	ctx := context.TODO()

	for _, legacy := range []bool{false, true} {
		for _, tc := range invalidValues {
			t.Run(fmt.Sprintf("legacy=%v/%s", legacy, tc.name), func(t *testing.T) {
				assert := assert.New(t)
				var opts []Option
				if legacy {
					opts = append(opts, UseLegacyMutIteration())
				}
				a := buildTestAMT(t, []uint64{1, 2}, opts...)
				before, err := a.Flush(ctx)
				require.NoError(t, err)

				err = a.ForEachMut(ctx, func(i uint64, v *ValueMut) error {
					return v.SetRaw(&cbg.Deferred{Raw: tc.raw})
				})
				assert.ErrorIs(err, ErrInvalidValue)

				after, err := a.Flush(ctx)
				require.NoError(t, err)
				assert.Equal(before, after)

				b, err := LoadAMT(ctx, a.store, after, opts...)
				require.NoError(t, err)
				assertGet(t, b, 1, 1)
				assertGet(t, b, 2, 2)
			})
		}
	}

	a := buildTestAMT(t, []uint64{1})
	err := a.ForEachMut(ctx, func(i uint64, v *ValueMut) error {
		return v.Set(nil)
	})
	assert.ErrorIs(t, err, ErrInvalidValue)
	err = a.ForEachMut(ctx, func(i uint64, v *ValueMut) error {
		return v.SetRaw(nil)
	})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestDeleteWithUnderstatedCount(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	_, cst := newTestStore()

	root := &internal.Root{
		BitWidth: 3,
		Count:    0,
		Node: internal.Node{
			Bmap:   []byte{0x02},
			Links:  []cid.Cid{},
			Values: []*cbg.Deferred{{Raw: []byte{0x01}}},
		},
	}
	c, err := cst.Put(ctx, root)
	require.NoError(t, err)

	a, err := LoadAMT(ctx, cst, c)
	require.NoError(t, err)
	_, err = a.Delete(ctx, 1)
	assert.ErrorIs(err, ErrInvalidTree)
	assert.Equal(uint64(0), a.Count())
}
