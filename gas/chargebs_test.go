package gas

import (
	"context"
	"testing"

	"github.com/chainstate/amt/amt"
	"github.com/chainstate/amt/util"

	"github.com/ipfs/go-datastore"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cbg "github.com/whyrusleeping/cbor-gen"
)

func TestChargingBlockstoreChargesFlushAndLoad(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	base := blockstore.NewBlockstore(datastore.NewMapDatastore())

	tr := NewTracker(NewGas(1_000_000_000), Zero)
	tr.EnableTracing()
	cst := util.CborStore(NewChargingBlockstore(base, tr, nil))

	a, err := amt.NewAMT(cst)
	require.NoError(t, err)
	require.NoError(t, a.SetRaw(ctx, 0, &cbg.Deferred{Raw: []byte{0x01}}))
	require.NoError(t, a.SetRaw(ctx, 100, &cbg.Deferred{Raw: []byte{0x02}}))
	c, err := a.Flush(ctx)
	require.NoError(t, err)

	// two leaves, two link nodes and the root
	writes := tr.DrainTrace()
	assert.Len(writes, 5)
	for _, ch := range writes {
		assert.Equal("OnBlockLink", ch.Name)
	}

	b, err := amt.LoadAMT(ctx, cst, c)
	require.NoError(t, err)
	found, err := b.Get(ctx, 100, nil)
	require.NoError(t, err)
	assert.True(found)

	// the root, then the path down to index 100
	reads := tr.DrainTrace()
	assert.Len(reads, 3)
	for _, ch := range reads {
		assert.Equal("OnBlockOpen", ch.Name)
		assert.True(ch.Total() >= DefaultPriceList.BlockOpenBase)
	}
}

func TestChargingBlockstoreOutOfGas(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	base := blockstore.NewBlockstore(datastore.NewMapDatastore())

	tr := NewTracker(NewGas(1), Zero)
	cst := util.CborStore(NewChargingBlockstore(base, tr, nil))

	a, err := amt.NewAMT(cst)
	require.NoError(t, err)
	require.NoError(t, a.SetRaw(ctx, 0, &cbg.Deferred{Raw: []byte{0x01}}))

	_, err = a.Flush(ctx)
	assert.ErrorIs(err, ErrOutOfGas)

	keys, err := base.AllKeysChan(ctx)
	require.NoError(t, err)
	for range keys {
		t.Fatal("nothing should have been written")
	}
}
