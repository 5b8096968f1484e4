package util

import (
	"context"
	"sync/atomic"

	blockformat "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
)

// MeteredBlockstore counts the operations passed through to base. Counts are
// exported as prometheus metrics labelled with name, and kept locally so
// callers can compare snapshots.
type MeteredBlockstore struct {
	base blockstore.Blockstore
	name string

	gets atomic.Int64
	puts atomic.Int64
	has  atomic.Int64
}

func NewMeteredBlockstore(name string, base blockstore.Blockstore) *MeteredBlockstore {
	return &MeteredBlockstore{
		base: base,
		name: name,
	}
}

// BlockstoreStats is a snapshot of a MeteredBlockstore's counters.
type BlockstoreStats struct {
	Gets int64
	Puts int64
	Has  int64
}

func (bs *MeteredBlockstore) Stats() BlockstoreStats {
	return BlockstoreStats{
		Gets: bs.gets.Load(),
		Puts: bs.puts.Load(),
		Has:  bs.has.Load(),
	}
}

var _ blockstore.Blockstore = (*MeteredBlockstore)(nil)

func (bs *MeteredBlockstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	blockstoreOps.WithLabelValues(bs.name, "delete").Inc()
	return bs.base.DeleteBlock(ctx, c)
}

func (bs *MeteredBlockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	bs.has.Add(1)
	blockstoreOps.WithLabelValues(bs.name, "has").Inc()
	return bs.base.Has(ctx, c)
}

func (bs *MeteredBlockstore) Get(ctx context.Context, c cid.Cid) (blockformat.Block, error) {
	bs.gets.Add(1)
	blockstoreOps.WithLabelValues(bs.name, "get").Inc()
	blk, err := bs.base.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	blockstoreBytes.WithLabelValues(bs.name, "get").Add(float64(len(blk.RawData())))
	return blk, nil
}

func (bs *MeteredBlockstore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	return bs.base.GetSize(ctx, c)
}

func (bs *MeteredBlockstore) Put(ctx context.Context, blk blockformat.Block) error {
	bs.puts.Add(1)
	blockstoreOps.WithLabelValues(bs.name, "put").Inc()
	blockstoreBytes.WithLabelValues(bs.name, "put").Add(float64(len(blk.RawData())))
	return bs.base.Put(ctx, blk)
}

func (bs *MeteredBlockstore) PutMany(ctx context.Context, blks []blockformat.Block) error {
	bs.puts.Add(int64(len(blks)))
	blockstoreOps.WithLabelValues(bs.name, "put").Add(float64(len(blks)))
	for _, blk := range blks {
		blockstoreBytes.WithLabelValues(bs.name, "put").Add(float64(len(blk.RawData())))
	}
	return bs.base.PutMany(ctx, blks)
}

func (bs *MeteredBlockstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	return bs.base.AllKeysChan(ctx)
}

func (bs *MeteredBlockstore) HashOnRead(enabled bool) {
	bs.base.HashOnRead(enabled)
}
