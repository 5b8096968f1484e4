package util

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	blockformat "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
)

// CacheBlockstore keeps recently read and written blocks in a 2Q cache in
// front of base. Blocks are immutable, so cached entries never go stale.
type CacheBlockstore struct {
	base  blockstore.Blockstore
	cache *lru.TwoQueueCache[string, blockformat.Block]
}

func NewCacheBlockstore(base blockstore.Blockstore, size int) (*CacheBlockstore, error) {
	cache, err := lru.New2Q[string, blockformat.Block](size)
	if err != nil {
		return nil, err
	}
	return &CacheBlockstore{
		base:  base,
		cache: cache,
	}, nil
}

func (bs *CacheBlockstore) Len() int {
	return bs.cache.Len()
}

var _ blockstore.Blockstore = (*CacheBlockstore)(nil)

func (bs *CacheBlockstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	bs.cache.Remove(c.KeyString())
	return bs.base.DeleteBlock(ctx, c)
}

func (bs *CacheBlockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	if bs.cache.Contains(c.KeyString()) {
		return true, nil
	}

	return bs.base.Has(ctx, c)
}

func (bs *CacheBlockstore) Get(ctx context.Context, c cid.Cid) (blockformat.Block, error) {
	blk, ok := bs.cache.Get(c.KeyString())
	if ok {
		blockCacheHits.Inc()
		return blk, nil
	}
	blockCacheMisses.Inc()

	blk, err := bs.base.Get(ctx, c)
	if err != nil {
		return nil, err
	}

	bs.cache.Add(c.KeyString(), blk)
	return blk, nil
}

func (bs *CacheBlockstore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	if blk, ok := bs.cache.Peek(c.KeyString()); ok {
		return len(blk.RawData()), nil
	}
	return bs.base.GetSize(ctx, c)
}

func (bs *CacheBlockstore) Put(ctx context.Context, blk blockformat.Block) error {
	if err := bs.base.Put(ctx, blk); err != nil {
		return err
	}

	bs.cache.Add(blk.Cid().KeyString(), blk)
	return nil
}

func (bs *CacheBlockstore) PutMany(ctx context.Context, blks []blockformat.Block) error {
	if err := bs.base.PutMany(ctx, blks); err != nil {
		return err
	}

	for _, blk := range blks {
		bs.cache.Add(blk.Cid().KeyString(), blk)
	}
	return nil
}

func (bs *CacheBlockstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	return bs.base.AllKeysChan(ctx)
}

func (bs *CacheBlockstore) HashOnRead(enabled bool) {
	bs.base.HashOnRead(enabled)
}
