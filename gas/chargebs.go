package gas

import (
	"context"
	"fmt"

	blockformat "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
)

// ChargingBlockstore charges a Tracker for every block read and written
// through it. A charge that runs out of gas fails the operation before the
// base store is touched for the block data.
type ChargingBlockstore struct {
	base    blockstore.Blockstore
	tracker *Tracker
	prices  *PriceList
}

func NewChargingBlockstore(base blockstore.Blockstore, tracker *Tracker, prices *PriceList) *ChargingBlockstore {
	if prices == nil {
		prices = DefaultPriceList
	}
	return &ChargingBlockstore{
		base:    base,
		tracker: tracker,
		prices:  prices,
	}
}

var _ blockstore.Blockstore = (*ChargingBlockstore)(nil)

func (bs *ChargingBlockstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	return fmt.Errorf("deletes not allowed on charging blockstore")
}

func (bs *ChargingBlockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	return bs.base.Has(ctx, c)
}

func (bs *ChargingBlockstore) Get(ctx context.Context, c cid.Cid) (blockformat.Block, error) {
	size, err := bs.base.GetSize(ctx, c)
	if err != nil {
		if ipld.IsNotFound(err) {
			// a miss still costs the lookup
			if cerr := bs.tracker.ApplyCharge(bs.prices.OnBlockOpen(0)); cerr != nil {
				return nil, cerr
			}
		}
		return nil, err
	}
	if err := bs.tracker.ApplyCharge(bs.prices.OnBlockOpen(size)); err != nil {
		return nil, err
	}
	return bs.base.Get(ctx, c)
}

func (bs *ChargingBlockstore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	return bs.base.GetSize(ctx, c)
}

func (bs *ChargingBlockstore) Put(ctx context.Context, blk blockformat.Block) error {
	if err := bs.tracker.ApplyCharge(bs.prices.OnBlockLink(len(blk.RawData()))); err != nil {
		return err
	}
	return bs.base.Put(ctx, blk)
}

func (bs *ChargingBlockstore) PutMany(ctx context.Context, blks []blockformat.Block) error {
	for _, blk := range blks {
		if err := bs.tracker.ApplyCharge(bs.prices.OnBlockLink(len(blk.RawData()))); err != nil {
			return err
		}
	}
	return bs.base.PutMany(ctx, blks)
}

func (bs *ChargingBlockstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	return nil, fmt.Errorf("iteration not supported on charging blockstore")
}

func (bs *ChargingBlockstore) HashOnRead(enabled bool) {
	bs.base.HashOnRead(enabled)
}
