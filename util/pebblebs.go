package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
	blockformat "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
)

// PebbleBlockstore stores blocks in a pebble database keyed by CID bytes.
type PebbleBlockstore struct {
	db       *pebble.DB
	readOnly bool
	log      *slog.Logger
}

func NewPebbleBlockstore(path string, readOnly bool) (*PebbleBlockstore, error) {
	db, err := pebble.Open(path, &pebble.Options{ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &PebbleBlockstore{
		db:       db,
		readOnly: readOnly,
		log:      slog.Default().With("system", "pebblebs", "path", path),
	}, nil
}

var _ blockstore.Blockstore = (*PebbleBlockstore)(nil)

func (bs *PebbleBlockstore) Close() error {
	return bs.db.Close()
}

func (bs *PebbleBlockstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	if bs.readOnly {
		return errReadOnly
	}
	return bs.db.Delete(c.Bytes(), pebble.Sync)
}

func (bs *PebbleBlockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	_, closer, err := bs.db.Get(c.Bytes())
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, closer.Close()
}

func (bs *PebbleBlockstore) Get(ctx context.Context, c cid.Cid) (blockformat.Block, error) {
	val, closer, err := bs.db.Get(c.Bytes())
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, &ipld.ErrNotFound{Cid: c}
	}
	if err != nil {
		return nil, err
	}
	data := bytes.Clone(val)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return blockformat.NewBlockWithCid(data, c)
}

func (bs *PebbleBlockstore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	val, closer, err := bs.db.Get(c.Bytes())
	if errors.Is(err, pebble.ErrNotFound) {
		return -1, &ipld.ErrNotFound{Cid: c}
	}
	if err != nil {
		return -1, err
	}
	size := len(val)
	return size, closer.Close()
}

func (bs *PebbleBlockstore) Put(ctx context.Context, blk blockformat.Block) error {
	if bs.readOnly {
		return errReadOnly
	}
	return bs.db.Set(blk.Cid().Bytes(), blk.RawData(), pebble.Sync)
}

func (bs *PebbleBlockstore) PutMany(ctx context.Context, blks []blockformat.Block) error {
	if bs.readOnly {
		return errReadOnly
	}
	batch := bs.db.NewBatch()
	defer batch.Close()
	for _, blk := range blks {
		if err := batch.Set(blk.Cid().Bytes(), blk.RawData(), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (bs *PebbleBlockstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	iter, err := bs.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}

	out := make(chan cid.Cid)
	go func() {
		defer close(out)
		defer iter.Close()
		for iter.First(); iter.Valid(); iter.Next() {
			c, err := cid.Cast(bytes.Clone(iter.Key()))
			if err != nil {
				bs.log.Warn("skipping key that is not a CID", "err", err)
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (bs *PebbleBlockstore) HashOnRead(enabled bool) {}
