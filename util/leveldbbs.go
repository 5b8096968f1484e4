package util

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	blockformat "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDBBlockstore stores blocks in a LevelDB database keyed by CID bytes.
type LevelDBBlockstore struct {
	db  *leveldb.DB
	log *slog.Logger
}

func NewLevelDBBlockstore(path string, readOnly bool) (*LevelDBBlockstore, error) {
	opts := &opt.Options{
		Filter: filter.NewBloomFilter(10),
	}
	if readOnly {
		opts.ReadOnly = true
		opts.ErrorIfMissing = true
	}

	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open LevelDB instance: %w", err)
	}
	return &LevelDBBlockstore{
		db:  db,
		log: slog.Default().With("system", "leveldbbs", "path", path),
	}, nil
}

var _ blockstore.Blockstore = (*LevelDBBlockstore)(nil)

func (bs *LevelDBBlockstore) Close() error {
	return bs.db.Close()
}

func (bs *LevelDBBlockstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	return bs.db.Delete(c.Bytes(), nil)
}

func (bs *LevelDBBlockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	return bs.db.Has(c.Bytes(), nil)
}

func (bs *LevelDBBlockstore) Get(ctx context.Context, c cid.Cid) (blockformat.Block, error) {
	data, err := bs.db.Get(c.Bytes(), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, &ipld.ErrNotFound{Cid: c}
	}
	if err != nil {
		return nil, err
	}
	return blockformat.NewBlockWithCid(data, c)
}

func (bs *LevelDBBlockstore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	data, err := bs.db.Get(c.Bytes(), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return -1, &ipld.ErrNotFound{Cid: c}
	}
	if err != nil {
		return -1, err
	}
	return len(data), nil
}

func (bs *LevelDBBlockstore) Put(ctx context.Context, blk blockformat.Block) error {
	return bs.db.Put(blk.Cid().Bytes(), blk.RawData(), nil)
}

func (bs *LevelDBBlockstore) PutMany(ctx context.Context, blks []blockformat.Block) error {
	batch := new(leveldb.Batch)
	for _, blk := range blks {
		batch.Put(blk.Cid().Bytes(), blk.RawData())
	}
	return bs.db.Write(batch, nil)
}

func (bs *LevelDBBlockstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	iter := bs.db.NewIterator(nil, nil)

	out := make(chan cid.Cid)
	go func() {
		defer close(out)
		defer iter.Release()
		for iter.Next() {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			c, err := cid.Cast(key)
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
		if err := iter.Error(); err != nil {
			bs.log.Error("iterating keys", "err", err)
		}
	}()
	return out, nil
}

func (bs *LevelDBBlockstore) HashOnRead(enabled bool) {}
