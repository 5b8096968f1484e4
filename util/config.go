package util

import (
	"context"
	"errors"
	"fmt"
	"io"

	blockformat "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	flatfs "github.com/ipfs/go-ds-flatfs"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
)

const (
	BlockstoreMemory  = "memory"
	BlockstoreFlatfs  = "flatfs"
	BlockstorePebble  = "pebble"
	BlockstoreLevelDB = "leveldb"
)

var errReadOnly = errors.New("blockstore is read-only")

// BlockstoreConfig describes a backing block store for tries.
type BlockstoreConfig struct {
	// Kind is one of BlockstoreMemory, BlockstoreFlatfs, BlockstorePebble or BlockstoreLevelDB.
	Kind string
	// Path is the on-disk location. Ignored for memory stores.
	Path string
	// CacheSize, if positive, puts a block cache of that many entries in front of the store.
	CacheSize int
	ReadOnly  bool
	// Name labels the store's metrics. Defaults to Kind.
	Name string
}

func (cfg *BlockstoreConfig) Validate() error {
	switch cfg.Kind {
	case BlockstoreMemory:
		if cfg.ReadOnly {
			return fmt.Errorf("memory blockstore cannot be read-only")
		}
	case BlockstoreFlatfs, BlockstorePebble, BlockstoreLevelDB:
		if cfg.Path == "" {
			return fmt.Errorf("%s blockstore requires a path", cfg.Kind)
		}
	default:
		return fmt.Errorf("unknown blockstore kind %q", cfg.Kind)
	}
	if cfg.CacheSize < 0 {
		return fmt.Errorf("invalid cache size %d", cfg.CacheSize)
	}
	return nil
}

// OpenBlockstore opens the store described by cfg, metered under cfg.Name.
// The returned closer releases the underlying database.
func OpenBlockstore(cfg BlockstoreConfig) (blockstore.Blockstore, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	var bs blockstore.Blockstore
	var closer io.Closer = nopCloser{}
	switch cfg.Kind {
	case BlockstoreMemory:
		bs = blockstore.NewBlockstore(dssync.MutexWrap(datastore.NewMapDatastore()))
	case BlockstoreFlatfs:
		ds, err := flatfs.CreateOrOpen(cfg.Path, flatfs.IPFS_DEF_SHARD, false)
		if err != nil {
			return nil, nil, fmt.Errorf("opening flatfs at %s: %w", cfg.Path, err)
		}
		bs = blockstore.NewBlockstore(ds)
		if cfg.ReadOnly {
			bs = &readOnlyBstore{bs}
		}
		closer = ds
	case BlockstorePebble:
		pbs, err := NewPebbleBlockstore(cfg.Path, cfg.ReadOnly)
		if err != nil {
			return nil, nil, err
		}
		bs, closer = pbs, pbs
	case BlockstoreLevelDB:
		lbs, err := NewLevelDBBlockstore(cfg.Path, cfg.ReadOnly)
		if err != nil {
			return nil, nil, err
		}
		bs, closer = lbs, lbs
	}

	name := cfg.Name
	if name == "" {
		name = cfg.Kind
	}
	bs = NewMeteredBlockstore(name, bs)

	if cfg.CacheSize > 0 {
		cbs, err := NewCacheBlockstore(bs, cfg.CacheSize)
		if err != nil {
			closer.Close()
			return nil, nil, err
		}
		bs = cbs
	}
	return bs, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type readOnlyBstore struct {
	blockstore.Blockstore
}

func (bs *readOnlyBstore) DeleteBlock(context.Context, cid.Cid) error {
	return errReadOnly
}

func (bs *readOnlyBstore) Put(context.Context, blockformat.Block) error {
	return errReadOnly
}

func (bs *readOnlyBstore) PutMany(context.Context, []blockformat.Block) error {
	return errReadOnly
}
