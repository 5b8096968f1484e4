package util

import (
	"context"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	ipld "github.com/ipfs/go-ipld-format"
)

// TinyBlockstore is a minimal map-backed store satisfying the CBOR store's
// block interface. It is meant for short-lived scratch tries.
type TinyBlockstore struct {
	blocks map[string]blocks.Block
}

func NewTinyBlockstore() *TinyBlockstore {
	return &TinyBlockstore{blocks: make(map[string]blocks.Block, 20)}
}

func (tb *TinyBlockstore) Put(_ context.Context, block blocks.Block) error {
	tb.blocks[block.Cid().KeyString()] = block
	return nil
}

func (tb *TinyBlockstore) Get(_ context.Context, ncid cid.Cid) (blocks.Block, error) {
	block, found := tb.blocks[ncid.KeyString()]
	if found {
		return block, nil
	}
	return nil, &ipld.ErrNotFound{Cid: ncid}
}

func (tb *TinyBlockstore) Len() int {
	return len(tb.blocks)
}
