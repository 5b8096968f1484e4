// Package internal holds the on-the-wire representation of AMT blocks.
package internal

import (
	cid "github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
)

// Node is the collapsed form of a trie node: only occupied slots are
// listed, in slot order, and Bmap records which slots those are.
//
// At most one of Links and Values is non-empty.
type Node struct {
	Bmap   []byte
	Links  []cid.Cid       `cborgen:"maxlen=262144"`
	Values []*cbg.Deferred `cborgen:"maxlen=262144"`
}

// Root is the current (v3) root layout, which carries the bit width.
type Root struct {
	BitWidth uint64
	Height   uint64
	Count    uint64
	Node     Node
}

// LegacyRoot is the v0 root layout. The bit width is implied (3).
type LegacyRoot struct {
	Height uint64
	Count  uint64
	Node   Node
}
