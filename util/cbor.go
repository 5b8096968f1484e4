package util

import (
	cbor "github.com/ipfs/go-ipld-cbor"
	mh "github.com/multiformats/go-multihash"
)

// CborStore wraps bs in a typed CBOR store. Blocks are addressed with
// Blake2b-256, which is what chain state CIDs use.
func CborStore(bs cbor.IpldBlockstore) *cbor.BasicIpldStore {
	cst := cbor.NewCborStore(bs)
	cst.DefaultMultihash = mh.BLAKE2B_MIN + 31
	return cst
}
