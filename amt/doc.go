/*
Implementation of the Array Mapped Trie (AMT): a sparse array of CBOR values, indexed by uint64, stored as a tree of content-addressed blocks.

## Terminology

bit width: each node has 1 << bitWidth slots. defaults to 3 (8 slots). fixed for the lifetime of a trie and recorded in the root (except for legacy V0 roots, where it is always 3)

height: distance from the root to the leaves. a trie of height h addresses indices [0, width^(h+1)). leaves are at height 0 and hold values, every other node holds links

root: the block holding bit width (V3 only), height, count and the root node inline. the root node is the only node allowed to be empty

link: reference from a node to a child. a link is either "pending" (child only in memory, no CID yet) or "committed" (child has a CID and may additionally be cached in memory)

## Tricky Bits

When setting:

- an index past the addressable range grows the trie by wrapping the current root as slot 0 of a new root, as many times as needed

When deleting:

- children that become empty are unlinked, so no empty node is ever written
- if afterwards the root is a link node with only slot 0 filled, it is replaced by that child, repeatedly. an emptied trie goes back to a single empty leaf at height 0

When flushing:

- pending children are written bottom-up, then the root. flushing again without changes writes nothing and returns the same CID

## Hacking

Nodes are mutated in place. A committed link's cached node is only modified together with marking the link pending, otherwise the next Flush would keep the old CID for changed content.
*/
package amt
