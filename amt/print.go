package amt

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	cbor "github.com/ipfs/go-ipld-cbor"
	"github.com/xlab/treeprint"
)

// maxPrintedValueBytes caps how much of each value's CBOR is shown by Print.
const maxPrintedValueBytes = 16

// Print writes a human readable rendering of the trie to w, one branch per
// link and one line per stored value. Children that are not yet in memory are
// loaded from the store. Meant for debugging.
func (a *AMT) Print(ctx context.Context, w io.Writer) error {
	rootLabel := "root (pending)"
	if a.rootCid.Defined() {
		rootLabel = a.rootCid.String()
	}
	tree := treeprint.NewWithRoot(fmt.Sprintf("%s bitWidth=%d height=%d count=%d", rootLabel, a.bitWidth, a.height, a.count))

	if err := printNode(ctx, a.store, a.bitWidth, a.height, 0, a.node, tree); err != nil {
		return err
	}
	_, err := io.WriteString(w, tree.String())
	return err
}

func printNode(ctx context.Context, bs cbor.IpldStore, bitWidth uint, height int, offset uint64, n *node, tree treeprint.Tree) error {
	if height == 0 {
		for i, v := range n.values {
			if v == nil {
				continue
			}
			raw := v.Raw
			suffix := ""
			if len(raw) > maxPrintedValueBytes {
				raw = raw[:maxPrintedValueBytes]
				suffix = "..."
			}
			tree.AddNode(fmt.Sprintf("%d: %s%s", offset+uint64(i), hex.EncodeToString(raw), suffix))
		}
		return nil
	}

	nfh := nodesForHeight(bitWidth, height)
	for i, l := range n.links {
		if l == nil {
			continue
		}
		label := "pending"
		if !l.dirty {
			label = l.cid.String()
		}
		branch := tree.AddBranch(fmt.Sprintf("[%d] %s", i, label))

		sub, err := l.load(ctx, bs, bitWidth, height-1)
		if err != nil {
			return err
		}
		if err := printNode(ctx, bs, bitWidth, height-1, offset+uint64(i)*nfh, sub, branch); err != nil {
			return err
		}
	}
	return nil
}
