package amt

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/chainstate/amt/amt/internal"

	cid "github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	cbor "github.com/ipfs/go-ipld-cbor"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
	carv2 "github.com/ipld/go-car/v2"
	"go.opentelemetry.io/otel"
)

// WriteCAR writes a CARv1 archive to w holding the AMT rooted at root and
// every node reachable from it, root block first. opts must select the
// version the root was written with.
func WriteCAR(ctx context.Context, bs blockstore.Blockstore, root cid.Cid, w io.Writer, opts ...Option) error {
	ctx, span := otel.Tracer("amt").Start(ctx, "WriteCAR")
	defer span.End()

	a, err := LoadAMT(ctx, cbor.NewCborStore(bs), root, opts...)
	if err != nil {
		return err
	}

	if err := car.WriteHeader(&car.CarHeader{
		Roots:   []cid.Cid{root},
		Version: 1,
	}, w); err != nil {
		return err
	}

	if err := writeBlock(ctx, bs, root, w); err != nil {
		return err
	}

	nd, err := a.node.collapse(a.bitWidth)
	if err != nil {
		return err
	}
	return writeSubtrees(ctx, bs, nd.Links, a.height-1, w)
}

func writeBlock(ctx context.Context, bs blockstore.Blockstore, c cid.Cid, w io.Writer) error {
	blk, err := bs.Get(ctx, c)
	if err != nil {
		return fmt.Errorf("reading AMT block %s: %w", c, err)
	}
	return carutil.LdWrite(w, c.Bytes(), blk.RawData())
}

// writeSubtrees writes the nodes behind links, which sit at the given height,
// and everything below them.
func writeSubtrees(ctx context.Context, bs blockstore.Blockstore, links []cid.Cid, height int, w io.Writer) error {
	for _, c := range links {
		blk, err := bs.Get(ctx, c)
		if err != nil {
			return fmt.Errorf("reading AMT block %s: %w", c, err)
		}
		if err := carutil.LdWrite(w, c.Bytes(), blk.RawData()); err != nil {
			return err
		}
		if height == 0 {
			continue
		}

		var nd internal.Node
		if err := nd.UnmarshalCBOR(bytes.NewReader(blk.RawData())); err != nil {
			return fmt.Errorf("decoding AMT node %s: %w", c, err)
		}
		if err := writeSubtrees(ctx, bs, nd.Links, height-1, w); err != nil {
			return err
		}
	}
	return nil
}

// ReadCAR copies every block of a CAR archive into bs and returns its first root.
func ReadCAR(ctx context.Context, r io.Reader, bs blockstore.Blockstore) (cid.Cid, error) {
	br, err := carv2.NewBlockReader(r)
	if err != nil {
		return cid.Undef, err
	}

	for {
		blk, err := br.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return cid.Undef, err
		}

		if err := bs.Put(ctx, blk); err != nil {
			return cid.Undef, err
		}
	}

	if len(br.Roots) < 1 {
		return cid.Undef, fmt.Errorf("CAR file missing root CID")
	}
	return br.Roots[0], nil
}
