package amt

import (
	"context"
	"fmt"

	"github.com/chainstate/amt/amt/internal"

	cid "github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	cbg "github.com/whyrusleeping/cbor-gen"
)

// Version selects the root block layout of an AMT. It is fixed for the
// lifetime of a handle; use V3 unless you need to read or write legacy roots.
type Version interface {
	fmt.Stringer

	checkBitWidth(bitWidth uint) error
	encodeRoot(bitWidth uint, height int, count uint64, nd *internal.Node) cbg.CBORMarshaler
	decodeRoot(ctx context.Context, bs cbor.IpldStore, c cid.Cid) (*internal.Root, error)
}

var (
	// V0 is the legacy layout: [height, count, node], bit width fixed at 3.
	V0 Version = versionZero{}
	// V3 is the current layout: [bitWidth, height, count, node].
	V3 Version = versionThree{}
)

type versionZero struct{}

func (versionZero) String() string { return "v0" }

func (versionZero) checkBitWidth(bitWidth uint) error {
	if bitWidth != defaultBitWidth {
		return fmt.Errorf("%w: legacy AMTs only support bit width %d, got %d", ErrInvalidBitWidth, defaultBitWidth, bitWidth)
	}
	return nil
}

func (versionZero) encodeRoot(_ uint, height int, count uint64, nd *internal.Node) cbg.CBORMarshaler {
	return &internal.LegacyRoot{
		Height: uint64(height),
		Count:  count,
		Node:   *nd,
	}
}

func (versionZero) decodeRoot(ctx context.Context, bs cbor.IpldStore, c cid.Cid) (*internal.Root, error) {
	var r internal.LegacyRoot
	if err := bs.Get(ctx, c, &r); err != nil {
		return nil, err
	}
	return &internal.Root{
		BitWidth: defaultBitWidth,
		Height:   r.Height,
		Count:    r.Count,
		Node:     r.Node,
	}, nil
}

type versionThree struct{}

func (versionThree) String() string { return "v3" }

func (versionThree) checkBitWidth(bitWidth uint) error {
	if bitWidth < MinBitWidth || bitWidth > MaxBitWidth {
		return fmt.Errorf("%w: %d is outside [%d, %d]", ErrInvalidBitWidth, bitWidth, MinBitWidth, MaxBitWidth)
	}
	return nil
}

func (versionThree) encodeRoot(bitWidth uint, height int, count uint64, nd *internal.Node) cbg.CBORMarshaler {
	return &internal.Root{
		BitWidth: uint64(bitWidth),
		Height:   uint64(height),
		Count:    count,
		Node:     *nd,
	}
}

func (versionThree) decodeRoot(ctx context.Context, bs cbor.IpldStore, c cid.Cid) (*internal.Root, error) {
	var r internal.Root
	if err := bs.Get(ctx, c, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
