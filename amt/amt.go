package amt

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	cid "github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	ipld "github.com/ipfs/go-ipld-format"
	cbg "github.com/whyrusleeping/cbor-gen"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultBitWidth = 3

	MinBitWidth = 1
	MaxBitWidth = 18
)

// MaxIndex is the largest index that can be stored. It is one below
// MaxUint64 so that the length of a full range never overflows.
const MaxIndex = math.MaxUint64 - 1

// MaxHeight is the largest height a trie with the given bit width can need to
// address every index up to MaxIndex. Loaded roots above it are rejected.
func MaxHeight(bitWidth uint) int {
	return int((64+bitWidth-1)/bitWidth) - 1
}

// AMT is an array mapped trie: a sparse array of CBOR values indexed by
// uint64, persisted as a tree of content-addressed blocks.
//
// An AMT is not safe for concurrent use, including concurrent reads: reads
// populate the per-handle node cache.
type AMT struct {
	store cbor.IpldStore
	cfg   *config

	bitWidth uint
	height   int
	count    uint64
	node     *node

	// CID of the root as of the last Flush or Load; undefined once anything changed since.
	rootCid cid.Cid
}

// NewAMT creates an empty AMT backed by bs.
func NewAMT(bs cbor.IpldStore, opts ...Option) (*AMT, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	return &AMT{
		store:    bs,
		cfg:      cfg,
		bitWidth: cfg.bitWidth,
		node:     newLeaf(cfg.bitWidth),
	}, nil
}

// LoadAMT loads the AMT whose root block has CID c. The root layout is
// decoded according to the configured Version.
func LoadAMT(ctx context.Context, bs cbor.IpldStore, c cid.Cid, opts ...Option) (*AMT, error) {
	ctx, span := otel.Tracer("amt").Start(ctx, "LoadAMT")
	defer span.End()

	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	r, err := cfg.version.decodeRoot(ctx, bs, c)
	if err != nil {
		if ipld.IsNotFound(err) {
			rootLoadErrors.WithLabelValues("not_found").Inc()
			return nil, fmt.Errorf("%w: root %s", ErrCidNotFound, c)
		}
		rootLoadErrors.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("loading AMT root %s: %w", c, err)
	}

	if r.BitWidth > MaxBitWidth {
		rootLoadErrors.WithLabelValues("bit_width").Inc()
		return nil, fmt.Errorf("%w: root %s has bit width %d", ErrInvalidBitWidth, c, r.BitWidth)
	}
	bitWidth := uint(r.BitWidth)
	if err := cfg.version.checkBitWidth(bitWidth); err != nil {
		rootLoadErrors.WithLabelValues("bit_width").Inc()
		return nil, err
	}
	if cfg.bitWidthSet && cfg.bitWidth != bitWidth {
		rootLoadErrors.WithLabelValues("bit_width").Inc()
		return nil, fmt.Errorf("%w: expected %d, root %s has %d", ErrInvalidBitWidth, cfg.bitWidth, c, bitWidth)
	}

	// this should never happen for roots we wrote ourselves
	if r.Height > uint64(MaxHeight(bitWidth)) {
		rootLoadErrors.WithLabelValues("max_height").Inc()
		cfg.logger.Warn("rejecting AMT root with excessive height", "cid", c, "height", r.Height, "maxHeight", MaxHeight(bitWidth))
		return nil, fmt.Errorf("%w: %d > %d", ErrMaxHeight, r.Height, MaxHeight(bitWidth))
	}
	height := int(r.Height)

	nd, err := expandNode(&r.Node, bitWidth, height, height == 0)
	if err != nil {
		rootLoadErrors.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("loading AMT root %s: %w", c, err)
	}

	return &AMT{
		store:    bs,
		cfg:      cfg,
		bitWidth: bitWidth,
		height:   height,
		count:    r.Count,
		node:     nd,
		rootCid:  c,
	}, nil
}

// FromArray builds a new AMT holding vals at indices 0..len(vals)-1 and
// returns the CID of its flushed root.
func FromArray(ctx context.Context, bs cbor.IpldStore, vals []cbg.CBORMarshaler, opts ...Option) (cid.Cid, error) {
	a, err := NewAMT(bs, opts...)
	if err != nil {
		return cid.Undef, err
	}
	if err := a.BatchSet(ctx, vals); err != nil {
		return cid.Undef, err
	}
	return a.Flush(ctx)
}

func (a *AMT) Height() int {
	return a.height
}

// Count returns the number of indices that hold a value.
func (a *AMT) Count() uint64 {
	return a.count
}

func (a *AMT) BitWidth() uint {
	return a.bitWidth
}

func (a *AMT) Version() Version {
	return a.cfg.version
}

func (a *AMT) invalidate() {
	a.rootCid = cid.Undef
}

// inRange reports whether i is addressable at the current height.
func (a *AMT) inRange(i uint64) bool {
	return i < nodesForHeight(a.bitWidth, a.height+1)
}

// Get decodes the value at index i into out, which may be nil to only test
// presence. Returns false if nothing is stored at i.
func (a *AMT) Get(ctx context.Context, i uint64, out cbg.CBORUnmarshaler) (bool, error) {
	v, err := a.GetRaw(ctx, i)
	if err != nil || v == nil {
		return false, err
	}
	if out != nil {
		if err := out.UnmarshalCBOR(bytes.NewReader(v.Raw)); err != nil {
			return false, fmt.Errorf("decoding AMT value at index %d: %w", i, err)
		}
	}
	return true, nil
}

// GetRaw returns the encoded value at index i, or nil if there is none.
func (a *AMT) GetRaw(ctx context.Context, i uint64) (*cbg.Deferred, error) {
	if i > MaxIndex {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, i)
	}
	if !a.inRange(i) {
		return nil, nil
	}
	return a.node.get(ctx, a.store, a.bitWidth, a.height, i)
}

// Set stores val at index i, replacing any previous value.
func (a *AMT) Set(ctx context.Context, i uint64, val cbg.CBORMarshaler) error {
	if i > MaxIndex {
		return fmt.Errorf("%w: %d", ErrOutOfRange, i)
	}
	if val == nil {
		return fmt.Errorf("index %d: %w: nil", i, ErrInvalidValue)
	}
	buf := new(bytes.Buffer)
	if err := val.MarshalCBOR(buf); err != nil {
		return fmt.Errorf("encoding AMT value at index %d: %w", i, err)
	}
	return a.SetRaw(ctx, i, &cbg.Deferred{Raw: buf.Bytes()})
}

// SetRaw stores an already encoded value at index i.
func (a *AMT) SetRaw(ctx context.Context, i uint64, val *cbg.Deferred) error {
	if i > MaxIndex {
		return fmt.Errorf("%w: %d", ErrOutOfRange, i)
	}
	if err := validateValue(val); err != nil {
		return fmt.Errorf("index %d: %w", i, err)
	}

	for !a.inRange(i) {
		if !a.node.empty() {
			nd := newLinkNode(a.bitWidth)
			nd.links[0] = &link{
				dirty:  true,
				cached: a.node,
			}
			a.node = nd
		} else {
			a.node = newLinkNode(a.bitWidth)
		}
		a.height++
	}
	a.invalidate()

	prev, err := a.node.set(ctx, a.store, a.bitWidth, a.height, i, val)
	if err != nil {
		return err
	}
	if prev == nil {
		a.count++
	}
	return nil
}

// validateValue checks that val holds exactly one CBOR item, so that it
// survives being embedded in a node and read back.
func validateValue(val *cbg.Deferred) error {
	if val == nil {
		return fmt.Errorf("%w: nil", ErrInvalidValue)
	}
	if err := cbg.ValidateCBOR(val.Raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return nil
}

// BatchSet stores vals at consecutive indices starting from 0.
func (a *AMT) BatchSet(ctx context.Context, vals []cbg.CBORMarshaler) error {
	// TODO: build full nodes directly instead of walking from the root for each value
	for i, v := range vals {
		if err := a.Set(ctx, uint64(i), v); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the value at index i. Returns false if there was none.
func (a *AMT) Delete(ctx context.Context, i uint64) (bool, error) {
	if i > MaxIndex {
		return false, fmt.Errorf("%w: %d", ErrOutOfRange, i)
	}
	if !a.inRange(i) {
		return false, nil
	}

	deleted, err := a.node.delete(ctx, a.store, a.bitWidth, a.height, i)
	if err != nil {
		return false, err
	}
	if deleted == nil {
		return false, nil
	}
	a.invalidate()
	if a.count == 0 {
		return true, fmt.Errorf("%w: deleted index %d from a trie with count 0", ErrInvalidTree, i)
	}
	a.count--

	if a.node.empty() {
		a.node = newLeaf(a.bitWidth)
		a.height = 0
		return true, nil
	}

	// a root with a single child in slot 0 covers nothing that child doesn't,
	// so keep promoting until the root is minimal
	for a.height > 0 && a.node.canCollapse() {
		sub, err := a.node.links[0].load(ctx, a.store, a.bitWidth, a.height-1)
		if err != nil {
			return true, err
		}
		a.node = sub
		a.height--
	}
	return true, nil
}

// BatchDelete deletes the given indices in ascending order. With strict set,
// the first index that holds no value aborts the batch with ErrIndexNotFound;
// indices deleted before it stay deleted. Returns whether anything was deleted.
func (a *AMT) BatchDelete(ctx context.Context, indices []uint64, strict bool) (bool, error) {
	sorted := slices.Clone(indices)
	slices.Sort(sorted)

	modified := false
	for _, i := range sorted {
		found, err := a.Delete(ctx, i)
		if err != nil {
			return modified, err
		}
		if strict && !found {
			return modified, fmt.Errorf("%w: %d", ErrIndexNotFound, i)
		}
		modified = modified || found
	}
	return modified, nil
}

// Flush writes all pending nodes and the root to the block store and returns
// the root CID. Flushing an unchanged AMT writes nothing.
func (a *AMT) Flush(ctx context.Context) (cid.Cid, error) {
	if a.rootCid.Defined() {
		return a.rootCid, nil
	}

	ctx, span := otel.Tracer("amt").Start(ctx, "Flush")
	defer span.End()

	start := time.Now()
	written, err := a.node.flush(ctx, a.store, a.bitWidth, a.height)
	if err != nil {
		return cid.Undef, err
	}
	nd, err := a.node.collapse(a.bitWidth)
	if err != nil {
		return cid.Undef, err
	}
	c, err := a.store.Put(ctx, a.cfg.version.encodeRoot(a.bitWidth, a.height, a.count, nd))
	if err != nil {
		return cid.Undef, fmt.Errorf("writing AMT root: %w", err)
	}
	flushDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("nodes", written), attribute.Int("height", a.height))
	a.cfg.logger.Debug("flushed AMT", "cid", c, "nodes", written, "height", a.height, "count", a.count)

	a.rootCid = c
	return c, nil
}

// Equal compares the root descriptors of two AMTs as held in memory. Subtrees
// compare by CID once flushed and by content while pending, so two AMTs with
// the same values can compare unequal if only one of them has been flushed.
func (a *AMT) Equal(o *AMT) bool {
	if a == nil || o == nil {
		return a == o
	}
	return a.bitWidth == o.bitWidth &&
		a.height == o.height &&
		a.count == o.count &&
		a.node.equal(o.node)
}
