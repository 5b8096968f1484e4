package amt

import "errors"

// ErrOutOfRange is returned for indices above MaxIndex.
var ErrOutOfRange = errors.New("index out of range for the AMT")

// ErrCidNotFound is returned when a node referenced by the trie is missing from the
// block store. It signals a corrupt or partial store, not a missing value.
var ErrCidNotFound = errors.New("AMT node not found in block store")

// ErrMaxHeight is returned when loading a root whose height exceeds what its bit width allows.
var ErrMaxHeight = errors.New("AMT height out of bounds")

var ErrInvalidBitWidth = errors.New("invalid AMT bit width")

var ErrMalformedNode = errors.New("malformed AMT node")

// ErrPendingLink is returned when collapsing a node that still holds unflushed children.
var ErrPendingLink = errors.New("cannot collapse node with pending links")

// ErrIndexNotFound is returned by a strict BatchDelete for the first requested index that is not set.
var ErrIndexNotFound = errors.New("no such index in AMT")

var ErrInvalidTree = errors.New("invalid AMT structure")

// ErrInvalidValue is returned when a raw value is not exactly one well-formed CBOR item.
var ErrInvalidValue = errors.New("AMT value is not a single CBOR item")
