package main

import (
	"github.com/chainstate/amt/amt/internal"

	cbg "github.com/whyrusleeping/cbor-gen"
)

func main() {
	if err := cbg.WriteTupleEncodersToFile("amt/internal/cbor_gen.go", "internal", internal.Node{}, internal.Root{}, internal.LegacyRoot{}); err != nil {
		panic(err)
	}
}
