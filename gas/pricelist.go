package gas

// PriceList holds the gas costs of block store access.
type PriceList struct {
	BlockOpenBase           Gas
	BlockOpenPerByte        Gas
	BlockLinkBase           Gas
	BlockLinkStoragePerByte Gas
}

// DefaultPriceList prices reads by size of data returned and writes by size
// of data stored.
var DefaultPriceList = &PriceList{
	BlockOpenBase:           NewGas(187440),
	BlockOpenPerByte:        FromMilligas(10),
	BlockLinkBase:           NewGas(353640),
	BlockLinkStoragePerByte: NewGas(1300),
}

// OnBlockOpen is the cost of reading a block of the given size.
func (p *PriceList) OnBlockOpen(size int) Charge {
	return NewCharge("OnBlockOpen", p.BlockOpenBase.Add(p.BlockOpenPerByte.Mul(int64(size))), Zero)
}

// OnBlockLink is the cost of writing a block of the given size.
func (p *PriceList) OnBlockLink(size int) Charge {
	return NewCharge("OnBlockLink", p.BlockLinkBase, p.BlockLinkStoragePerByte.Mul(int64(size)))
}
