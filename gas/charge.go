package gas

// Charge is a single named gas charge. Compute is the cost of the operation
// itself, Other covers everything else (storage, memory).
type Charge struct {
	Name    string
	Compute Gas
	Other   Gas
}

func NewCharge(name string, compute, other Gas) Charge {
	return Charge{
		Name:    name,
		Compute: compute,
		Other:   other,
	}
}

func (c Charge) Total() Gas {
	return c.Compute.Add(c.Other)
}
