package gas

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrOutOfGas is returned by a charge that pushes usage past the limit.
var ErrOutOfGas = errors.New("out of gas")

// Tracker accumulates gas charges against a limit. It is not safe for
// concurrent use.
type Tracker struct {
	limit Gas
	used  Gas
	trace []Charge

	tracing bool
	log     *slog.Logger
}

func NewTracker(limit, used Gas) *Tracker {
	return &Tracker{
		limit: limit,
		used:  used,
		log:   slog.Default().With("system", "gas"),
	}
}

// EnableTracing records every subsequent charge, retrievable with DrainTrace.
func (t *Tracker) EnableTracing() {
	t.tracing = true
}

func (t *Tracker) charge(name string, amount Gas) error {
	t.used = t.used.Add(amount)
	if amount > 0 {
		gasCharged.WithLabelValues(name).Add(float64(amount.Milligas()))
	}
	if t.used > t.limit {
		t.log.Debug("gas limit reached", "charge", name, "amount", amount, "limit", t.limit)
		t.used = t.limit
		outOfGas.Inc()
		return fmt.Errorf("%w: charging %s for %s", ErrOutOfGas, amount, name)
	}
	return nil
}

// ChargeGas charges amount as compute gas under the given name. If the limit
// is exceeded, usage is clamped to the limit and ErrOutOfGas returned.
func (t *Tracker) ChargeGas(name string, amount Gas) error {
	err := t.charge(name, amount)
	if t.tracing {
		t.trace = append(t.trace, NewCharge(name, amount, Zero))
	}
	return err
}

func (t *Tracker) ApplyCharge(c Charge) error {
	err := t.charge(c.Name, c.Total())
	if t.tracing {
		t.trace = append(t.trace, c)
	}
	return err
}

// DrainTrace returns the charges recorded since the last call and clears them.
// Returns nil if tracing is not enabled.
func (t *Tracker) DrainTrace() []Charge {
	out := t.trace
	t.trace = nil
	return out
}

func (t *Tracker) GasLimit() Gas {
	return t.limit
}

func (t *Tracker) GasUsed() Gas {
	return t.used
}

func (t *Tracker) GasAvailable() Gas {
	return t.limit.Sub(t.used)
}
