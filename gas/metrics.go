package gas

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var gasCharged = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "amt_gas_charged_milligas_total",
	Help: "Milligas charged against gas trackers, by charge name",
}, []string{"charge"})

var outOfGas = promauto.NewCounter(prometheus.CounterOpts{
	Name: "amt_gas_exhausted_total",
	Help: "Number of charges that exceeded the tracker's gas limit",
})
