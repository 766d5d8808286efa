// internal/settlement/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_checkouts_total",
		Help: "Checkout sagas by outcome.",
	}, []string{"outcome"})

	oversellRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_oversell_rejections_total",
		Help: "Reservations rejected for insufficient stock.",
	})

	escrowTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_escrow_transfers_total",
		Help: "Escrow releases and refunds by kind.",
	}, []string{"kind"})

	disputesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_disputes_total",
		Help: "Disputes by lifecycle event.",
	}, []string{"event"})
)
