package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FanoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch", Name: "fanouts_total",
		Help: "Bookings fanned out to a dispatch group",
	})
	RadiusGrowthTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch", Name: "radius_growth_total",
		Help: "Search radius expansion ticks",
	})
	OffersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch", Name: "offers_total",
		Help: "Driver offers recorded",
	})
	AcceptsWonTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch", Name: "accepts_won_total",
		Help: "Acceptances that won the race",
	})
	AcceptsLostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch", Name: "accepts_lost_total",
		Help: "Acceptances rejected because the booking was no longer available",
	})
	ExpiriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch", Name: "expiries_total",
		Help: "Immediate bookings expired unmatched",
	})
	DriversOnDuty = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dispatch", Name: "drivers_on_duty",
		Help: "Drivers currently on duty",
	})

	CheckpointsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch", Name: "checkpoints_fired_total",
			Help: "Checkpoint jobs whose precondition held and whose action ran",
		},
		[]string{"label"},
	)
	CheckpointsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch", Name: "checkpoints_skipped_total",
			Help: "Checkpoint jobs that fired after resolution and no-opped",
		},
		[]string{"label"},
	)
)
