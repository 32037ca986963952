package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the scheduling counters. Register once at startup; a nil
// *Metrics is safe to record against so unit tests can pass nil.
type Metrics struct {
	BookingsConfirmed  prometheus.Counter
	BookingConflicts   *prometheus.CounterVec
	BookingsCancelled  prometheus.Counter
	Reschedules        prometheus.Counter
	WaitlistPromotions prometheus.Counter
	WaitlistExpiries   prometheus.Counter
	CacheHits          *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BookingsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduling_bookings_confirmed_total",
			Help: "Appointments successfully booked.",
		}),
		BookingConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduling_booking_conflicts_total",
			Help: "Booking attempts rejected, by reason.",
		}, []string{"reason"}),
		BookingsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduling_bookings_cancelled_total",
			Help: "Appointments cancelled.",
		}),
		Reschedules: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduling_reschedules_total",
			Help: "Appointments atomically moved to a new slot.",
		}),
		WaitlistPromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduling_waitlist_promotions_total",
			Help: "Waitlist entries promoted into freed slots.",
		}),
		WaitlistExpiries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduling_waitlist_expiries_total",
			Help: "Waitlist entries expired before a matching slot freed.",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduling_availability_cache_total",
			Help: "Availability index cache lookups, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.BookingsConfirmed,
		m.BookingConflicts,
		m.BookingsCancelled,
		m.Reschedules,
		m.WaitlistPromotions,
		m.WaitlistExpiries,
		m.CacheHits,
	)
	return m
}

func (m *Metrics) RecordConfirmed() {
	if m != nil {
		m.BookingsConfirmed.Inc()
	}
}

func (m *Metrics) RecordConflict(reason string) {
	if m != nil {
		m.BookingConflicts.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RecordCancelled() {
	if m != nil {
		m.BookingsCancelled.Inc()
	}
}

func (m *Metrics) RecordReschedule() {
	if m != nil {
		m.Reschedules.Inc()
	}
}

func (m *Metrics) RecordPromotion() {
	if m != nil {
		m.WaitlistPromotions.Inc()
	}
}

func (m *Metrics) RecordExpiry() {
	if m != nil {
		m.WaitlistExpiries.Inc()
	}
}

// RecordCacheLookup tallies an availability index lookup; outcome is one of
// "hit", "miss", or "bypass" (cache disabled or unreachable).
func (m *Metrics) RecordCacheLookup(outcome string) {
	if m != nil {
		m.CacheHits.WithLabelValues(outcome).Inc()
	}
}
