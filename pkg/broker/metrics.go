package broker

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics are the broker's counters, kept in a private set so several
// brokers can live in one process
type Metrics struct {
	set *metrics.Set

	registrations      *metrics.Counter
	collisions         *metrics.Counter
	calls              *metrics.Counter
	callsNotFound      *metrics.Counter
	cancels            *metrics.Counter
	cancelledByOffline *metrics.Counter
	responses          *metrics.Counter
	exceptions         *metrics.Counter
	droppedResults     *metrics.Counter
	broadcasts         *metrics.Counter
	events             *metrics.Counter
	callDuration       *metrics.Histogram
}

func newMetrics(b *Broker) *Metrics {
	set := metrics.NewSet()
	m := &Metrics{
		set:                set,
		registrations:      set.NewCounter("wsgw_service_registrations_total"),
		collisions:         set.NewCounter("wsgw_service_name_collisions_total"),
		calls:              set.NewCounter("wsgw_calls_total"),
		callsNotFound:      set.NewCounter("wsgw_calls_not_found_total"),
		cancels:            set.NewCounter("wsgw_calls_cancelled_total"),
		cancelledByOffline: set.NewCounter("wsgw_calls_cancelled_offline_total"),
		responses:          set.NewCounter("wsgw_responses_total"),
		exceptions:         set.NewCounter("wsgw_exceptions_total"),
		droppedResults:     set.NewCounter("wsgw_results_dropped_total"),
		broadcasts:         set.NewCounter("wsgw_broadcasts_total"),
		events:             set.NewCounter("wsgw_events_delivered_total"),
		callDuration:       set.NewHistogram("wsgw_call_duration_seconds"),
	}
	set.NewGauge("wsgw_services_online", func() float64 {
		return float64(b.Stats().Services)
	})
	set.NewGauge("wsgw_clients_connected", func() float64 {
		return float64(b.Stats().Clients)
	})
	set.NewGauge("wsgw_calls_pending", func() float64 {
		return float64(b.Stats().PendingCalls)
	})
	set.NewGauge("wsgw_subscriptions", func() float64 {
		return float64(b.Stats().Subscriptions)
	})
	return m
}

// WritePrometheus writes the metrics in Prometheus text exposition format
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// Calls returns the number of calls forwarded to a service
func (m *Metrics) Calls() uint64 {
	return m.calls.Get()
}

// DroppedResults returns the number of responses and exceptions that
// matched no pending call
func (m *Metrics) DroppedResults() uint64 {
	return m.droppedResults.Get()
}
