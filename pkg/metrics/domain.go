package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const domainSubsystem = "billing"

// latencyBuckets covers webhook handling and scheduler sweeps, in
// milliseconds. Gateway and Core API round trips sit in the middle band.
var latencyBuckets = []float64{
	5, 10, 25, 50, 100, 250, 500,
	1000, 2500, 5000, 10000,
	30000, 60000, 300000,
}

// Metric describes one collector. Type is counter_vec, histogram_vec or
// summary_vec; the gin middleware and the domain counters only need those.
type Metric struct {
	MetricCollector prometheus.Collector
	ID              string
	Name            string
	Description     string
	Type            string
	Args            []string
}

// NewMetric builds the collector for m. Unknown types return nil.
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case "counter_vec":
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      m.Name,
			Help:      m.Description,
		}, m.Args)
	case "histogram_vec":
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      m.Name,
			Help:      m.Description,
			Buckets:   latencyBuckets,
		}, m.Args)
	case "summary_vec":
		return prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Subsystem: subsystem,
			Name:      m.Name,
			Help:      m.Description,
		}, m.Args)
	}
	return nil
}

var processLatency = &Metric{
	ID:          "procDur",
	Name:        "process_duration_ms",
	Description: "Latency of reconciliation and sweep steps in milliseconds.",
	Type:        "histogram_vec",
	Args:        []string{"type", "subtype"},
}

var gatewayEvents = &Metric{
	ID:          "gwEvt",
	Name:        "gateway_events_total",
	Description: "Gateway events handled, partitioned by source, kind and outcome.",
	Type:        "counter_vec",
	Args:        []string{"source", "kind", "outcome"},
}

var transitions = &Metric{
	ID:          "trans",
	Name:        "transitions_total",
	Description: "Applied state transitions, partitioned by entity, action and resulting status.",
	Type:        "counter_vec",
	Args:        []string{"entity", "action", "to"},
}

var sweepEntities = &Metric{
	ID:          "sweep",
	Name:        "sweep_entities_total",
	Description: "Entities visited by the scheduler sweep, partitioned by entity and result.",
	Type:        "counter_vec",
	Args:        []string{"entity", "result"},
}

var effectsDispatched = &Metric{
	ID:          "effects",
	Name:        "effects_total",
	Description: "Side effects handed to the notifier, partitioned by kind and result.",
	Type:        "counter_vec",
	Args:        []string{"kind", "result"},
}

var (
	gatewayEventsVec     = NewMetric(gatewayEvents, domainSubsystem).(*prometheus.CounterVec)
	transitionsVec       = NewMetric(transitions, domainSubsystem).(*prometheus.CounterVec)
	sweepEntitiesVec     = NewMetric(sweepEntities, domainSubsystem).(*prometheus.CounterVec)
	effectsDispatchedVec = NewMetric(effectsDispatched, domainSubsystem).(*prometheus.CounterVec)
	processLatencyVec    = NewMetric(processLatency, domainSubsystem).(*prometheus.HistogramVec)
)

func init() {
	prometheus.MustRegister(gatewayEventsVec, transitionsVec, sweepEntitiesVec, effectsDispatchedVec, processLatencyVec)
}

func GatewayEvent(source, kind, outcome string) {
	gatewayEventsVec.WithLabelValues(source, kind, outcome).Inc()
}

func Transition(entity, action, to string) {
	transitionsVec.WithLabelValues(entity, action, to).Inc()
}

func SweepEntity(entity, result string) {
	sweepEntitiesVec.WithLabelValues(entity, result).Inc()
}

func EffectDispatched(kind, result string) {
	effectsDispatchedVec.WithLabelValues(kind, result).Inc()
}

// ObserveProcess records the latency of a named reconciliation or sweep step.
func ObserveProcess(typ, subtype string, start time.Time) {
	processLatencyVec.WithLabelValues(typ, subtype).Observe(MillisecondsSince(start))
}
