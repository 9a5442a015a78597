package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Protocol metrics
	messagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biolume_messages_received_total",
			Help: "Total number of messages received",
		},
		[]string{"role", "type"},
	)

	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biolume_messages_sent_total",
			Help: "Total number of messages sent successfully",
		},
		[]string{"role", "type"},
	)

	sendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biolume_send_failures_total",
			Help: "Total number of messages dropped because delivery failed",
		},
		[]string{"role", "type"},
	)

	parseFaultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biolume_parse_faults_total",
			Help: "Total number of malformed payloads discarded",
		},
		[]string{"role"},
	)

	// Evolution metrics
	mutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biolume_mutations_total",
			Help: "Total number of mutation operator applications",
		},
		[]string{"operator"},
	)

	executableLength = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "biolume_offspring_executable_length",
			Help:    "Executable length of mutated offspring",
			Buckets: prometheus.LinearBuckets(5, 1, 16),
		},
	)

	routeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "biolume_route_duration_seconds",
			Help:    "Time spent routing one inbound message",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	registrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "biolume_registry_size",
			Help: "Number of agents in the coordinator registry",
		},
	)

	// Agent metrics
	agentStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biolume_agent_steps_total",
			Help: "Total number of VM steps executed",
		},
		[]string{"agent"},
	)

	agentEnergy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "biolume_agent_energy",
			Help: "Current energy of an agent",
		},
		[]string{"agent"},
	)

	genomesReplacedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biolume_genomes_replaced_total",
			Help: "Total number of genomes received from the coordinator",
		},
		[]string{"agent"},
	)

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			messagesReceivedTotal,
			messagesSentTotal,
			sendFailuresTotal,
			parseFaultsTotal,
			mutationsTotal,
			executableLength,
			routeDuration,
			registrySize,
			agentStepsTotal,
			agentEnergy,
			genomesReplacedTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordMessageReceived counts an inbound message of msgType.
func RecordMessageReceived(role, msgType string) {
	messagesReceivedTotal.WithLabelValues(role, msgType).Inc()
}

// RecordSend counts an outbound message, successful or not.
func RecordSend(role, msgType string, err error) {
	if err != nil {
		sendFailuresTotal.WithLabelValues(role, msgType).Inc()
		return
	}
	messagesSentTotal.WithLabelValues(role, msgType).Inc()
}

// RecordParseFault counts a discarded malformed payload.
func RecordParseFault(role string) {
	parseFaultsTotal.WithLabelValues(role).Inc()
}

// RecordMutation counts one application of operator.
func RecordMutation(operator string, n int) {
	if n > 0 {
		mutationsTotal.WithLabelValues(operator).Add(float64(n))
	}
}

// RecordOffspring observes the executable length of a mutated genome.
func RecordOffspring(execLen int) {
	executableLength.Observe(float64(execLen))
}

// RecordRoute observes the routing time of one message.
func RecordRoute(msgType string, duration time.Duration) {
	routeDuration.WithLabelValues(msgType).Observe(duration.Seconds())
}

// SetRegistrySize sets the registry size gauge.
func SetRegistrySize(n int) {
	registrySize.Set(float64(n))
}

// RecordAgentStep counts one VM step and publishes the agent's energy.
func RecordAgentStep(agent string, energy float64) {
	agentStepsTotal.WithLabelValues(agent).Inc()
	agentEnergy.WithLabelValues(agent).Set(energy)
}

// RecordGenomeReplaced counts a genome delivered to agent.
func RecordGenomeReplaced(agent string) {
	genomesReplacedTotal.WithLabelValues(agent).Inc()
}
