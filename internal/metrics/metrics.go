// Package metrics holds the Prometheus collectors for foraging and fault
// detection. Collectors register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FoodCollected counts deposits at the nest by food kind.
	FoodCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpfa_food_collected_total",
		Help: "Food items deposited at the nest by kind",
	}, []string{"kind"})

	// Misclassified counts nest-side detection mistakes.
	Misclassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpfa_food_misclassified_total",
		Help: "Deposits whose real/fake check came out wrong",
	}, []string{"kind"})

	// PheromonesLaid counts trails registered by real/fake origin.
	PheromonesLaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpfa_pheromones_laid_total",
		Help: "Pheromone trails laid by food origin",
	}, []string{"origin"})

	// ZonesCreated counts quarantine zones created at the nest.
	ZonesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cpfa_quarantine_zones_created_total",
		Help: "Quarantine zones created from detected decoys",
	})

	// StateTransitions counts foraging state changes.
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpfa_state_transitions_total",
		Help: "Foraging state transitions",
	}, []string{"from", "to"})

	// ZoneRetryFallbacks counts random wall targets that ignored zones
	// after the retry cap.
	ZoneRetryFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cpfa_zone_retry_fallbacks_total",
		Help: "Random targets chosen without zone filtering after the retry cap",
	})

	// MessagesDropped counts datagrams rejected by the dispatcher.
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fd_messages_dropped_total",
		Help: "Datagrams dropped by reason",
	}, []string{"reason"})

	// MessagesDelivered counts bus deliveries.
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_messages_delivered_total",
		Help: "Datagrams delivered to in-range receivers",
	})

	// DiffusionExchanges counts cell packets sent, by initiated/reply.
	DiffusionExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fd_diffusion_exchanges_total",
		Help: "Cell packets sent during diffusion",
	}, []string{"kind"})

	// SolveDuration tracks wall time of a full CRM integration.
	SolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fd_crm_solve_duration_seconds",
		Help:    "Wall time of one CRM integration",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	})

	// SolveIterations counts Forward Euler iterations.
	SolveIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_crm_iterations_total",
		Help: "Forward Euler iterations performed",
	})

	// FaultsDetected counts robots whose fault flag latched, by whether the
	// robot really carried a fault.
	FaultsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fd_faults_detected_total",
		Help: "Robots flagged faulty by consensus",
	}, []string{"truth"})

	// FaultsInjected counts injected faults by type.
	FaultsInjected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fd_faults_injected_total",
		Help: "Faults injected by type",
	}, []string{"type"})
)
