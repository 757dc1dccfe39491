package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the Breakpoint multiplayer runtime.
//
// Naming convention: namespace_subsystem_name
// - namespace: breakpoint (application-level grouping)
// - subsystem: session, room, gameloop, event, ingest, relay (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, participants)
// - Counter: Cumulative events (messages processed, errors)
// - Histogram: Latency distributions (processing time)

var (
	// ActiveSessions tracks the current number of active WebSocket sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "breakpoint",
		Subsystem: "session",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket sessions",
	})

	// ActiveRooms tracks the current number of active rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "breakpoint",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the number of members in each room, keyed by room code.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "breakpoint",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_code"})

	// SessionFrames tracks the total number of wire frames processed per session.
	SessionFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "breakpoint",
		Subsystem: "session",
		Name:      "frames_total",
		Help:      "Total wire frames processed",
	}, []string{"frame_type", "direction", "status"})

	// FrameProcessingDuration tracks the time spent decoding/routing a frame.
	FrameProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "breakpoint",
		Subsystem: "session",
		Name:      "frame_processing_seconds",
		Help:      "Time spent processing a wire frame",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"frame_type"})

	// GameLoopTicks tracks the total number of simulation ticks run per room.
	GameLoopTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "breakpoint",
		Subsystem: "gameloop",
		Name:      "ticks_total",
		Help:      "Total simulation ticks executed",
	}, []string{"game"})

	// GameLoopTickDuration tracks the wall-clock time spent inside one tick.
	GameLoopTickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "breakpoint",
		Subsystem: "gameloop",
		Name:      "tick_duration_seconds",
		Help:      "Time spent executing one simulation tick",
		Buckets:   prometheus.DefBuckets,
	}, []string{"game"})

	// GameLoopPanics counts recovered panics in a room's game-loop task
	// (§7 supervision: one room's panic must not affect another's).
	GameLoopPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "breakpoint",
		Subsystem: "gameloop",
		Name:      "panics_total",
		Help:      "Total panics recovered from a room's game-loop task",
	}, []string{"game"})

	// EventsStored tracks the total number of events inserted into the event store.
	EventsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "breakpoint",
		Subsystem: "event",
		Name:      "stored_total",
		Help:      "Total events inserted into the event store",
	}, []string{"priority"})

	// EventClaims tracks claim attempts against stored events.
	EventClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "breakpoint",
		Subsystem: "event",
		Name:      "claims_total",
		Help:      "Total claim attempts against events",
	}, []string{"result"})

	// EventsDismissed tracks events dismissed from the event store, by reason.
	EventsDismissed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "breakpoint",
		Subsystem: "event",
		Name:      "dismissed_total",
		Help:      "Total events dismissed from the event store",
	}, []string{"reason"})

	// AlertFanoutDrops tracks sessions dropped from alert fan-out due to lag.
	AlertFanoutDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "breakpoint",
		Subsystem: "event",
		Name:      "fanout_drops_total",
		Help:      "Total subscribers disconnected for falling behind the broadcast lag threshold",
	}, []string{"subscriber_kind"})

	// IngestRequests tracks ingestion API requests.
	IngestRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "breakpoint",
		Subsystem: "ingest",
		Name:      "requests_total",
		Help:      "Total ingestion API requests",
	}, []string{"endpoint", "status"})

	// RelayClients tracks active client connections handled by the relay.
	RelayClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "breakpoint",
		Subsystem: "relay",
		Name:      "clients_active",
		Help:      "Current number of active relay client connections",
	}, []string{"room_code"})

	// CircuitBreakerState tracks the current state of the circuit breaker.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "breakpoint",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by the circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "breakpoint",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests that exceeded the rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "breakpoint",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks the total number of requests checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "breakpoint",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal tracks the total number of Redis operations.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "breakpoint",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "breakpoint",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncSession() {
	ActiveSessions.Inc()
}

func DecSession() {
	ActiveSessions.Dec()
}
