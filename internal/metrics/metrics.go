// Package metrics holds the Prometheus collectors for the relay server.
// Scraped via /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	connectionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_connections_failed_total",
		Help: "Total number of failed connection attempts",
	})

	// Gate metrics
	authRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_auth_rejections_total",
		Help: "Frames rejected by the access gate, by event and reason",
	}, []string{"event", "reason"})

	// Message metrics
	messagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_received_total",
		Help: "Total number of frames received from clients",
	})

	messagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Total number of frames sent to clients",
	})

	messagesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_persisted_total",
		Help: "Total number of chat messages saved through the directory",
	})

	// Relay metrics
	relayState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_relay_state",
		Help: "Relay subscriber state (0=disconnected, 1=connecting, 2=listening, 3=degraded)",
	})

	relayPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_published_total",
		Help: "Total envelopes published onto the shared bus",
	})

	relayPublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_publish_failures_total",
		Help: "Total envelope publishes that failed because the bus was unavailable",
	})

	relayReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_received_total",
		Help: "Total envelopes received from the shared bus",
	})

	relayDecodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_decode_failures_total",
		Help: "Total bus payloads dropped because they could not be decoded",
	})

	// Local delivery metrics
	deliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_deliveries_total",
		Help: "Total envelope deliveries to locally subscribed connections",
	})

	droppedDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_dropped_deliveries_total",
		Help: "Total deliveries dropped, by reason",
	}, []string{"reason"})

	slowClientsDisconnected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_slow_clients_disconnected_total",
		Help: "Total clients disconnected for not draining their send queue",
	})

	rateLimitedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_rate_limited_frames_total",
		Help: "Total inbound frames dropped by the per-connection rate limiter",
	})

	// Worker pool metrics
	workerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_worker_queue_depth",
		Help: "Current number of fan-out tasks waiting in the worker pool queue",
	})

	workerTasksDropped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_worker_tasks_dropped",
		Help: "Fan-out tasks dropped so far because the worker pool queue was full",
	})
)

func init() {
	prometheus.MustRegister(
		connectionsTotal,
		connectionsActive,
		connectionsFailed,
		authRejections,
		messagesReceived,
		messagesSent,
		messagesPersisted,
		relayState,
		relayPublished,
		relayPublishFailures,
		relayReceived,
		relayDecodeFailures,
		deliveries,
		droppedDeliveries,
		slowClientsDisconnected,
		rateLimitedFrames,
		workerQueueDepth,
		workerTasksDropped,
	)
}

func ConnectionOpened()                 { connectionsTotal.Inc(); connectionsActive.Inc() }
func ConnectionClosed()                 { connectionsActive.Dec() }
func ConnectionFailed()                 { connectionsFailed.Inc() }
func AuthRejected(event, reason string) { authRejections.WithLabelValues(event, reason).Inc() }
func FrameReceived()                    { messagesReceived.Inc() }
func FrameSent()                        { messagesSent.Inc() }
func MessagePersisted()                 { messagesPersisted.Inc() }
func SetRelayState(state int32)         { relayState.Set(float64(state)) }
func RelayPublished()                   { relayPublished.Inc() }
func RelayPublishFailed()               { relayPublishFailures.Inc() }
func RelayReceived()                    { relayReceived.Inc() }
func RelayDecodeFailed()                { relayDecodeFailures.Inc() }
func Delivered()                        { deliveries.Inc() }
func DroppedDelivery(reason string)     { droppedDeliveries.WithLabelValues(reason).Inc() }
func SlowClientDisconnected()           { slowClientsDisconnected.Inc() }
func RateLimited()                      { rateLimitedFrames.Inc() }
func SetWorkerQueueDepth(n int)         { workerQueueDepth.Set(float64(n)) }
func SetWorkerTasksDropped(n int64)     { workerTasksDropped.Set(float64(n)) }

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
