package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "room_signalling_active_websocket_connections",
		Help: "Number of active WebSocket connections",
	})

	WebSocketConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "room_signalling_websocket_connections_total",
		Help: "Total number of WebSocket connections",
	})

	WebSocketDisconnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "room_signalling_websocket_disconnections_total",
		Help: "Total number of WebSocket disconnections",
	})

	ActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "room_signalling_active_peers",
		Help: "Number of registered peers",
	})

	PeersConnectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "room_signalling_peers_connected_total",
		Help: "Total number of peers connected",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "room_signalling_active_rooms",
		Help: "Number of rooms with at least one member",
	})

	ActiveProducers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "room_signalling_active_producers",
		Help: "Number of open producers",
	}, []string{"kind"}) // "audio" | "video"

	ProducersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "room_signalling_producers_created_total",
		Help: "Total number of producers created",
	}, []string{"kind"})

	ActiveConsumers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "room_signalling_active_consumers",
		Help: "Number of open consumers",
	}, []string{"kind"})

	ConsumersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "room_signalling_consumers_created_total",
		Help: "Total number of consumers created",
	}, []string{"kind"})

	PendingSubscriptionsQueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "room_signalling_pending_subscriptions_queued_total",
		Help: "Producer references queued because the receive transport was not ready",
	})

	PendingSubscriptionsDrainedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "room_signalling_pending_subscriptions_drained_total",
		Help: "Producer references drained into consume requests",
	})

	SignallingMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "room_signalling_messages_total",
		Help: "Total signaling messages",
	}, []string{"type", "direction"}) // direction: "in" | "out"

	ErrorRepliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "room_signalling_error_replies_total",
		Help: "Total error replies sent to clients",
	})

	ConfigReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "room_signalling_config_reloads_total",
		Help: "Number of configuration reloads",
	})

	StartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "room_signalling_start_time_seconds",
		Help: "Server start time in Unix seconds",
	})
)
