package service

import (
	"log/slog"

	"github.com/Anif7/mediasoup2/internal/domain"
	"github.com/Anif7/mediasoup2/internal/metrics"
)

// LifecycleService runs the disconnect cascade: engine transports first (the
// engine cascades those into its producers and consumers, but the bookkeeping
// is removed independently), then room membership with the peerLeft
// broadcast, then the registry entry last so every notification can still
// resolve the peer.
type LifecycleService struct {
	engine domain.MediaEngine
	peers  domain.PeerRegistry
	rooms  domain.RoomRegistry
	events domain.EventSink
	logger *slog.Logger
}

func NewLifecycleService(
	engine domain.MediaEngine,
	peers domain.PeerRegistry,
	rooms domain.RoomRegistry,
	events domain.EventSink,
	logger *slog.Logger,
) *LifecycleService {
	return &LifecycleService{
		engine: engine,
		peers:  peers,
		rooms:  rooms,
		events: events,
		logger: logger,
	}
}

// Disconnect is idempotent: a second call for the same peer, or a call racing
// an in-flight request, is a no-op.
func (s *LifecycleService) Disconnect(peerID string) {
	peer, err := s.peers.Get(peerID)
	if err != nil {
		return
	}
	if !peer.MarkClosed() {
		return
	}

	for _, transport := range peer.Transports() {
		if err := s.engine.CloseTransport(transport.ID); err != nil {
			s.logger.Warn("failed to close transport", "peerID", peerID, "transportID", transport.ID, "error", err)
		}
	}

	producers := peer.Producers()
	for _, producer := range producers {
		metrics.ActiveProducers.WithLabelValues(string(producer.Kind)).Dec()
	}
	for _, consumer := range peer.Consumers() {
		metrics.ActiveConsumers.WithLabelValues(string(consumer.Kind)).Dec()
	}

	roomID := peer.LeaveRoom()
	if roomID != "" {
		remaining := s.remainingMembers(roomID, peerID)

		if _, err := s.rooms.Leave(roomID, peerID); err != nil {
			s.logger.Warn("failed to leave room", "peerID", peerID, "roomID", roomID, "error", err)
		}
		metrics.ActiveRooms.Set(float64(s.rooms.Count()))

		for _, memberID := range remaining {
			member, err := s.peers.Get(memberID)
			if err != nil {
				continue
			}
			member.PrunePendingFromPeer(peerID)
			for _, producer := range producers {
				if consumer, _, ok := member.ConsumerForProducer(producer.ID); ok {
					member.RemoveConsumer(consumer.ID)
					metrics.ActiveConsumers.WithLabelValues(string(consumer.Kind)).Dec()
					s.events.ConsumerClosed(memberID, consumer.ID)
				}
			}
			s.events.PeerLeft(memberID, peerID)
		}
	}

	s.peers.Remove(peerID)
	s.logger.Info("peer disconnected", "peerID", peerID, "roomID", roomID)
}

func (s *LifecycleService) remainingMembers(roomID, peerID string) []string {
	members, err := s.rooms.Members(roomID)
	if err != nil {
		return nil
	}
	remaining := members[:0]
	for _, id := range members {
		if id != peerID {
			remaining = append(remaining, id)
		}
	}
	return remaining
}
