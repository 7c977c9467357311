package service

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Anif7/mediasoup2/internal/domain"
	"github.com/Anif7/mediasoup2/internal/metrics"
	"github.com/pion/webrtc/v4"
)

// PeerProducers groups one member's open producers for the join snapshot.
type PeerProducers struct {
	PeerID    string
	Producers []domain.ProducerInfo
}

// JoinResult is what the joining peer gets back: the members that were
// already present and their currently open producers.
type JoinResult struct {
	RoomID            string
	Peers             []string
	ExistingProducers []PeerProducers
}

// SubscriptionService matches peers to producers. It owns the ordering
// guarantee of the protocol: every peer eventually consumes every producer in
// its room, no matter in which order joins, produces and transport setups
// interleave. Producer references that arrive before the peer's receive
// transport exists wait on the peer's pending queue, which is drained exactly
// once when the transport connects.
type SubscriptionService struct {
	engine domain.MediaEngine
	peers  domain.PeerRegistry
	rooms  domain.RoomRegistry
	events domain.EventSink
	logger *slog.Logger
}

func NewSubscriptionService(
	engine domain.MediaEngine,
	peers domain.PeerRegistry,
	rooms domain.RoomRegistry,
	events domain.EventSink,
	logger *slog.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		engine: engine,
		peers:  peers,
		rooms:  rooms,
		events: events,
		logger: logger,
	}
}

func (s *SubscriptionService) RouterCapabilities() domain.RtpCapabilities {
	return s.engine.Capabilities()
}

// JoinRoom inserts the peer into the room and returns the snapshot captured
// before insertion. Every existing producer is either consumed right away or
// queued on the new peer's pending queue; every existing member is notified
// of the new peer.
func (s *SubscriptionService) JoinRoom(peer *domain.Peer, roomID string, caps *domain.RtpCapabilities) (*JoinResult, error) {
	if err := peer.JoinRoom(roomID); err != nil {
		return nil, err
	}

	members, err := s.rooms.Join(roomID, peer.ID)
	if err != nil {
		peer.LeaveRoom()
		return nil, fmt.Errorf("join room %q: %w", roomID, err)
	}
	metrics.ActiveRooms.Set(float64(s.rooms.Count()))

	// Stored only once the join is accepted; a rejected join must not touch
	// the capabilities of the room the peer is already in.
	if caps != nil {
		peer.SetRtpCapabilities(*caps)
	}

	result := &JoinResult{RoomID: roomID, Peers: members}

	for _, memberID := range members {
		member, err := s.peers.Get(memberID)
		if err != nil {
			continue
		}
		producers := member.Producers()
		if len(producers) == 0 {
			continue
		}
		result.ExistingProducers = append(result.ExistingProducers, PeerProducers{
			PeerID:    memberID,
			Producers: producers,
		})
		for _, producer := range producers {
			s.subscribeOrEnqueue(peer, memberID, producer)
		}
	}

	for _, memberID := range members {
		s.events.NewPeer(memberID, peer.ID)
	}

	s.logger.Info("peer joined room", "peerID", peer.ID, "roomID", roomID, "existingMembers", len(members))
	return result, nil
}

// CreateTransport asks the engine for a transport and records it on the peer.
// A peer holds at most one transport per direction; on violation the freshly
// created engine transport is closed again before the error is returned.
func (s *SubscriptionService) CreateTransport(peer *domain.Peer, direction domain.TransportDirection) (domain.TransportInfo, error) {
	if !direction.Valid() {
		return domain.TransportInfo{}, fmt.Errorf("invalid transport direction %q", direction)
	}

	info, err := s.engine.CreateTransport(direction)
	if err != nil {
		return domain.TransportInfo{}, fmt.Errorf("create %s transport: %w", direction, err)
	}

	if _, err := s.peers.Get(peer.ID); err != nil {
		_ = s.engine.CloseTransport(info.ID)
		return domain.TransportInfo{}, domain.ErrPeerNotFound
	}
	if err := peer.AddTransport(info); err != nil {
		_ = s.engine.CloseTransport(info.ID)
		return domain.TransportInfo{}, err
	}
	return info, nil
}

// ConnectTransport finalizes the handshake. Connecting the receive transport
// is the single drain trigger for the pending subscription queue.
func (s *SubscriptionService) ConnectTransport(peer *domain.Peer, transportID string, dtls webrtc.DTLSParameters) (domain.TransportInfo, error) {
	info, ok := peer.Transport(transportID)
	if !ok {
		return domain.TransportInfo{}, domain.ErrTransportNotFound
	}

	if err := s.engine.ConnectTransport(transportID, dtls); err != nil {
		return domain.TransportInfo{}, fmt.Errorf("connect transport %s: %w", transportID, err)
	}

	// The engine call may suspend; the peer can be gone by now.
	if _, err := s.peers.Get(peer.ID); err != nil {
		return domain.TransportInfo{}, domain.ErrPeerNotFound
	}

	direction, err := peer.MarkTransportConnected(transportID)
	if err != nil {
		return domain.TransportInfo{}, err
	}

	if direction == domain.TransportDirectionRecv {
		s.drainPending(peer)
	}
	return info, nil
}

// Produce registers a new producer and fans it out to the room: members with
// a ready receive transport consume immediately, the rest get the reference
// queued.
func (s *SubscriptionService) Produce(peer *domain.Peer, transportID string, kind domain.MediaKind, params domain.RtpParameters) (domain.ProducerInfo, error) {
	roomID := peer.RoomID()
	if roomID == "" {
		return domain.ProducerInfo{}, domain.ErrNotJoined
	}
	transport, ok := peer.Transport(transportID)
	if !ok {
		return domain.ProducerInfo{}, domain.ErrTransportNotFound
	}
	if transport.Direction != domain.TransportDirectionSend {
		return domain.ProducerInfo{}, domain.ErrWrongDirection
	}

	info, err := s.engine.Produce(transportID, kind, params)
	if err != nil {
		return domain.ProducerInfo{}, fmt.Errorf("produce %s: %w", kind, err)
	}

	if _, err := s.peers.Get(peer.ID); err != nil {
		_ = s.engine.CloseProducer(info.ID)
		return domain.ProducerInfo{}, domain.ErrPeerNotFound
	}

	peer.AddProducer(info)
	metrics.ActiveProducers.WithLabelValues(string(kind)).Inc()
	metrics.ProducersCreatedTotal.WithLabelValues(string(kind)).Inc()
	s.logger.Info("producer created", "peerID", peer.ID, "producerID", info.ID, "kind", kind)

	members, err := s.rooms.Members(roomID)
	if err != nil {
		return info, nil
	}
	for _, memberID := range members {
		if memberID == peer.ID {
			continue
		}
		s.events.NewProducer(memberID, peer.ID, info)

		member, err := s.peers.Get(memberID)
		if err != nil {
			continue
		}
		s.subscribeOrEnqueue(member, peer.ID, info)
	}
	return info, nil
}

// Consume handles an explicit consume request. A duplicate request for a
// producer the peer already consumes returns the existing consumer.
func (s *SubscriptionService) Consume(peer *domain.Peer, producerID string, caps *domain.RtpCapabilities) (domain.ConsumerInfo, string, error) {
	roomID := peer.RoomID()
	if roomID == "" {
		return domain.ConsumerInfo{}, "", domain.ErrNotJoined
	}

	owner, _, err := s.peers.FindProducer(producerID)
	if err != nil {
		return domain.ConsumerInfo{}, "", err
	}
	if owner.RoomID() != roomID {
		return domain.ConsumerInfo{}, "", domain.ErrProducerNotFound
	}

	if caps != nil {
		peer.SetRtpCapabilities(*caps)
	}

	consumer, _, err := s.consumeNow(peer, owner.ID, producerID)
	if err != nil {
		return domain.ConsumerInfo{}, "", err
	}
	return consumer, owner.ID, nil
}

func (s *SubscriptionService) ResumeConsumer(peer *domain.Peer, consumerID string) error {
	if _, ok := peer.Consumer(consumerID); !ok {
		return domain.ErrConsumerNotFound
	}
	if err := s.engine.ResumeConsumer(consumerID); err != nil {
		return fmt.Errorf("resume consumer %s: %w", consumerID, err)
	}
	return nil
}

// CloseProducer closes the producer and every consumer other members hold for
// it, notifying each affected member.
func (s *SubscriptionService) CloseProducer(peer *domain.Peer, producerID string) error {
	info, ok := peer.Producer(producerID)
	if !ok {
		return domain.ErrProducerNotFound
	}

	if err := s.engine.CloseProducer(producerID); err != nil {
		return fmt.Errorf("close producer %s: %w", producerID, err)
	}
	peer.RemoveProducer(producerID)
	metrics.ActiveProducers.WithLabelValues(string(info.Kind)).Dec()

	roomID := peer.RoomID()
	if roomID == "" {
		return nil
	}
	members, err := s.rooms.Members(roomID)
	if err != nil {
		return nil
	}
	for _, memberID := range members {
		if memberID == peer.ID {
			continue
		}
		member, err := s.peers.Get(memberID)
		if err != nil {
			continue
		}
		member.PrunePendingProducer(producerID)
		if consumer, _, ok := member.ConsumerForProducer(producerID); ok {
			member.RemoveConsumer(consumer.ID)
			metrics.ActiveConsumers.WithLabelValues(string(consumer.Kind)).Dec()
			s.events.ConsumerClosed(memberID, consumer.ID)
		}
	}
	return nil
}

func (s *SubscriptionService) CloseConsumer(peer *domain.Peer, consumerID string) error {
	consumer, ok := peer.Consumer(consumerID)
	if !ok {
		return domain.ErrConsumerNotFound
	}
	if err := s.engine.CloseConsumer(consumerID); err != nil {
		return fmt.Errorf("close consumer %s: %w", consumerID, err)
	}
	peer.RemoveConsumer(consumerID)
	metrics.ActiveConsumers.WithLabelValues(string(consumer.Kind)).Dec()
	return nil
}

// subscribeOrEnqueue is the fan-out step of producer creation and room join:
// consume immediately if the target's receive transport is ready, queue the
// reference otherwise.
func (s *SubscriptionService) subscribeOrEnqueue(target *domain.Peer, producerPeerID string, producer domain.ProducerInfo) {
	if _, _, ok := target.ConsumerForProducer(producer.ID); ok {
		return
	}

	if target.EnqueuePendingIfNotReady(domain.PendingSubscription{
		ProducerPeerID: producerPeerID,
		ProducerID:     producer.ID,
		Kind:           producer.Kind,
	}) {
		metrics.PendingSubscriptionsQueuedTotal.Inc()
		return
	}

	consumer, created, err := s.consumeNow(target, producerPeerID, producer.ID)
	if err != nil {
		// A single failed subscription must not abort the fan-out.
		s.logger.Debug("skipping subscription", "peerID", target.ID, "producerID", producer.ID, "error", err)
		return
	}
	if created {
		s.events.ConsumerCreated(target.ID, producerPeerID, consumer)
	}
}

// drainPending turns every queued producer reference into a consume request,
// in FIFO order, and clears the queue.
func (s *SubscriptionService) drainPending(peer *domain.Peer) {
	for _, sub := range peer.DrainPending() {
		metrics.PendingSubscriptionsDrainedTotal.Inc()
		consumer, created, err := s.consumeNow(peer, sub.ProducerPeerID, sub.ProducerID)
		if err != nil {
			s.logger.Debug("skipping queued subscription", "peerID", peer.ID, "producerID", sub.ProducerID, "error", err)
			continue
		}
		if created {
			s.events.ConsumerCreated(peer.ID, sub.ProducerPeerID, consumer)
		}
	}
}

// consumeNow creates a paused engine consumer for (target, producer). It is
// the single place that enforces the duplicate-subscription guard and the
// canConsume gate.
func (s *SubscriptionService) consumeNow(target *domain.Peer, producerPeerID, producerID string) (domain.ConsumerInfo, bool, error) {
	if existing, _, ok := target.ConsumerForProducer(producerID); ok {
		return existing, false, nil
	}

	caps, ok := target.RtpCapabilities()
	if !ok {
		return domain.ConsumerInfo{}, false, domain.ErrCannotConsume
	}
	if !s.engine.CanConsume(producerID, caps) {
		return domain.ConsumerInfo{}, false, domain.ErrCannotConsume
	}

	transport, ready := target.ConnectedTransport(domain.TransportDirectionRecv)
	if !ready {
		return domain.ConsumerInfo{}, false, domain.ErrTransportNotReady
	}

	consumer, err := s.engine.Consume(transport.ID, producerID, caps)
	if err != nil {
		return domain.ConsumerInfo{}, false, fmt.Errorf("consume producer %s: %w", producerID, err)
	}

	// The engine call may suspend; never bind a consumer to a peer that
	// disconnected in the meantime.
	if _, err := s.peers.Get(target.ID); err != nil || target.Closed() {
		_ = s.engine.CloseConsumer(consumer.ID)
		return domain.ConsumerInfo{}, false, domain.ErrPeerNotFound
	}

	winner, stored := target.AddConsumer(consumer, producerPeerID)
	if !stored {
		// Lost the race against a concurrent consume for the same producer.
		_ = s.engine.CloseConsumer(consumer.ID)
		return winner, false, nil
	}

	metrics.ActiveConsumers.WithLabelValues(string(consumer.Kind)).Inc()
	metrics.ConsumersCreatedTotal.WithLabelValues(string(consumer.Kind)).Inc()
	return consumer, true, nil
}

// IsNotFound reports whether err is one of the resource-not-found errors that
// only concern the requesting peer.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrTransportNotFound) ||
		errors.Is(err, domain.ErrProducerNotFound) ||
		errors.Is(err, domain.ErrConsumerNotFound) ||
		errors.Is(err, domain.ErrPeerNotFound)
}
