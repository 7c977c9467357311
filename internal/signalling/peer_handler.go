package signalling

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Anif7/mediasoup2/internal/api"
	"github.com/Anif7/mediasoup2/internal/config"
	"github.com/Anif7/mediasoup2/internal/domain"
	"github.com/Anif7/mediasoup2/internal/metrics"
	"github.com/Anif7/mediasoup2/internal/service"
	"github.com/gofiber/contrib/websocket"
)

type handlerFunc func(peer *domain.Peer, payload json.RawMessage) (*api.Envelope, error)

// PeerHandler runs the per-connection signaling loop: it registers the peer,
// reads frames, dispatches them by type and answers on the same connection.
// Handler errors never kill the connection; they come back to the requester
// as an error frame.
type PeerHandler struct {
	config        *config.AppConfig
	subscriptions *service.SubscriptionService
	lifecycle     *service.LifecycleService
	sessions      *SessionHandler
	peers         domain.PeerRegistry
	handlers      map[api.MessageType]handlerFunc
}

func NewPeerHandler(
	cfg *config.AppConfig,
	subscriptions *service.SubscriptionService,
	lifecycle *service.LifecycleService,
	sessions *SessionHandler,
	peers domain.PeerRegistry,
) *PeerHandler {
	h := &PeerHandler{
		config:        cfg,
		subscriptions: subscriptions,
		lifecycle:     lifecycle,
		sessions:      sessions,
		peers:         peers,
	}
	h.handlers = map[api.MessageType]handlerFunc{
		api.MessageTypeGetRouterRtpCapabilities: h.handleGetRouterRtpCapabilities,
		api.MessageTypeJoinRoom:                 h.handleJoinRoom,
		api.MessageTypeCreateTransport:          h.handleCreateTransport,
		api.MessageTypeConnectTransport:         h.handleConnectTransport,
		api.MessageTypeProduce:                  h.handleProduce,
		api.MessageTypeConsume:                  h.handleConsume,
		api.MessageTypeResumeConsumer:           h.handleResumeConsumer,
		api.MessageTypeCloseProducer:            h.handleCloseProducer,
		api.MessageTypeCloseConsumer:            h.handleCloseConsumer,
		api.MessageTypePong:                     h.handlePong,
	}
	return h
}

// HandleSocket blocks until the connection closes. Everything registered here
// is torn down in reverse order, with the disconnect cascade running before
// the outbound loop stops so departure notifications still reach the room.
func (h *PeerHandler) HandleSocket(c *websocket.Conn) {
	session := h.sessions.Register(c)
	defer session.Cleanup()

	pingInterval := time.Duration(h.config.Server.PingInterval) * time.Second
	loop := NewConnectionLoop(session.Socket, session.SocketID, pingInterval)
	loop.Start()
	defer loop.Stop()

	peer := h.peers.Register(loop)
	metrics.ActivePeers.Inc()
	metrics.PeersConnectedTotal.Inc()
	defer metrics.ActivePeers.Dec()
	defer h.lifecycle.Disconnect(peer.ID)

	loop.Send(api.NewMessage(api.MessageTypeWelcome, api.WelcomePayload{
		PeerID:       peer.ID,
		PingInterval: h.config.Server.PingInterval,
	}))
	slog.Info("peer connected", "peerID", peer.ID, "socketID", session.SocketID)

	for {
		var env api.Envelope
		if err := session.Socket.ReadJSON(&env); err != nil {
			slog.Debug("peer disconnected", "peerID", peer.ID, "error", err)
			break
		}
		if reply := h.processMessage(peer, env); reply != nil {
			loop.Send(*reply)
			metrics.SignallingMessagesTotal.WithLabelValues(string(reply.Type), "out").Inc()
		}
	}
}

func (h *PeerHandler) processMessage(peer *domain.Peer, env api.Envelope) *api.Envelope {
	metrics.SignallingMessagesTotal.WithLabelValues(string(env.Type), "in").Inc()

	handler, ok := h.handlers[env.Type]
	if !ok {
		return h.errorReply(peer, fmt.Errorf("unknown message type %q", env.Type))
	}

	reply, err := handler(peer, env.Payload)
	if err != nil {
		return h.errorReply(peer, err)
	}
	return reply
}

func (h *PeerHandler) errorReply(peer *domain.Peer, err error) *api.Envelope {
	if service.IsNotFound(err) {
		slog.Debug("request failed", "peerID", peer.ID, "error", err)
	} else {
		slog.Warn("request failed", "peerID", peer.ID, "error", err)
	}
	metrics.ErrorRepliesTotal.Inc()
	env := api.NewErrorMessage(err.Error())
	return &env
}

func decode[T any](messageType api.MessageType, payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, fmt.Errorf("missing payload for %q", messageType)
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("malformed payload for %q: %w", messageType, err)
	}
	return v, nil
}

func reply(t api.MessageType, payload any) (*api.Envelope, error) {
	env := api.NewMessage(t, payload)
	return &env, nil
}

func (h *PeerHandler) handleGetRouterRtpCapabilities(_ *domain.Peer, _ json.RawMessage) (*api.Envelope, error) {
	return reply(api.MessageTypeRouterRtpCapabilities, api.RouterRtpCapabilitiesPayload{
		Capabilities: h.subscriptions.RouterCapabilities(),
	})
}

func (h *PeerHandler) handleJoinRoom(peer *domain.Peer, payload json.RawMessage) (*api.Envelope, error) {
	req, err := decode[api.JoinRoomPayload](api.MessageTypeJoinRoom, payload)
	if err != nil {
		return nil, err
	}
	if req.RoomID == "" {
		return nil, fmt.Errorf("joinRoom requires a roomId")
	}

	result, err := h.subscriptions.JoinRoom(peer, req.RoomID, req.RtpCapabilities)
	if err != nil {
		return nil, err
	}

	existing := make([]api.PeerProducers, 0, len(result.ExistingProducers))
	for _, member := range result.ExistingProducers {
		refs := make([]api.ProducerRef, 0, len(member.Producers))
		for _, producer := range member.Producers {
			refs = append(refs, api.ProducerRef{ProducerID: producer.ID, Kind: producer.Kind})
		}
		existing = append(existing, api.PeerProducers{PeerID: member.PeerID, Producers: refs})
	}

	return reply(api.MessageTypeRoomJoined, api.RoomJoinedPayload{
		RoomID:            result.RoomID,
		Peers:             result.Peers,
		ExistingProducers: existing,
	})
}

func (h *PeerHandler) handleCreateTransport(peer *domain.Peer, payload json.RawMessage) (*api.Envelope, error) {
	req, err := decode[api.CreateTransportPayload](api.MessageTypeCreateTransport, payload)
	if err != nil {
		return nil, err
	}

	info, err := h.subscriptions.CreateTransport(peer, req.Direction)
	if err != nil {
		return nil, err
	}

	return reply(api.MessageTypeTransportCreated, api.TransportCreatedPayload{
		TransportID:    info.ID,
		Direction:      info.Direction,
		ICEParameters:  info.ICEParameters,
		ICECandidates:  info.ICECandidates,
		DTLSParameters: info.DTLSParameters,
	})
}

func (h *PeerHandler) handleConnectTransport(peer *domain.Peer, payload json.RawMessage) (*api.Envelope, error) {
	req, err := decode[api.ConnectTransportPayload](api.MessageTypeConnectTransport, payload)
	if err != nil {
		return nil, err
	}

	info, err := h.subscriptions.ConnectTransport(peer, req.TransportID, req.DTLSParameters)
	if err != nil {
		return nil, err
	}

	return reply(api.MessageTypeTransportConnected, api.TransportConnectedPayload{TransportID: info.ID})
}

func (h *PeerHandler) handleProduce(peer *domain.Peer, payload json.RawMessage) (*api.Envelope, error) {
	req, err := decode[api.ProducePayload](api.MessageTypeProduce, payload)
	if err != nil {
		return nil, err
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("unknown media kind %q", req.Kind)
	}

	info, err := h.subscriptions.Produce(peer, req.TransportID, req.Kind, req.RtpParameters)
	if err != nil {
		return nil, err
	}

	return reply(api.MessageTypeProduced, api.ProducedPayload{ProducerID: info.ID, Kind: info.Kind})
}

func (h *PeerHandler) handleConsume(peer *domain.Peer, payload json.RawMessage) (*api.Envelope, error) {
	req, err := decode[api.ConsumePayload](api.MessageTypeConsume, payload)
	if err != nil {
		return nil, err
	}

	consumer, producerPeerID, err := h.subscriptions.Consume(peer, req.ProducerID, req.RtpCapabilities)
	if err != nil {
		return nil, err
	}

	return reply(api.MessageTypeConsumed, api.ConsumedPayload{
		ConsumerID:     consumer.ID,
		ProducerID:     consumer.ProducerID,
		ProducerPeerID: producerPeerID,
		Kind:           consumer.Kind,
		RtpParameters:  consumer.RtpParameters,
	})
}

func (h *PeerHandler) handleResumeConsumer(peer *domain.Peer, payload json.RawMessage) (*api.Envelope, error) {
	req, err := decode[api.ResumeConsumerPayload](api.MessageTypeResumeConsumer, payload)
	if err != nil {
		return nil, err
	}

	if err := h.subscriptions.ResumeConsumer(peer, req.ConsumerID); err != nil {
		return nil, err
	}

	return reply(api.MessageTypeConsumerResumed, api.ConsumerResumedPayload{ConsumerID: req.ConsumerID})
}

func (h *PeerHandler) handleCloseProducer(peer *domain.Peer, payload json.RawMessage) (*api.Envelope, error) {
	req, err := decode[api.CloseProducerPayload](api.MessageTypeCloseProducer, payload)
	if err != nil {
		return nil, err
	}

	if err := h.subscriptions.CloseProducer(peer, req.ProducerID); err != nil {
		return nil, err
	}

	return reply(api.MessageTypeProducerClosed, api.ProducerClosedPayload{ProducerID: req.ProducerID})
}

func (h *PeerHandler) handleCloseConsumer(peer *domain.Peer, payload json.RawMessage) (*api.Envelope, error) {
	req, err := decode[api.CloseConsumerPayload](api.MessageTypeCloseConsumer, payload)
	if err != nil {
		return nil, err
	}

	if err := h.subscriptions.CloseConsumer(peer, req.ConsumerID); err != nil {
		return nil, err
	}

	return reply(api.MessageTypeConsumerClosed, api.ConsumerClosedPayload{ConsumerID: req.ConsumerID})
}

func (h *PeerHandler) handlePong(peer *domain.Peer, _ json.RawMessage) (*api.Envelope, error) {
	slog.Debug("received pong", "peerID", peer.ID)
	return nil, nil
}
