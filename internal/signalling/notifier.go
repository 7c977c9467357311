package signalling

import (
	"github.com/Anif7/mediasoup2/internal/api"
	"github.com/Anif7/mediasoup2/internal/domain"
	"github.com/Anif7/mediasoup2/internal/metrics"
)

// Notifier turns cross-peer events from the services into protocol frames and
// delivers them through the target peer's own Sender. A peer that is already
// gone from the registry just misses the notification.
type Notifier struct {
	peers domain.PeerRegistry
}

func NewNotifier(peers domain.PeerRegistry) *Notifier {
	return &Notifier{peers: peers}
}

var _ domain.EventSink = (*Notifier)(nil)

func (n *Notifier) NewPeer(toPeerID, peerID string) {
	n.send(toPeerID, api.NewMessage(api.MessageTypeNewPeer, api.NewPeerPayload{PeerID: peerID}))
}

func (n *Notifier) PeerLeft(toPeerID, peerID string) {
	n.send(toPeerID, api.NewMessage(api.MessageTypePeerLeft, api.PeerLeftPayload{PeerID: peerID}))
}

func (n *Notifier) NewProducer(toPeerID, producerPeerID string, producer domain.ProducerInfo) {
	n.send(toPeerID, api.NewMessage(api.MessageTypeNewProducer, api.NewProducerPayload{
		PeerID:     producerPeerID,
		ProducerID: producer.ID,
		Kind:       producer.Kind,
	}))
}

func (n *Notifier) ConsumerCreated(toPeerID, producerPeerID string, consumer domain.ConsumerInfo) {
	n.send(toPeerID, api.NewMessage(api.MessageTypeConsumed, api.ConsumedPayload{
		ConsumerID:     consumer.ID,
		ProducerID:     consumer.ProducerID,
		ProducerPeerID: producerPeerID,
		Kind:           consumer.Kind,
		RtpParameters:  consumer.RtpParameters,
	}))
}

func (n *Notifier) ConsumerClosed(toPeerID, consumerID string) {
	n.send(toPeerID, api.NewMessage(api.MessageTypeConsumerClosed, api.ConsumerClosedPayload{ConsumerID: consumerID}))
}

func (n *Notifier) send(peerID string, env api.Envelope) {
	peer, err := n.peers.Get(peerID)
	if err != nil {
		return
	}
	peer.Send(env)
	metrics.SignallingMessagesTotal.WithLabelValues(string(env.Type), "out").Inc()
}
