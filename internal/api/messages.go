package api

import (
	"encoding/json"

	"github.com/Anif7/mediasoup2/internal/domain"
	"github.com/pion/webrtc/v4"
)

type MessageType string

// Client-originated message types.
const (
	MessageTypeGetRouterRtpCapabilities = MessageType("getRouterRtpCapabilities")
	MessageTypeJoinRoom                 = MessageType("joinRoom")
	MessageTypeCreateTransport          = MessageType("createTransport")
	MessageTypeConnectTransport         = MessageType("connectTransport")
	MessageTypeProduce                  = MessageType("produce")
	MessageTypeConsume                  = MessageType("consume")
	MessageTypeResumeConsumer           = MessageType("resumeConsumer")
	MessageTypeCloseProducer            = MessageType("closeProducer")
	MessageTypeCloseConsumer            = MessageType("closeConsumer")
	MessageTypePong                     = MessageType("pong")
)

// Server-originated message types.
const (
	MessageTypeWelcome               = MessageType("welcome")
	MessageTypeRouterRtpCapabilities = MessageType("routerRtpCapabilities")
	MessageTypeRoomJoined            = MessageType("roomJoined")
	MessageTypeNewPeer               = MessageType("newPeer")
	MessageTypeTransportCreated      = MessageType("transportCreated")
	MessageTypeTransportConnected    = MessageType("transportConnected")
	MessageTypeProduced              = MessageType("produced")
	MessageTypeNewProducer           = MessageType("newProducer")
	MessageTypeConsumed              = MessageType("consumed")
	MessageTypeConsumerResumed       = MessageType("consumerResumed")
	MessageTypeConsumerClosed        = MessageType("consumerClosed")
	MessageTypeProducerClosed        = MessageType("producerClosed")
	MessageTypePeerLeft              = MessageType("peerLeft")
	MessageTypeError                 = MessageType("error")
	MessageTypePing                  = MessageType("ping")
)

// Envelope is the single frame shape of the signaling protocol.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds an outbound envelope. Payload marshalling of our own
// types cannot fail; a nil payload produces an empty frame body.
func NewMessage(t MessageType, payload any) Envelope {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			env.Payload = raw
		}
	}
	return env
}

func NewErrorMessage(message string) Envelope {
	return NewMessage(MessageTypeError, ErrorPayload{Message: message})
}

type WelcomePayload struct {
	PeerID       string `json:"peerId"`
	PingInterval int    `json:"pingInterval"`
}

type RouterRtpCapabilitiesPayload struct {
	Capabilities domain.RtpCapabilities `json:"capabilities"`
}

type JoinRoomPayload struct {
	RoomID          string                  `json:"roomId"`
	RtpCapabilities *domain.RtpCapabilities `json:"rtpCapabilities,omitempty"`
}

type ProducerRef struct {
	ProducerID string           `json:"producerId"`
	Kind       domain.MediaKind `json:"kind"`
}

type PeerProducers struct {
	PeerID    string        `json:"peerId"`
	Producers []ProducerRef `json:"producers"`
}

type RoomJoinedPayload struct {
	RoomID            string          `json:"roomId"`
	Peers             []string        `json:"peers"`
	ExistingProducers []PeerProducers `json:"existingProducers"`
}

type NewPeerPayload struct {
	PeerID string `json:"peerId"`
}

type CreateTransportPayload struct {
	Direction domain.TransportDirection `json:"direction"`
}

type TransportCreatedPayload struct {
	TransportID    string                    `json:"transportId"`
	Direction      domain.TransportDirection `json:"direction"`
	ICEParameters  webrtc.ICEParameters      `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate     `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters     `json:"dtlsParameters"`
}

type ConnectTransportPayload struct {
	TransportID    string                `json:"transportId"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type TransportConnectedPayload struct {
	TransportID string `json:"transportId"`
}

type ProducePayload struct {
	TransportID   string               `json:"transportId"`
	Kind          domain.MediaKind     `json:"kind"`
	RtpParameters domain.RtpParameters `json:"rtpParameters"`
}

type ProducedPayload struct {
	ProducerID string           `json:"producerId"`
	Kind       domain.MediaKind `json:"kind"`
}

type NewProducerPayload struct {
	PeerID     string           `json:"peerId"`
	ProducerID string           `json:"producerId"`
	Kind       domain.MediaKind `json:"kind"`
}

type ConsumePayload struct {
	ProducerID      string                  `json:"producerId"`
	RtpCapabilities *domain.RtpCapabilities `json:"rtpCapabilities,omitempty"`
}

type ConsumedPayload struct {
	ConsumerID     string               `json:"consumerId"`
	ProducerID     string               `json:"producerId"`
	ProducerPeerID string               `json:"producerPeerId"`
	Kind           domain.MediaKind     `json:"kind"`
	RtpParameters  domain.RtpParameters `json:"rtpParameters"`
}

type ResumeConsumerPayload struct {
	ConsumerID string `json:"consumerId"`
}

type ConsumerResumedPayload struct {
	ConsumerID string `json:"consumerId"`
}

type CloseProducerPayload struct {
	ProducerID string `json:"producerId"`
}

type ProducerClosedPayload struct {
	ProducerID string `json:"producerId"`
}

type CloseConsumerPayload struct {
	ConsumerID string `json:"consumerId"`
}

type ConsumerClosedPayload struct {
	ConsumerID string `json:"consumerId"`
}

type PeerLeftPayload struct {
	PeerID string `json:"peerId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}
