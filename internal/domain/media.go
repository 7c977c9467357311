package domain

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

type MediaKind string

const (
	MediaKindAudio = MediaKind("audio")
	MediaKindVideo = MediaKind("video")
)

func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindVideo
}

// MimePrefix returns the RTP mime type prefix for the kind, e.g. "audio/".
func (k MediaKind) MimePrefix() string {
	return string(k) + "/"
}

// KindOfMimeType maps an RTP mime type ("video/VP8", "audio/opus") to a MediaKind.
func KindOfMimeType(mimeType string) (MediaKind, bool) {
	switch {
	case strings.HasPrefix(strings.ToLower(mimeType), "audio/"):
		return MediaKindAudio, true
	case strings.HasPrefix(strings.ToLower(mimeType), "video/"):
		return MediaKindVideo, true
	}
	return "", false
}

type TransportDirection string

const (
	TransportDirectionSend = TransportDirection("send")
	TransportDirectionRecv = TransportDirection("recv")
)

func (d TransportDirection) Valid() bool {
	return d == TransportDirectionSend || d == TransportDirectionRecv
}

// RtpCapabilities is the codec set an endpoint can handle. The router
// advertises its own set, peers reply with the subset they negotiated.
type RtpCapabilities struct {
	Codecs []webrtc.RTPCodecCapability `json:"codecs"`
}

// Supports reports whether the capability set contains a codec of the given
// mime type (case-insensitive).
func (c RtpCapabilities) Supports(mimeType string) bool {
	for _, codec := range c.Codecs {
		if strings.EqualFold(codec.MimeType, mimeType) {
			return true
		}
	}
	return false
}

// RtpParameters describes a single stream's negotiated codecs.
type RtpParameters struct {
	Codecs []webrtc.RTPCodecParameters `json:"codecs"`
}

// TransportInfo is the engine handle for a transport plus the connection
// parameters the client needs to complete the handshake.
type TransportInfo struct {
	ID             string                `json:"id"`
	Direction      TransportDirection    `json:"direction"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type ProducerInfo struct {
	ID            string        `json:"id"`
	Kind          MediaKind     `json:"kind"`
	RtpParameters RtpParameters `json:"rtpParameters"`
}

type ConsumerInfo struct {
	ID            string        `json:"id"`
	ProducerID    string        `json:"producerId"`
	Kind          MediaKind     `json:"kind"`
	RtpParameters RtpParameters `json:"rtpParameters"`
}

// MediaEngine is the boundary to the external media engine that performs
// codec negotiation, transport setup and packet forwarding. The orchestrator
// only holds the handles the engine returns and never inspects them.
//
// Consumers are always created paused; ResumeConsumer on an already running
// consumer is a no-op. Closing a transport cascades into closing every
// producer and consumer bound to it; the orchestrator still removes its own
// bookkeeping independently.
type MediaEngine interface {
	Capabilities() RtpCapabilities
	CreateTransport(direction TransportDirection) (TransportInfo, error)
	ConnectTransport(transportID string, dtls webrtc.DTLSParameters) error
	Produce(transportID string, kind MediaKind, params RtpParameters) (ProducerInfo, error)
	CanConsume(producerID string, caps RtpCapabilities) bool
	Consume(transportID, producerID string, caps RtpCapabilities) (ConsumerInfo, error)
	ResumeConsumer(consumerID string) error
	CloseProducer(producerID string) error
	CloseConsumer(consumerID string) error
	CloseTransport(transportID string) error

	// Fatal delivers the engine's asynchronous fatal-failure notification.
	// Receiving on it means no further media routing can occur.
	Fatal() <-chan error
	Close()
}
