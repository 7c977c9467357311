// Package media implements the media engine boundary of the signaling
// orchestrator. LocalEngine is an in-process engine that keeps handle tables
// and synthesizes connection parameters; a deployment that runs a real SFU
// replaces it behind the same domain.MediaEngine interface.
package media

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/Anif7/mediasoup2/internal/config"
	"github.com/Anif7/mediasoup2/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type transportState struct {
	info      domain.TransportInfo
	connected atomic.Bool
}

type producerState struct {
	info        domain.ProducerInfo
	transportID string
}

type consumerState struct {
	info        domain.ConsumerInfo
	transportID string
	producerID  string
	paused      atomic.Bool
}

type LocalEngine struct {
	caps       domain.RtpCapabilities
	listenIP   string
	portMin    uint16
	portMax    uint16
	nextPort   atomic.Uint32
	transports *SyncMap[string, *transportState]
	producers  *SyncMap[string, *producerState]
	consumers  *SyncMap[string, *consumerState]
	fatal      chan error
	closed     atomic.Bool
}

func NewLocalEngine(cfg *config.MediaConfig) *LocalEngine {
	caps := domain.RtpCapabilities{}
	for _, codec := range cfg.Codecs {
		caps.Codecs = append(caps.Codecs, codec.Params.RTPCodecCapability)
	}

	listenIP := cfg.AnnouncedIP
	if listenIP == "" {
		listenIP = "127.0.0.1"
	}

	return &LocalEngine{
		caps:       caps,
		listenIP:   listenIP,
		portMin:    cfg.PortMin,
		portMax:    cfg.PortMax,
		transports: NewSyncMap[string, *transportState](),
		producers:  NewSyncMap[string, *producerState](),
		consumers:  NewSyncMap[string, *consumerState](),
		fatal:      make(chan error, 1),
	}
}

func (e *LocalEngine) Capabilities() domain.RtpCapabilities {
	return e.caps
}

func (e *LocalEngine) CreateTransport(direction domain.TransportDirection) (domain.TransportInfo, error) {
	if e.closed.Load() {
		return domain.TransportInfo{}, domain.ErrEngineClosed
	}
	if !direction.Valid() {
		return domain.TransportInfo{}, fmt.Errorf("invalid transport direction %q", direction)
	}

	id := uuid.NewString()
	info := domain.TransportInfo{
		ID:        id,
		Direction: direction,
		ICEParameters: webrtc.ICEParameters{
			UsernameFragment: randomToken(),
			Password:         randomToken(),
		},
		ICECandidates: []webrtc.ICECandidate{
			{
				Foundation: "udpcandidate",
				Priority:   2130706431,
				Address:    e.listenIP,
				Protocol:   webrtc.ICEProtocolUDP,
				Port:       e.allocPort(),
				Typ:        webrtc.ICECandidateTypeHost,
				Component:  1,
			},
		},
		DTLSParameters: webrtc.DTLSParameters{
			Role: webrtc.DTLSRoleServer,
			Fingerprints: []webrtc.DTLSFingerprint{
				{Algorithm: "sha-256", Value: fingerprintOf(id)},
			},
		},
	}

	e.transports.Store(id, &transportState{info: info})
	return info, nil
}

func (e *LocalEngine) ConnectTransport(transportID string, dtls webrtc.DTLSParameters) error {
	if e.closed.Load() {
		return domain.ErrEngineClosed
	}
	t, ok := e.transports.Load(transportID)
	if !ok {
		return domain.ErrTransportNotFound
	}
	if len(dtls.Fingerprints) == 0 {
		return fmt.Errorf("connect transport %s: no dtls fingerprints", transportID)
	}
	t.connected.Store(true)
	return nil
}

func (e *LocalEngine) Produce(transportID string, kind domain.MediaKind, params domain.RtpParameters) (domain.ProducerInfo, error) {
	if e.closed.Load() {
		return domain.ProducerInfo{}, domain.ErrEngineClosed
	}
	t, ok := e.transports.Load(transportID)
	if !ok {
		return domain.ProducerInfo{}, domain.ErrTransportNotFound
	}
	if t.info.Direction != domain.TransportDirectionSend {
		return domain.ProducerInfo{}, domain.ErrWrongDirection
	}
	if !t.connected.Load() {
		return domain.ProducerInfo{}, domain.ErrTransportNotReady
	}
	if !kind.Valid() {
		return domain.ProducerInfo{}, fmt.Errorf("invalid media kind %q", kind)
	}
	if len(params.Codecs) == 0 {
		return domain.ProducerInfo{}, fmt.Errorf("produce %s: no codecs offered", kind)
	}
	for _, codec := range params.Codecs {
		if !strings.HasPrefix(strings.ToLower(codec.MimeType), kind.MimePrefix()) {
			return domain.ProducerInfo{}, fmt.Errorf("codec %q does not match kind %q", codec.MimeType, kind)
		}
		if !e.caps.Supports(codec.MimeType) {
			return domain.ProducerInfo{}, fmt.Errorf("unsupported codec %q", codec.MimeType)
		}
	}

	info := domain.ProducerInfo{
		ID:            uuid.NewString(),
		Kind:          kind,
		RtpParameters: params,
	}
	e.producers.Store(info.ID, &producerState{info: info, transportID: transportID})
	return info, nil
}

func (e *LocalEngine) CanConsume(producerID string, caps domain.RtpCapabilities) bool {
	p, ok := e.producers.Load(producerID)
	if !ok {
		return false
	}
	for _, codec := range p.info.RtpParameters.Codecs {
		if caps.Supports(codec.MimeType) {
			return true
		}
	}
	return false
}

func (e *LocalEngine) Consume(transportID, producerID string, caps domain.RtpCapabilities) (domain.ConsumerInfo, error) {
	if e.closed.Load() {
		return domain.ConsumerInfo{}, domain.ErrEngineClosed
	}
	t, ok := e.transports.Load(transportID)
	if !ok {
		return domain.ConsumerInfo{}, domain.ErrTransportNotFound
	}
	if t.info.Direction != domain.TransportDirectionRecv {
		return domain.ConsumerInfo{}, domain.ErrWrongDirection
	}
	if !t.connected.Load() {
		return domain.ConsumerInfo{}, domain.ErrTransportNotReady
	}
	p, ok := e.producers.Load(producerID)
	if !ok {
		return domain.ConsumerInfo{}, domain.ErrProducerNotFound
	}
	if !e.CanConsume(producerID, caps) {
		return domain.ConsumerInfo{}, domain.ErrCannotConsume
	}

	// The consumer carries only the producer codecs the consuming endpoint
	// negotiated.
	params := domain.RtpParameters{}
	for _, codec := range p.info.RtpParameters.Codecs {
		if caps.Supports(codec.MimeType) {
			params.Codecs = append(params.Codecs, codec)
		}
	}

	info := domain.ConsumerInfo{
		ID:            uuid.NewString(),
		ProducerID:    producerID,
		Kind:          p.info.Kind,
		RtpParameters: params,
	}
	state := &consumerState{info: info, transportID: transportID, producerID: producerID}
	state.paused.Store(true)
	e.consumers.Store(info.ID, state)
	return info, nil
}

func (e *LocalEngine) ResumeConsumer(consumerID string) error {
	if e.closed.Load() {
		return domain.ErrEngineClosed
	}
	c, ok := e.consumers.Load(consumerID)
	if !ok {
		return domain.ErrConsumerNotFound
	}
	// Resuming a running consumer is a no-op.
	c.paused.Store(false)
	return nil
}

// ConsumerPaused reports the consumer's pause state, for tests and stats.
func (e *LocalEngine) ConsumerPaused(consumerID string) (bool, error) {
	c, ok := e.consumers.Load(consumerID)
	if !ok {
		return false, domain.ErrConsumerNotFound
	}
	return c.paused.Load(), nil
}

// Close* calls are tolerant of already-closed handles so the orchestrator's
// independent bookkeeping removal never trips over the engine's own cascade.

func (e *LocalEngine) CloseProducer(producerID string) error {
	if e.closed.Load() {
		return domain.ErrEngineClosed
	}
	if _, ok := e.producers.LoadAndDelete(producerID); !ok {
		return nil
	}
	e.consumers.Range(func(id string, c *consumerState) bool {
		if c.producerID == producerID {
			e.consumers.Delete(id)
		}
		return true
	})
	return nil
}

func (e *LocalEngine) CloseConsumer(consumerID string) error {
	if e.closed.Load() {
		return domain.ErrEngineClosed
	}
	e.consumers.Delete(consumerID)
	return nil
}

func (e *LocalEngine) CloseTransport(transportID string) error {
	if e.closed.Load() {
		return domain.ErrEngineClosed
	}
	if _, ok := e.transports.LoadAndDelete(transportID); !ok {
		return nil
	}
	e.producers.Range(func(id string, p *producerState) bool {
		if p.transportID == transportID {
			e.producers.Delete(id)
			e.consumers.Range(func(cid string, c *consumerState) bool {
				if c.producerID == id {
					e.consumers.Delete(cid)
				}
				return true
			})
		}
		return true
	})
	e.consumers.Range(func(id string, c *consumerState) bool {
		if c.transportID == transportID {
			e.consumers.Delete(id)
		}
		return true
	})
	return nil
}

func (e *LocalEngine) Fatal() <-chan error {
	return e.fatal
}

func (e *LocalEngine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	slog.Debug("media engine closing",
		"transports", e.transports.Len(), "producers", e.producers.Len(), "consumers", e.consumers.Len())
	e.transports.Clear()
	e.producers.Clear()
	e.consumers.Clear()
	close(e.fatal)
}

func (e *LocalEngine) allocPort() uint16 {
	if e.portMax <= e.portMin {
		return e.portMin
	}
	span := uint32(e.portMax - e.portMin)
	offset := (e.nextPort.Add(1) - 1) % (span + 1)
	return e.portMin + uint16(offset)
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func fingerprintOf(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
