package service

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/Anif7/mediasoup2/internal/config"
	"github.com/Anif7/mediasoup2/internal/domain"
	"github.com/Anif7/mediasoup2/internal/media"
	"github.com/Anif7/mediasoup2/internal/repository/memory"
	"github.com/pion/webrtc/v4"
)

type nopSender struct{}

func (nopSender) Send(any) {}

type recordedEvent struct {
	Kind string
	To   string
	From string
	ID   string
}

// eventRecorder captures EventSink calls so tests can assert on the exact
// notification fan-out.
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) record(e recordedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) NewPeer(to, peerID string) {
	r.record(recordedEvent{Kind: "newPeer", To: to, From: peerID})
}

func (r *eventRecorder) PeerLeft(to, peerID string) {
	r.record(recordedEvent{Kind: "peerLeft", To: to, From: peerID})
}

func (r *eventRecorder) NewProducer(to, producerPeerID string, producer domain.ProducerInfo) {
	r.record(recordedEvent{Kind: "newProducer", To: to, From: producerPeerID, ID: producer.ID})
}

func (r *eventRecorder) ConsumerCreated(to, producerPeerID string, consumer domain.ConsumerInfo) {
	r.record(recordedEvent{Kind: "consumed", To: to, From: producerPeerID, ID: consumer.ID})
}

func (r *eventRecorder) ConsumerClosed(to, consumerID string) {
	r.record(recordedEvent{Kind: "consumerClosed", To: to, ID: consumerID})
}

func (r *eventRecorder) count(kind, to string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind && e.To == to {
			n++
		}
	}
	return n
}

type stack struct {
	subs   *SubscriptionService
	life   *LifecycleService
	engine *media.LocalEngine
	peers  domain.PeerRegistry
	rooms  domain.RoomRegistry
	events *eventRecorder
}

func newStack() *stack {
	engine := media.NewLocalEngine(&config.MediaConfig{
		PortMin: 10000,
		PortMax: 10010,
		Codecs:  config.DefaultCodecs(),
	})
	peers := memory.NewPeerRegistry()
	rooms := memory.NewRoomRegistry()
	events := &eventRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &stack{
		subs:   NewSubscriptionService(engine, peers, rooms, events, logger),
		life:   NewLifecycleService(engine, peers, rooms, events, logger),
		engine: engine,
		peers:  peers,
		rooms:  rooms,
		events: events,
	}
}

func (s *stack) join(t *testing.T, peer *domain.Peer, roomID string) *JoinResult {
	t.Helper()
	caps := s.engine.Capabilities()
	result, err := s.subs.JoinRoom(peer, roomID, &caps)
	if err != nil {
		t.Fatalf("JoinRoom(%s): %v", roomID, err)
	}
	return result
}

func (s *stack) connect(t *testing.T, peer *domain.Peer, dir domain.TransportDirection) domain.TransportInfo {
	t.Helper()
	info, err := s.subs.CreateTransport(peer, dir)
	if err != nil {
		t.Fatalf("CreateTransport(%s): %v", dir, err)
	}
	dtls := webrtc.DTLSParameters{
		Fingerprints: []webrtc.DTLSFingerprint{{Algorithm: "sha-256", Value: "00:11"}},
	}
	if _, err := s.subs.ConnectTransport(peer, info.ID, dtls); err != nil {
		t.Fatalf("ConnectTransport: %v", err)
	}
	return info
}

func (s *stack) produceVideo(t *testing.T, peer *domain.Peer, transportID string) domain.ProducerInfo {
	t.Helper()
	params := domain.RtpParameters{Codecs: []webrtc.RTPCodecParameters{{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "video/VP8", ClockRate: 90000},
		PayloadType:        96,
	}}}
	info, err := s.subs.Produce(peer, transportID, domain.MediaKindVideo, params)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	return info
}

func TestJoinEmptyRoom(t *testing.T) {
	s := newStack()
	peer := s.peers.Register(nopSender{})

	result := s.join(t, peer, "room")
	if len(result.Peers) != 0 || len(result.ExistingProducers) != 0 {
		t.Fatalf("empty room join returned %+v", result)
	}
	if s.rooms.Count() != 1 {
		t.Fatalf("room count = %d", s.rooms.Count())
	}
}

func TestJoinTwiceFails(t *testing.T) {
	s := newStack()
	peer := s.peers.Register(nopSender{})
	s.join(t, peer, "room")

	caps := s.engine.Capabilities()
	if _, err := s.subs.JoinRoom(peer, "other", &caps); !errors.Is(err, domain.ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}
}

func TestJoinSnapshotListsExistingProducers(t *testing.T) {
	s := newStack()
	a := s.peers.Register(nopSender{})
	s.join(t, a, "room")
	send := s.connect(t, a, domain.TransportDirectionSend)
	p1 := s.produceVideo(t, a, send.ID)
	p2 := s.produceVideo(t, a, send.ID)

	b := s.peers.Register(nopSender{})
	result := s.join(t, b, "room")

	if len(result.Peers) != 1 || result.Peers[0] != a.ID {
		t.Fatalf("snapshot peers = %v, want [%s]", result.Peers, a.ID)
	}
	if len(result.ExistingProducers) != 1 {
		t.Fatalf("existing producers = %+v", result.ExistingProducers)
	}
	producers := result.ExistingProducers[0].Producers
	if len(producers) != 2 || producers[0].ID != p1.ID || producers[1].ID != p2.ID {
		t.Fatalf("producer snapshot out of order: %+v", producers)
	}

	if s.events.count("newPeer", a.ID) != 1 {
		t.Fatal("existing member not notified of the new peer")
	}
}

func TestJoinQueuesProducersUntilRecvReady(t *testing.T) {
	s := newStack()
	a := s.peers.Register(nopSender{})
	s.join(t, a, "room")
	send := s.connect(t, a, domain.TransportDirectionSend)
	s.produceVideo(t, a, send.ID)
	s.produceVideo(t, a, send.ID)

	b := s.peers.Register(nopSender{})
	s.join(t, b, "room")

	if got := b.PendingCount(); got != 2 {
		t.Fatalf("pending count = %d, want 2", got)
	}
	if got := len(b.Consumers()); got != 0 {
		t.Fatalf("consumers before recv ready = %d", got)
	}

	// Connecting the receive transport is the single drain trigger.
	s.connect(t, b, domain.TransportDirectionRecv)

	if got := b.PendingCount(); got != 0 {
		t.Fatalf("pending count after drain = %d", got)
	}
	if got := len(b.Consumers()); got != 2 {
		t.Fatalf("consumers after drain = %d, want 2", got)
	}
	if got := s.events.count("consumed", b.ID); got != 2 {
		t.Fatalf("consumed notifications = %d, want 2", got)
	}

	for _, consumer := range b.Consumers() {
		paused, err := s.engine.ConsumerPaused(consumer.ID)
		if err != nil || !paused {
			t.Fatalf("drained consumer not paused: paused=%v err=%v", paused, err)
		}
	}
}

func TestProduceFansOutToReadyMembers(t *testing.T) {
	s := newStack()
	a := s.peers.Register(nopSender{})
	s.join(t, a, "room")
	sendA := s.connect(t, a, domain.TransportDirectionSend)

	b := s.peers.Register(nopSender{})
	s.join(t, b, "room")
	s.connect(t, b, domain.TransportDirectionRecv)

	producer := s.produceVideo(t, a, sendA.ID)

	if got := s.events.count("newProducer", b.ID); got != 1 {
		t.Fatalf("newProducer notifications = %d", got)
	}
	consumer, ownerID, ok := b.ConsumerForProducer(producer.ID)
	if !ok || ownerID != a.ID {
		t.Fatalf("no consumer bound: ok=%v owner=%q", ok, ownerID)
	}
	if consumer.Kind != domain.MediaKindVideo {
		t.Fatalf("consumer kind = %q", consumer.Kind)
	}
	// The producing peer never consumes its own producer.
	if _, _, ok := a.ConsumerForProducer(producer.ID); ok {
		t.Fatal("producer consumed its own stream")
	}
}

func TestProduceRequiresJoinAndSendTransport(t *testing.T) {
	s := newStack()
	peer := s.peers.Register(nopSender{})

	params := domain.RtpParameters{Codecs: []webrtc.RTPCodecParameters{{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "video/VP8", ClockRate: 90000},
	}}}

	if _, err := s.subs.Produce(peer, "t", domain.MediaKindVideo, params); !errors.Is(err, domain.ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}

	s.join(t, peer, "room")
	if _, err := s.subs.Produce(peer, "t", domain.MediaKindVideo, params); !errors.Is(err, domain.ErrTransportNotFound) {
		t.Fatalf("expected ErrTransportNotFound, got %v", err)
	}

	recv := s.connect(t, peer, domain.TransportDirectionRecv)
	if _, err := s.subs.Produce(peer, recv.ID, domain.MediaKindVideo, params); !errors.Is(err, domain.ErrWrongDirection) {
		t.Fatalf("expected ErrWrongDirection, got %v", err)
	}
}

func TestIncompatibleCapabilitiesSkipSubscription(t *testing.T) {
	s := newStack()
	a := s.peers.Register(nopSender{})
	s.join(t, a, "room")
	send := s.connect(t, a, domain.TransportDirectionSend)
	s.produceVideo(t, a, send.ID)

	b := s.peers.Register(nopSender{})
	audioOnly := domain.RtpCapabilities{Codecs: []webrtc.RTPCodecCapability{
		{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	}}
	if _, err := s.subs.JoinRoom(b, "room", &audioOnly); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	s.connect(t, b, domain.TransportDirectionRecv)

	// The video producer cannot be consumed with audio-only capabilities; the
	// drain skips it without failing.
	if got := len(b.Consumers()); got != 0 {
		t.Fatalf("consumers = %d, want 0", got)
	}
	if got := b.PendingCount(); got != 0 {
		t.Fatalf("pending not cleared, count = %d", got)
	}
	if got := s.events.count("consumed", b.ID); got != 0 {
		t.Fatalf("consumed notifications = %d, want 0", got)
	}
}

func TestExplicitConsumeIsIdempotent(t *testing.T) {
	s := newStack()
	a := s.peers.Register(nopSender{})
	s.join(t, a, "room")
	send := s.connect(t, a, domain.TransportDirectionSend)

	b := s.peers.Register(nopSender{})
	s.join(t, b, "room")
	s.connect(t, b, domain.TransportDirectionRecv)

	producer := s.produceVideo(t, a, send.ID)

	first, ownerID, err := s.subs.Consume(b, producer.ID, nil)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if ownerID != a.ID {
		t.Fatalf("owner = %q, want %q", ownerID, a.ID)
	}

	second, _, err := s.subs.Consume(b, producer.ID, nil)
	if err != nil {
		t.Fatalf("second Consume: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate consume created a new consumer: %q vs %q", second.ID, first.ID)
	}
	if got := len(b.Consumers()); got != 1 {
		t.Fatalf("consumers = %d, want 1", got)
	}
}

func TestConsumeAcrossRoomsFails(t *testing.T) {
	s := newStack()
	a := s.peers.Register(nopSender{})
	s.join(t, a, "room-a")
	send := s.connect(t, a, domain.TransportDirectionSend)
	producer := s.produceVideo(t, a, send.ID)

	b := s.peers.Register(nopSender{})
	s.join(t, b, "room-b")
	s.connect(t, b, domain.TransportDirectionRecv)

	if _, _, err := s.subs.Consume(b, producer.ID, nil); !errors.Is(err, domain.ErrProducerNotFound) {
		t.Fatalf("expected ErrProducerNotFound, got %v", err)
	}
}

func TestResumeConsumer(t *testing.T) {
	s := newStack()
	a := s.peers.Register(nopSender{})
	s.join(t, a, "room")
	send := s.connect(t, a, domain.TransportDirectionSend)

	b := s.peers.Register(nopSender{})
	s.join(t, b, "room")
	s.connect(t, b, domain.TransportDirectionRecv)

	producer := s.produceVideo(t, a, send.ID)
	consumer, _, ok := b.ConsumerForProducer(producer.ID)
	if !ok {
		t.Fatal("no consumer bound")
	}

	if err := s.subs.ResumeConsumer(b, consumer.ID); err != nil {
		t.Fatalf("ResumeConsumer: %v", err)
	}
	if err := s.subs.ResumeConsumer(b, consumer.ID); err != nil {
		t.Fatalf("second ResumeConsumer: %v", err)
	}
	paused, _ := s.engine.ConsumerPaused(consumer.ID)
	if paused {
		t.Fatal("consumer still paused")
	}

	// A peer can only resume its own consumers.
	if err := s.subs.ResumeConsumer(a, consumer.ID); !errors.Is(err, domain.ErrConsumerNotFound) {
		t.Fatalf("expected ErrConsumerNotFound, got %v", err)
	}
}

func TestCloseProducerClosesMemberConsumers(t *testing.T) {
	s := newStack()
	a := s.peers.Register(nopSender{})
	s.join(t, a, "room")
	send := s.connect(t, a, domain.TransportDirectionSend)

	b := s.peers.Register(nopSender{})
	s.join(t, b, "room")
	s.connect(t, b, domain.TransportDirectionRecv)

	producer := s.produceVideo(t, a, send.ID)
	consumer, _, _ := b.ConsumerForProducer(producer.ID)

	if err := s.subs.CloseProducer(a, producer.ID); err != nil {
		t.Fatalf("CloseProducer: %v", err)
	}

	if _, ok := a.Producer(producer.ID); ok {
		t.Fatal("producer still registered")
	}
	if _, ok := b.Consumer(consumer.ID); ok {
		t.Fatal("member consumer survived producer close")
	}
	if got := s.events.count("consumerClosed", b.ID); got != 1 {
		t.Fatalf("consumerClosed notifications = %d, want 1", got)
	}

	if err := s.subs.CloseProducer(a, producer.ID); !errors.Is(err, domain.ErrProducerNotFound) {
		t.Fatalf("expected ErrProducerNotFound, got %v", err)
	}
}

func TestCloseProducerPrunesPendingReferences(t *testing.T) {
	s := newStack()
	a := s.peers.Register(nopSender{})
	s.join(t, a, "room")
	send := s.connect(t, a, domain.TransportDirectionSend)
	producer := s.produceVideo(t, a, send.ID)

	// B has no receive transport yet, so the producer reference is queued.
	b := s.peers.Register(nopSender{})
	s.join(t, b, "room")
	if got := b.PendingCount(); got != 1 {
		t.Fatalf("pending count = %d, want 1", got)
	}

	if err := s.subs.CloseProducer(a, producer.ID); err != nil {
		t.Fatalf("CloseProducer: %v", err)
	}
	if got := b.PendingCount(); got != 0 {
		t.Fatalf("pending reference survived producer close, count = %d", got)
	}
}

func TestCloseConsumer(t *testing.T) {
	s := newStack()
	a := s.peers.Register(nopSender{})
	s.join(t, a, "room")
	send := s.connect(t, a, domain.TransportDirectionSend)

	b := s.peers.Register(nopSender{})
	s.join(t, b, "room")
	s.connect(t, b, domain.TransportDirectionRecv)

	producer := s.produceVideo(t, a, send.ID)
	consumer, _, _ := b.ConsumerForProducer(producer.ID)

	if err := s.subs.CloseConsumer(b, consumer.ID); err != nil {
		t.Fatalf("CloseConsumer: %v", err)
	}
	if _, ok := b.Consumer(consumer.ID); ok {
		t.Fatal("consumer still registered")
	}
	if err := s.subs.CloseConsumer(b, consumer.ID); !errors.Is(err, domain.ErrConsumerNotFound) {
		t.Fatalf("expected ErrConsumerNotFound, got %v", err)
	}
}

func TestProduceRacingRecvConnectNeverStrandsPending(t *testing.T) {
	dtls := webrtc.DTLSParameters{
		Fingerprints: []webrtc.DTLSFingerprint{{Algorithm: "sha-256", Value: "00:11"}},
	}
	params := domain.RtpParameters{Codecs: []webrtc.RTPCodecParameters{{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "video/VP8", ClockRate: 90000},
		PayloadType:        96,
	}}}

	for i := 0; i < 100; i++ {
		s := newStack()
		a := s.peers.Register(nopSender{})
		s.join(t, a, "room")
		send := s.connect(t, a, domain.TransportDirectionSend)

		b := s.peers.Register(nopSender{})
		s.join(t, b, "room")
		recv, err := s.subs.CreateTransport(b, domain.TransportDirectionRecv)
		if err != nil {
			t.Fatalf("CreateTransport: %v", err)
		}

		var wg sync.WaitGroup
		var producer domain.ProducerInfo
		var produceErr, connectErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			producer, produceErr = s.subs.Produce(a, send.ID, domain.MediaKindVideo, params)
		}()
		go func() {
			defer wg.Done()
			_, connectErr = s.subs.ConnectTransport(b, recv.ID, dtls)
		}()
		wg.Wait()

		if produceErr != nil || connectErr != nil {
			t.Fatalf("iteration %d: produce=%v connect=%v", i, produceErr, connectErr)
		}
		// Whichever side wins the race, the producer reference must end up
		// consumed, never stranded on the queue.
		if got := b.PendingCount(); got != 0 {
			t.Fatalf("iteration %d: %d pending references stranded", i, got)
		}
		if _, _, ok := b.ConsumerForProducer(producer.ID); !ok {
			t.Fatalf("iteration %d: producer %s was never consumed", i, producer.ID)
		}
	}
}

func TestRejectedJoinKeepsStoredCapabilities(t *testing.T) {
	s := newStack()
	peer := s.peers.Register(nopSender{})
	s.join(t, peer, "room")

	audioOnly := domain.RtpCapabilities{Codecs: []webrtc.RTPCodecCapability{
		{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	}}
	if _, err := s.subs.JoinRoom(peer, "other", &audioOnly); !errors.Is(err, domain.ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}

	caps, ok := peer.RtpCapabilities()
	if !ok {
		t.Fatal("capabilities lost after rejected join")
	}
	if !caps.Supports("video/VP8") {
		t.Fatalf("rejected join overwrote capabilities: %+v", caps)
	}
}

func TestCreateTransportOncePerDirection(t *testing.T) {
	s := newStack()
	peer := s.peers.Register(nopSender{})

	if _, err := s.subs.CreateTransport(peer, domain.TransportDirectionSend); err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	if _, err := s.subs.CreateTransport(peer, domain.TransportDirectionSend); !errors.Is(err, domain.ErrTransportExists) {
		t.Fatalf("expected ErrTransportExists, got %v", err)
	}
	if _, err := s.subs.CreateTransport(peer, "sideways"); err == nil {
		t.Fatal("expected error for invalid direction")
	}
}
