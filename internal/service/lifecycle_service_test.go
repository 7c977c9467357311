package service

import (
	"errors"
	"testing"

	"github.com/Anif7/mediasoup2/internal/domain"
)

func TestDisconnectUnknownPeerIsNoop(t *testing.T) {
	s := newStack()
	s.life.Disconnect("ghost")
}

func TestDisconnectCascade(t *testing.T) {
	s := newStack()
	a := s.peers.Register(nopSender{})
	s.join(t, a, "room")
	sendA := s.connect(t, a, domain.TransportDirectionSend)

	b := s.peers.Register(nopSender{})
	s.join(t, b, "room")
	s.connect(t, b, domain.TransportDirectionRecv)

	producer := s.produceVideo(t, a, sendA.ID)
	consumer, _, ok := b.ConsumerForProducer(producer.ID)
	if !ok {
		t.Fatal("no consumer bound before disconnect")
	}

	s.life.Disconnect(a.ID)

	if _, err := s.peers.Get(a.ID); !errors.Is(err, domain.ErrPeerNotFound) {
		t.Fatalf("peer still registered: %v", err)
	}
	if _, ok := b.Consumer(consumer.ID); ok {
		t.Fatal("member consumer survived producer peer disconnect")
	}
	if got := s.events.count("consumerClosed", b.ID); got != 1 {
		t.Fatalf("consumerClosed notifications = %d, want 1", got)
	}
	if got := s.events.count("peerLeft", b.ID); got != 1 {
		t.Fatalf("peerLeft notifications = %d, want 1", got)
	}
	// The departing peer itself gets nothing.
	if got := s.events.count("peerLeft", a.ID); got != 0 {
		t.Fatalf("departing peer was notified %d times", got)
	}

	members, err := s.rooms.Members("room")
	if err != nil || len(members) != 1 || members[0] != b.ID {
		t.Fatalf("room members = %v, %v", members, err)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s := newStack()
	a := s.peers.Register(nopSender{})
	s.join(t, a, "room")

	b := s.peers.Register(nopSender{})
	s.join(t, b, "room")

	s.life.Disconnect(a.ID)
	s.life.Disconnect(a.ID)

	if got := s.events.count("peerLeft", b.ID); got != 1 {
		t.Fatalf("peerLeft notifications = %d, want 1", got)
	}
}

func TestDisconnectPrunesPendingReferences(t *testing.T) {
	s := newStack()
	a := s.peers.Register(nopSender{})
	s.join(t, a, "room")
	send := s.connect(t, a, domain.TransportDirectionSend)
	s.produceVideo(t, a, send.ID)

	// B never connects a receive transport; A's producer stays queued.
	b := s.peers.Register(nopSender{})
	s.join(t, b, "room")
	if got := b.PendingCount(); got != 1 {
		t.Fatalf("pending count = %d, want 1", got)
	}

	s.life.Disconnect(a.ID)
	if got := b.PendingCount(); got != 0 {
		t.Fatalf("pending reference survived disconnect, count = %d", got)
	}
}

func TestLastDisconnectDeletesRoom(t *testing.T) {
	s := newStack()
	a := s.peers.Register(nopSender{})
	s.join(t, a, "room")
	b := s.peers.Register(nopSender{})
	s.join(t, b, "room")

	s.life.Disconnect(a.ID)
	if s.rooms.Count() != 1 {
		t.Fatalf("room deleted too early, count = %d", s.rooms.Count())
	}

	s.life.Disconnect(b.ID)
	if s.rooms.Count() != 0 {
		t.Fatalf("room count = %d, want 0", s.rooms.Count())
	}
	if s.peers.Count() != 0 {
		t.Fatalf("peer count = %d, want 0", s.peers.Count())
	}
}

func TestDisconnectBeforeJoin(t *testing.T) {
	s := newStack()
	peer := s.peers.Register(nopSender{})

	s.life.Disconnect(peer.ID)
	if _, err := s.peers.Get(peer.ID); !errors.Is(err, domain.ErrPeerNotFound) {
		t.Fatalf("peer still registered: %v", err)
	}
	if s.rooms.Count() != 0 {
		t.Fatalf("room count = %d", s.rooms.Count())
	}
}
