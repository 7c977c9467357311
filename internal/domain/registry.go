package domain

// PeerRegistry owns connected peers and their per-peer resources. Removal is
// bookkeeping only; media-engine teardown happens in the lifecycle cascade
// before Remove is called.
type PeerRegistry interface {
	Register(sender Sender) *Peer
	Get(id string) (*Peer, error)
	Remove(id string)
	// FindProducer resolves a producer id to its owning peer. Producer ids
	// are unique process-wide for the registry's lifetime.
	FindProducer(producerID string) (*Peer, ProducerInfo, error)
	Count() int
}

// RoomRegistry owns rooms and membership. It stores peer ids only; rooms are
// created lazily on first join and deleted when the last member leaves.
type RoomRegistry interface {
	// Join adds the peer and returns the membership snapshot captured before
	// insertion, in join order, so the joining peer never sees itself.
	Join(roomID, peerID string) ([]string, error)
	// Leave removes the peer and reports whether the room became empty and
	// was deleted.
	Leave(roomID, peerID string) (bool, error)
	Members(roomID string) ([]string, error)
	Count() int
}

// EventSink carries cross-peer notifications out of the services. The
// signaling layer implements it by sending frames through the target peer's
// own connection, keeping per-peer ordering in one place.
type EventSink interface {
	NewPeer(toPeerID, peerID string)
	PeerLeft(toPeerID, peerID string)
	NewProducer(toPeerID, producerPeerID string, producer ProducerInfo)
	ConsumerCreated(toPeerID, producerPeerID string, consumer ConsumerInfo)
	ConsumerClosed(toPeerID, consumerID string)
}
