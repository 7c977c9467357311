package memory

import (
	"sync"

	"github.com/Anif7/mediasoup2/internal/domain"
	"github.com/google/uuid"
)

// PeerRegistry is the in-memory domain.PeerRegistry. Peer ids are random
// UUIDs, unpredictable and collision-free for the process lifetime.
type PeerRegistry struct {
	peers map[string]*domain.Peer
	mu    sync.RWMutex
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		peers: make(map[string]*domain.Peer),
	}
}

func (r *PeerRegistry) Register(sender domain.Sender) *domain.Peer {
	peer := domain.NewPeer(uuid.NewString(), sender)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[peer.ID] = peer
	return peer
}

func (r *PeerRegistry) Get(id string) (*domain.Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peer, ok := r.peers[id]
	if !ok {
		return nil, domain.ErrPeerNotFound
	}
	return peer, nil
}

func (r *PeerRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, id)
}

func (r *PeerRegistry) FindProducer(producerID string) (*domain.Peer, domain.ProducerInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, peer := range r.peers {
		if info, ok := peer.Producer(producerID); ok {
			return peer, info, nil
		}
	}
	return nil, domain.ProducerInfo{}, domain.ErrProducerNotFound
}

func (r *PeerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
