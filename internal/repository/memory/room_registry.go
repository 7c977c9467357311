package memory

import (
	"sync"

	"github.com/Anif7/mediasoup2/internal/domain"
)

type room struct {
	members []string
	index   map[string]struct{}
}

// RoomRegistry is the in-memory domain.RoomRegistry. Rooms exist iff their
// member set is non-empty: first join creates, last leave deletes.
type RoomRegistry struct {
	rooms map[string]*room
	mu    sync.Mutex
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]*room),
	}
}

func (r *RoomRegistry) Join(roomID, peerID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{index: make(map[string]struct{})}
		r.rooms[roomID] = rm
	}

	// Snapshot before insertion so the joining peer never sees itself.
	snapshot := make([]string, len(rm.members))
	copy(snapshot, rm.members)

	if _, member := rm.index[peerID]; !member {
		rm.members = append(rm.members, peerID)
		rm.index[peerID] = struct{}{}
	}
	return snapshot, nil
}

func (r *RoomRegistry) Leave(roomID, peerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false, domain.ErrRoomNotFound
	}
	if _, member := rm.index[peerID]; !member {
		return false, domain.ErrPeerNotFound
	}

	delete(rm.index, peerID)
	for i, id := range rm.members {
		if id == peerID {
			rm.members = append(rm.members[:i], rm.members[i+1:]...)
			break
		}
	}

	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
		return true, nil
	}
	return false, nil
}

func (r *RoomRegistry) Members(roomID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	members := make([]string, len(rm.members))
	copy(members, rm.members)
	return members, nil
}

func (r *RoomRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
