package domain

import "sync"

// Sender is the outbound half of a peer's signaling connection. The Peer owns
// it exclusively; cross-peer effects only ever happen by sending the other
// peer a message through its own Sender.
type Sender interface {
	Send(v any)
}

// PendingSubscription is a producer reference discovered before the peer's
// receive transport existed. It waits on the peer's pending queue until the
// transport becomes ready.
type PendingSubscription struct {
	ProducerPeerID string
	ProducerID     string
	Kind           MediaKind
}

type peerTransport struct {
	info      TransportInfo
	connected bool
}

type consumerRecord struct {
	info           ConsumerInfo
	producerPeerID string
}

// Peer is the per-connection state: at most one transport per direction,
// producers keyed by engine id (insertion-ordered for join snapshots),
// consumers keyed by engine id with a producer-id index for the
// duplicate-subscription guard, and the pending subscription queue.
type Peer struct {
	ID     string
	sender Sender

	mu              sync.Mutex
	roomID          string
	rtpCapabilities *RtpCapabilities
	transports      map[TransportDirection]*peerTransport
	producers       map[string]ProducerInfo
	producerOrder   []string
	consumers       map[string]consumerRecord
	consumerByProd  map[string]string
	pending         []PendingSubscription
	closed          bool
}

func NewPeer(id string, sender Sender) *Peer {
	return &Peer{
		ID:             id,
		sender:         sender,
		transports:     make(map[TransportDirection]*peerTransport),
		producers:      make(map[string]ProducerInfo),
		consumers:      make(map[string]consumerRecord),
		consumerByProd: make(map[string]string),
	}
}

func (p *Peer) Send(v any) {
	p.sender.Send(v)
}

// MarkClosed flips the peer into the closed state. It returns false if the
// peer was closed already, making the disconnect cascade idempotent.
func (p *Peer) MarkClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	return true
}

func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) SetRtpCapabilities(caps RtpCapabilities) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rtpCapabilities = &caps
}

func (p *Peer) RtpCapabilities() (RtpCapabilities, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rtpCapabilities == nil {
		return RtpCapabilities{}, false
	}
	return *p.rtpCapabilities, true
}

// JoinRoom records room membership. A peer is a member of at most one room;
// a second join is a protocol error the caller reports to the client.
func (p *Peer) JoinRoom(roomID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roomID != "" {
		return ErrAlreadyJoined
	}
	p.roomID = roomID
	return nil
}

func (p *Peer) RoomID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roomID
}

func (p *Peer) LeaveRoom() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	roomID := p.roomID
	p.roomID = ""
	return roomID
}

func (p *Peer) AddTransport(info TransportInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.transports[info.Direction]; exists {
		return ErrTransportExists
	}
	p.transports[info.Direction] = &peerTransport{info: info}
	return nil
}

func (p *Peer) Transport(id string) (TransportInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.transports {
		if t.info.ID == id {
			return t.info, true
		}
	}
	return TransportInfo{}, false
}

// MarkTransportConnected flags the transport as connected and returns its
// direction so the caller can trigger the pending drain for recv transports.
func (p *Peer) MarkTransportConnected(id string) (TransportDirection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for dir, t := range p.transports {
		if t.info.ID == id {
			t.connected = true
			return dir, nil
		}
	}
	return "", ErrTransportNotFound
}

// ConnectedTransport returns the connected transport for a direction, if any.
func (p *Peer) ConnectedTransport(dir TransportDirection) (TransportInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.transports[dir]
	if !ok || !t.connected {
		return TransportInfo{}, false
	}
	return t.info, true
}

func (p *Peer) Transports() []TransportInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	infos := make([]TransportInfo, 0, len(p.transports))
	for _, t := range p.transports {
		infos = append(infos, t.info)
	}
	return infos
}

func (p *Peer) AddProducer(info ProducerInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.producers[info.ID]; !exists {
		p.producerOrder = append(p.producerOrder, info.ID)
	}
	p.producers[info.ID] = info
}

func (p *Peer) Producer(id string) (ProducerInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.producers[id]
	return info, ok
}

func (p *Peer) RemoveProducer(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.producers[id]; !ok {
		return false
	}
	delete(p.producers, id)
	for i, pid := range p.producerOrder {
		if pid == id {
			p.producerOrder = append(p.producerOrder[:i], p.producerOrder[i+1:]...)
			break
		}
	}
	return true
}

// Producers returns the peer's open producers in creation order.
func (p *Peer) Producers() []ProducerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	infos := make([]ProducerInfo, 0, len(p.producerOrder))
	for _, id := range p.producerOrder {
		infos = append(infos, p.producers[id])
	}
	return infos
}

// AddConsumer stores a consumer binding unless the peer already holds one for
// the same producer. It returns the winning record and whether the given one
// was stored, so duplicate consume requests resolve to the first binding.
func (p *Peer) AddConsumer(info ConsumerInfo, producerPeerID string) (ConsumerInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existingID, ok := p.consumerByProd[info.ProducerID]; ok {
		return p.consumers[existingID].info, false
	}
	p.consumers[info.ID] = consumerRecord{info: info, producerPeerID: producerPeerID}
	p.consumerByProd[info.ProducerID] = info.ID
	return info, true
}

func (p *Peer) Consumer(id string) (ConsumerInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.consumers[id]
	return rec.info, ok
}

// ConsumerForProducer looks up the consumer bound to a producer id together
// with the producing peer's id.
func (p *Peer) ConsumerForProducer(producerID string) (ConsumerInfo, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.consumerByProd[producerID]
	if !ok {
		return ConsumerInfo{}, "", false
	}
	rec := p.consumers[id]
	return rec.info, rec.producerPeerID, true
}

func (p *Peer) RemoveConsumer(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.consumers[id]
	if !ok {
		return false
	}
	delete(p.consumers, id)
	delete(p.consumerByProd, rec.info.ProducerID)
	return true
}

func (p *Peer) Consumers() []ConsumerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	infos := make([]ConsumerInfo, 0, len(p.consumers))
	for _, rec := range p.consumers {
		infos = append(infos, rec.info)
	}
	return infos
}

// EnqueuePendingIfNotReady inspects the receive transport and appends to the
// pending subscription queue in one critical section. It returns true when the
// reference is left to the queue (appended, already queued, or already
// consumed) and false when the transport is connected and the caller must
// consume immediately. Pairs with MarkTransportConnected: an enqueue that
// completes before the transport flips connected is visible to the drain that
// follows the flip.
func (p *Peer) EnqueuePendingIfNotReady(sub PendingSubscription) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.transports[TransportDirectionRecv]; ok && t.connected {
		return false
	}
	if _, ok := p.consumerByProd[sub.ProducerID]; ok {
		return true
	}
	for _, queued := range p.pending {
		if queued.ProducerID == sub.ProducerID {
			return true
		}
	}
	p.pending = append(p.pending, sub)
	return true
}

// DrainPending empties the queue and returns its entries in FIFO order.
func (p *Peer) DrainPending() []PendingSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	drained := p.pending
	p.pending = nil
	return drained
}

// PrunePendingFromPeer drops queued references owned by the given peer. Used
// when a producing peer disconnects before the queue is drained.
func (p *Peer) PrunePendingFromPeer(producerPeerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.pending[:0]
	for _, sub := range p.pending {
		if sub.ProducerPeerID != producerPeerID {
			kept = append(kept, sub)
		}
	}
	p.pending = kept
}

// PrunePendingProducer drops a single queued producer reference. Used when a
// producer is closed explicitly before the queue is drained.
func (p *Peer) PrunePendingProducer(producerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.pending[:0]
	for _, sub := range p.pending {
		if sub.ProducerID != producerID {
			kept = append(kept, sub)
		}
	}
	p.pending = kept
}

func (p *Peer) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
