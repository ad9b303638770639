package domain

import (
	"sort"
	"sync"
	"time"
)

type PeerID string

// ConnectionID identifies one signalling connection.
type ConnectionID string

// Peer is one participant in a room. It exclusively owns the media handles it
// created; lookups are restricted to the peer's own maps.
type Peer struct {
	ID          PeerID
	DisplayName string
	RoomID      RoomID
	JoinedAt    time.Time

	mu         sync.RWMutex
	transports map[TransportID]*Transport
	producers  map[ProducerID]*Producer
	consumers  map[ConsumerID]*Consumer
}

func NewPeer(id PeerID, displayName string, roomID RoomID) *Peer {
	return &Peer{
		ID:          id,
		DisplayName: displayName,
		RoomID:      roomID,
		JoinedAt:    time.Now(),
		transports:  make(map[TransportID]*Transport),
		producers:   make(map[ProducerID]*Producer),
		consumers:   make(map[ConsumerID]*Consumer),
	}
}

func (p *Peer) AddTransport(t *Transport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transports[t.ID] = t
}

func (p *Peer) Transport(id TransportID) (*Transport, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.transports[id]
	if !ok {
		return nil, ErrTransportNotFound
	}
	return t, nil
}

func (p *Peer) AddProducer(prod *Producer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.producers[prod.ID] = prod
}

func (p *Peer) Producer(id ProducerID) (*Producer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	prod, ok := p.producers[id]
	if !ok {
		return nil, ErrProducerNotFound
	}
	return prod, nil
}

func (p *Peer) RemoveProducer(id ProducerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.producers, id)
}

func (p *Peer) AddConsumer(c *Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers[c.ID] = c
}

func (p *Peer) Consumer(id ConsumerID) (*Consumer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.consumers[id]
	if !ok {
		return nil, ErrConsumerNotFound
	}
	return c, nil
}

func (p *Peer) RemoveConsumer(id ConsumerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.consumers, id)
}

func (p *Peer) ProducerIDs() []ProducerID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]ProducerID, 0, len(p.producers))
	for id := range p.producers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (p *Peer) Producers() []*Producer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Producer, 0, len(p.producers))
	for _, prod := range p.producers {
		out = append(out, prod)
	}
	return out
}

func (p *Peer) HandleCounts() (transports, producers, consumers int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.transports), len(p.producers), len(p.consumers)
}

// Release empties every handle map and returns the transports that were owned,
// so the caller can close them through the media engine. Closing a transport
// closes its producers and consumers.
func (p *Peer) Release() []*Transport {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Transport, 0, len(p.transports))
	for _, t := range p.transports {
		out = append(out, t)
	}
	p.transports = make(map[TransportID]*Transport)
	p.producers = make(map[ProducerID]*Producer)
	p.consumers = make(map[ConsumerID]*Consumer)
	return out
}

func (p *Peer) Info() PeerInfo {
	return PeerInfo{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		ProducerIDs: p.ProducerIDs(),
	}
}

// PeerInfo is the participant summary sent to other members.
type PeerInfo struct {
	ID          PeerID       `json:"id"`
	DisplayName string       `json:"displayName"`
	ProducerIDs []ProducerID `json:"producerIds"`
}
