package domain

import (
	"sort"
	"time"
)

type RoomID string

// DefaultMaxParticipants is the capacity of rooms provisioned on first join.
const DefaultMaxParticipants = 5

// Room is one logical session sharing a single router. Membership is only
// mutated by the room registry, which serializes access; Room itself is not
// safe for concurrent use.
type Room struct {
	ID              RoomID
	Name            string
	MaxParticipants int
	CreatedAt       time.Time
	Router          *Router

	peers map[PeerID]*Peer
}

func NewRoom(id RoomID, name string, maxParticipants int, router *Router) *Room {
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}
	return &Room{
		ID:              id,
		Name:            name,
		MaxParticipants: maxParticipants,
		CreatedAt:       time.Now(),
		Router:          router,
		peers:           make(map[PeerID]*Peer),
	}
}

func (r *Room) AddPeer(peer *Peer) {
	r.peers[peer.ID] = peer
}

func (r *Room) RemovePeer(id PeerID) bool {
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

func (r *Room) HasPeer(id PeerID) bool {
	_, ok := r.peers[id]
	return ok
}

func (r *Room) PeerCount() int {
	return len(r.peers)
}

func (r *Room) IsFull() bool {
	return len(r.peers) >= r.MaxParticipants
}

// PeerIDs returns the member ids in a stable order.
func (r *Room) PeerIDs() []PeerID {
	ids := make([]PeerID, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Room) Info() RoomInfo {
	return RoomInfo{
		ID:                  r.ID,
		Name:                r.Name,
		MaxParticipants:     r.MaxParticipants,
		CurrentParticipants: len(r.peers),
		CreatedAt:           r.CreatedAt,
	}
}

// RoomInfo is the read-only view handed to REST callers and event subscribers.
type RoomInfo struct {
	ID                  RoomID    `json:"id"`
	Name                string    `json:"name"`
	MaxParticipants     int       `json:"maxParticipants"`
	CurrentParticipants int       `json:"currentParticipants"`
	CreatedAt           time.Time `json:"createdAt"`
}
