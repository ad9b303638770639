package domain

import "time"

// RoomEventType names a room lifecycle change published by the room registry.
type RoomEventType string

const (
	RoomEventCreated    RoomEventType = "room.created"
	RoomEventDeleted    RoomEventType = "room.deleted"
	RoomEventPeerJoined RoomEventType = "peer.joined"
	RoomEventPeerLeft   RoomEventType = "peer.left"
)

type RoomEvent struct {
	Type   RoomEventType `json:"type"`
	RoomID RoomID        `json:"room_id"`
	PeerID PeerID        `json:"peer_id,omitempty"`
	Room   RoomInfo      `json:"room"`
	At     time.Time     `json:"timestamp"`

	// Source is the room instance the event refers to. Room ids can be
	// reused once a room is gone, so subscribers compare instances.
	Source *Room `json:"-"`
}

// SignalType names a server-originated signalling event.
type SignalType string

const (
	SignalNewPeer         SignalType = "new-peer"
	SignalPeerLeft        SignalType = "peer-left"
	SignalNewProducer     SignalType = "new-producer"
	SignalProducerPaused  SignalType = "producer-paused"
	SignalProducerResumed SignalType = "producer-resumed"
	SignalProducerClosed  SignalType = "producer-closed"
	SignalRoomClosed      SignalType = "room-closed"
)

type SignalEvent struct {
	Type SignalType  `json:"type"`
	Data interface{} `json:"data"`
}

type NewPeerEvent struct {
	Peer PeerInfo `json:"peer"`
}

type PeerLeftEvent struct {
	PeerID PeerID `json:"peerId"`
}

type NewProducerEvent struct {
	PeerID     PeerID     `json:"peerId"`
	ProducerID ProducerID `json:"producerId"`
	Kind       MediaKind  `json:"kind"`
}

type ProducerStateEvent struct {
	PeerID     PeerID     `json:"peerId"`
	ProducerID ProducerID `json:"producerId"`
}

type RoomClosedEvent struct {
	RoomID RoomID `json:"roomId"`
}
