package domain

import (
	"fmt"
	"strings"
)

type (
	RouterID    string
	TransportID string
	ProducerID  string
	ConsumerID  string
)

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindVideo
}

type TransportRole string

const (
	TransportRoleSend    TransportRole = "send"
	TransportRoleReceive TransportRole = "receive"
)

func (r TransportRole) Valid() bool {
	return r == TransportRoleSend || r == TransportRoleReceive
}

// ParseTransportRole accepts the canonical role names and the short "recv".
func ParseTransportRole(s string) (TransportRole, error) {
	switch strings.ToLower(s) {
	case "send":
		return TransportRoleSend, nil
	case "receive", "recv":
		return TransportRoleReceive, nil
	default:
		return "", fmt.Errorf("%w: unknown transport role %q", ErrInvalidPayload, s)
	}
}

type HandleKind string

const (
	HandleKindRouter    HandleKind = "router"
	HandleKindTransport HandleKind = "transport"
	HandleKindProducer  HandleKind = "producer"
	HandleKindConsumer  HandleKind = "consumer"
)

// Handle is an opaque reference to a resource owned by the media engine.
type Handle interface {
	HandleID() string
	HandleKind() HandleKind
}

type Router struct {
	ID              RouterID
	RoomID          RoomID
	RTPCapabilities RTPCapabilities
}

func (r *Router) HandleID() string       { return string(r.ID) }
func (r *Router) HandleKind() HandleKind { return HandleKindRouter }

type Transport struct {
	ID             TransportID
	RouterID       RouterID
	Role           TransportRole
	ICEParameters  ICEParameters
	ICECandidates  []ICECandidate
	DTLSParameters DTLSParameters
}

func (t *Transport) HandleID() string       { return string(t.ID) }
func (t *Transport) HandleKind() HandleKind { return HandleKindTransport }

type Producer struct {
	ID            ProducerID
	TransportID   TransportID
	Kind          MediaKind
	RTPParameters RTPParameters
}

func (p *Producer) HandleID() string       { return string(p.ID) }
func (p *Producer) HandleKind() HandleKind { return HandleKindProducer }

type Consumer struct {
	ID            ConsumerID
	TransportID   TransportID
	ProducerID    ProducerID
	Kind          MediaKind
	RTPParameters RTPParameters
	Paused        bool
}

func (c *Consumer) HandleID() string       { return string(c.ID) }
func (c *Consumer) HandleKind() HandleKind { return HandleKindConsumer }

// WorkerStats reports the load of one media worker.
type WorkerStats struct {
	Index      int `json:"index"`
	Routers    int `json:"routers"`
	Transports int `json:"transports"`
	Producers  int `json:"producers"`
	Consumers  int `json:"consumers"`
}
