package signal

import (
	"encoding/json"
	"fmt"

	"roomsignal/internal/core/domain"
	apperrors "roomsignal/pkg/errors"
	"roomsignal/pkg/utils"
	"roomsignal/pkg/validation"
)

// MessageType names an inbound request or an outbound response/event.
type MessageType string

const (
	MsgJoin                  MessageType = "join"
	MsgLeave                 MessageType = "leave"
	MsgGetRouterCapabilities MessageType = "get-router-capabilities"
	MsgCreateTransport       MessageType = "create-transport"
	MsgConnectTransport      MessageType = "connect-transport"
	MsgProduce               MessageType = "produce"
	MsgConsume               MessageType = "consume"
	MsgResumeConsumer        MessageType = "resume-consumer"
	MsgPauseProducer         MessageType = "pause-producer"
	MsgResumeProducer        MessageType = "resume-producer"
	MsgCloseProducer         MessageType = "close-producer"

	MsgJoinedRoom MessageType = "joined-room"
	MsgError      MessageType = "error"
)

// aliases accepted from older clients.
var aliases = map[MessageType]MessageType{
	"join-room":                   MsgJoin,
	"get-router-rtp-capabilities": MsgGetRouterCapabilities,
	"create-webrtc-transport":     MsgCreateTransport,
}

// Canonical resolves aliases to the message type handled by the server.
func Canonical(t MessageType) MessageType {
	if canonical, ok := aliases[t]; ok {
		return canonical
	}
	return t
}

// ResponseType is the type of the reply to a request of type t.
func ResponseType(t MessageType) MessageType {
	if t == MsgJoin {
		return MsgJoinedRoom
	}
	return t
}

// Envelope is an inbound frame.
type Envelope struct {
	ID   string          `json:"id,omitempty"`
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// OutboundMessage is a response, an error or a server event.
type OutboundMessage struct {
	ID   string      `json:"id,omitempty"`
	Type MessageType `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type ErrorData struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

func errorMessage(id string, err error) OutboundMessage {
	appErr := domain.ToAppError(err)
	return OutboundMessage{
		ID:   id,
		Type: MsgError,
		Data: ErrorData{Code: appErr.Code, Message: appErr.Message},
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidPayload, fmt.Sprintf(format, args...))
}

// decode unmarshals data into v and validates it when v knows how.
func decode(data json.RawMessage, v interface{ validate() error }) error {
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return invalid("malformed data: %v", err)
	}
	return v.validate()
}

type JoinRequest struct {
	RoomID      domain.RoomID `json:"roomId"`
	DisplayName string        `json:"displayName"`
}

func (r *JoinRequest) validate() error {
	r.DisplayName = utils.SanitizeString(r.DisplayName)
	if err := validation.ValidateRoomID(string(r.RoomID)); err != nil {
		return invalid("%v", err)
	}
	if err := validation.ValidateDisplayName(r.DisplayName); err != nil {
		return invalid("%v", err)
	}
	return nil
}

type CreateTransportRequest struct {
	Role      string `json:"role"`
	Producing *bool  `json:"producing,omitempty"`
}

func (r *CreateTransportRequest) validate() error {
	_, err := r.role()
	return err
}

func (r *CreateTransportRequest) role() (domain.TransportRole, error) {
	if r.Role == "" && r.Producing != nil {
		if *r.Producing {
			return domain.TransportRoleSend, nil
		}
		return domain.TransportRoleReceive, nil
	}
	role, err := domain.ParseTransportRole(r.Role)
	if err != nil {
		return "", invalid("role must be send or receive")
	}
	return role, nil
}

type ConnectTransportRequest struct {
	TransportID    domain.TransportID    `json:"transportId"`
	DTLSParameters domain.DTLSParameters `json:"dtlsParameters"`
}

func (r *ConnectTransportRequest) validate() error {
	if err := required("transportId", string(r.TransportID)); err != nil {
		return err
	}
	return r.DTLSParameters.Validate()
}

type ProduceRequest struct {
	TransportID   domain.TransportID   `json:"transportId"`
	Kind          domain.MediaKind     `json:"kind"`
	RTPParameters domain.RTPParameters `json:"rtpParameters"`
}

func (r *ProduceRequest) validate() error {
	if err := required("transportId", string(r.TransportID)); err != nil {
		return err
	}
	if !r.Kind.Valid() {
		return invalid("kind must be audio or video")
	}
	return r.RTPParameters.Validate()
}

type ConsumeRequest struct {
	TransportID     domain.TransportID     `json:"transportId"`
	ProducerID      domain.ProducerID      `json:"producerId"`
	RTPCapabilities domain.RTPCapabilities `json:"rtpCapabilities"`
}

func (r *ConsumeRequest) validate() error {
	if err := required("transportId", string(r.TransportID)); err != nil {
		return err
	}
	if err := required("producerId", string(r.ProducerID)); err != nil {
		return err
	}
	return r.RTPCapabilities.Validate()
}

type ConsumerRequest struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

func (r *ConsumerRequest) validate() error {
	if err := required("consumerId", string(r.ConsumerID)); err != nil {
		return err
	}
	return nil
}

type ProducerRequest struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

func (r *ProducerRequest) validate() error {
	if err := required("producerId", string(r.ProducerID)); err != nil {
		return err
	}
	return nil
}

func required(field, value string) error {
	if err := validation.ValidateNonEmptyString(value, field); err != nil {
		return invalid("%v", err)
	}
	return nil
}

type RouterCapabilitiesResponse struct {
	RTPCapabilities domain.RTPCapabilities `json:"rtpCapabilities"`
}

type TransportResponse struct {
	ID             domain.TransportID    `json:"id"`
	ICEParameters  domain.ICEParameters  `json:"iceParameters"`
	ICECandidates  []domain.ICECandidate `json:"iceCandidates"`
	DTLSParameters domain.DTLSParameters `json:"dtlsParameters"`
}

type ProducerResponse struct {
	ID domain.ProducerID `json:"id"`
}

type ConsumerResponse struct {
	ID            domain.ConsumerID    `json:"id"`
	ProducerID    domain.ProducerID    `json:"producerId"`
	Kind          domain.MediaKind     `json:"kind"`
	RTPParameters domain.RTPParameters `json:"rtpParameters"`
	Paused        bool                 `json:"paused"`
}
