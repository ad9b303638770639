package domain

import (
	"fmt"
	"strings"
)

// Parameter shapes follow the field names used by mediasoup-client so browser
// clients can pass them through unchanged.

type RTCPFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type RTPCodecCapability struct {
	Kind                 MediaKind              `json:"kind"`
	MimeType             string                 `json:"mimeType"`
	PreferredPayloadType uint8                  `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32                 `json:"clockRate"`
	Channels             uint16                 `json:"channels,omitempty"`
	Parameters           map[string]interface{} `json:"parameters,omitempty"`
	RTCPFeedback         []RTCPFeedback         `json:"rtcpFeedback,omitempty"`
}

type RTPHeaderExtension struct {
	Kind        MediaKind `json:"kind,omitempty"`
	URI         string    `json:"uri"`
	PreferredID int       `json:"preferredId"`
}

type RTPCapabilities struct {
	Codecs           []RTPCodecCapability `json:"codecs"`
	HeaderExtensions []RTPHeaderExtension `json:"headerExtensions,omitempty"`
}

func (c RTPCapabilities) Validate() error {
	if len(c.Codecs) == 0 {
		return fmt.Errorf("%w: rtpCapabilities.codecs is empty", ErrInvalidPayload)
	}
	for i, codec := range c.Codecs {
		if err := validateMime(codec.MimeType, codec.ClockRate); err != nil {
			return fmt.Errorf("rtpCapabilities.codecs[%d]: %w", i, err)
		}
	}
	return nil
}

type RTPCodecParameters struct {
	MimeType     string                 `json:"mimeType"`
	PayloadType  uint8                  `json:"payloadType"`
	ClockRate    uint32                 `json:"clockRate"`
	Channels     uint16                 `json:"channels,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	RTCPFeedback []RTCPFeedback         `json:"rtcpFeedback,omitempty"`
}

type RTPEncodingParameters struct {
	SSRC       uint32 `json:"ssrc,omitempty"`
	RID        string `json:"rid,omitempty"`
	MaxBitrate int    `json:"maxBitrate,omitempty"`
}

type RTCPParameters struct {
	CNAME       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize"`
}

type RTPParameters struct {
	MID       string                  `json:"mid,omitempty"`
	Codecs    []RTPCodecParameters    `json:"codecs"`
	Encodings []RTPEncodingParameters `json:"encodings,omitempty"`
	RTCP      *RTCPParameters         `json:"rtcp,omitempty"`
}

func (p RTPParameters) Validate() error {
	if len(p.Codecs) == 0 {
		return fmt.Errorf("%w: rtpParameters.codecs is empty", ErrInvalidPayload)
	}
	for i, codec := range p.Codecs {
		if err := validateMime(codec.MimeType, codec.ClockRate); err != nil {
			return fmt.Errorf("rtpParameters.codecs[%d]: %w", i, err)
		}
	}
	return nil
}

type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	ICELite          bool   `json:"iceLite"`
}

type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DTLSParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

func (d DTLSParameters) Validate() error {
	switch d.Role {
	case "", "auto", "client", "server":
	default:
		return fmt.Errorf("%w: unknown dtls role %q", ErrInvalidPayload, d.Role)
	}
	if len(d.Fingerprints) == 0 {
		return fmt.Errorf("%w: dtlsParameters.fingerprints is empty", ErrInvalidPayload)
	}
	for i, fp := range d.Fingerprints {
		if fp.Algorithm == "" || fp.Value == "" {
			return fmt.Errorf("%w: dtlsParameters.fingerprints[%d] is incomplete", ErrInvalidPayload, i)
		}
	}
	return nil
}

func validateMime(mimeType string, clockRate uint32) error {
	parts := strings.SplitN(mimeType, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: malformed mimeType %q", ErrInvalidPayload, mimeType)
	}
	if clockRate == 0 {
		return fmt.Errorf("%w: clockRate is required for %s", ErrInvalidPayload, mimeType)
	}
	return nil
}
