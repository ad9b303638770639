package local

import (
	"fmt"
	"strings"

	"roomsignal/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

var videoFeedback = []domain.RTCPFeedback{
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "goog-remb"},
	{Type: "transport-cc"},
}

// codecPresets maps the names accepted in media.codecs to router codecs.
var codecPresets = map[string][]domain.RTPCodecCapability{
	"opus": {{
		Kind:                 domain.MediaKindAudio,
		MimeType:             webrtc.MimeTypeOpus,
		PreferredPayloadType: 100,
		ClockRate:            48000,
		Channels:             2,
		Parameters:           map[string]interface{}{"minptime": 10, "useinbandfec": 1},
		RTCPFeedback:         []domain.RTCPFeedback{{Type: "transport-cc"}},
	}},
	"vp8": {{
		Kind:                 domain.MediaKindVideo,
		MimeType:             webrtc.MimeTypeVP8,
		PreferredPayloadType: 101,
		ClockRate:            90000,
		RTCPFeedback:         videoFeedback,
	}},
	"vp9": {{
		Kind:                 domain.MediaKindVideo,
		MimeType:             webrtc.MimeTypeVP9,
		PreferredPayloadType: 102,
		ClockRate:            90000,
		Parameters:           map[string]interface{}{"profile-id": 2},
		RTCPFeedback:         videoFeedback,
	}},
	"h264": {
		{
			Kind:                 domain.MediaKindVideo,
			MimeType:             webrtc.MimeTypeH264,
			PreferredPayloadType: 103,
			ClockRate:            90000,
			Parameters: map[string]interface{}{
				"packetization-mode":      1,
				"profile-level-id":        "42e01f",
				"level-asymmetry-allowed": 1,
			},
			RTCPFeedback: videoFeedback,
		},
		{
			Kind:                 domain.MediaKindVideo,
			MimeType:             webrtc.MimeTypeH264,
			PreferredPayloadType: 104,
			ClockRate:            90000,
			Parameters: map[string]interface{}{
				"packetization-mode":      1,
				"profile-level-id":        "4d0032",
				"level-asymmetry-allowed": 1,
			},
			RTCPFeedback: videoFeedback,
		},
	},
}

var headerExtensions = []domain.RTPHeaderExtension{
	{Kind: domain.MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
	{Kind: domain.MediaKindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
	{Kind: domain.MediaKindVideo, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredID: 4},
	{Kind: domain.MediaKindVideo, URI: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01", PreferredID: 5},
	{Kind: domain.MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredID: 10},
}

// routerCapabilities builds the capability set shared by every router.
func routerCapabilities(names []string) (domain.RTPCapabilities, error) {
	caps := domain.RTPCapabilities{HeaderExtensions: headerExtensions}
	seen := make(map[string]bool)
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		preset, ok := codecPresets[key]
		if !ok {
			return domain.RTPCapabilities{}, fmt.Errorf("unsupported codec %q", name)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		caps.Codecs = append(caps.Codecs, preset...)
	}
	if len(caps.Codecs) == 0 {
		return domain.RTPCapabilities{}, fmt.Errorf("no codecs configured")
	}
	return caps, nil
}

func kindOfMime(mimeType string) domain.MediaKind {
	prefix, _, _ := strings.Cut(strings.ToLower(mimeType), "/")
	return domain.MediaKind(prefix)
}

// codecMatches compares a negotiated codec with a capability: mime type is
// case-insensitive, clock rate must be equal, and for audio the channel
// count must agree (an absent count means mono).
func codecMatches(capability domain.RTPCodecCapability, mimeType string, clockRate uint32, channels uint16) bool {
	if !strings.EqualFold(capability.MimeType, mimeType) || capability.ClockRate != clockRate {
		return false
	}
	if kindOfMime(mimeType) == domain.MediaKindAudio {
		return normChannels(capability.Channels) == normChannels(channels)
	}
	return true
}

func normChannels(c uint16) uint16 {
	if c == 0 {
		return 1
	}
	return c
}

// supportedCodec returns the first codec of params the router can route.
func supportedCodec(routerCaps domain.RTPCapabilities, kind domain.MediaKind, params domain.RTPParameters) (domain.RTPCodecParameters, bool) {
	for _, codec := range params.Codecs {
		if kindOfMime(codec.MimeType) != kind {
			continue
		}
		for _, capability := range routerCaps.Codecs {
			if capability.Kind == kind && codecMatches(capability, codec.MimeType, codec.ClockRate, codec.Channels) {
				return codec, true
			}
		}
	}
	return domain.RTPCodecParameters{}, false
}

// receiverCodec finds the capability the receiver declared for codec.
func receiverCodec(caps domain.RTPCapabilities, codec domain.RTPCodecParameters) (domain.RTPCodecCapability, bool) {
	for _, capability := range caps.Codecs {
		if codecMatches(capability, codec.MimeType, codec.ClockRate, codec.Channels) {
			return capability, true
		}
	}
	return domain.RTPCodecCapability{}, false
}
