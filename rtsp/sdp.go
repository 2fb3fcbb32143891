package rtsp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/distlabs/streamcore/rtp"
)

// ErrNoStreams indicates a session description with no usable RTP media
// sections.
var ErrNoStreams = errors.New("rtsp: no valid streams detected")

// MediaEntry is the per-media-section subset of a parsed SDP the stream
// engine needs: the media kind, the negotiated profile, the control
// attribute the client SETUPs against, the PT→caps table, and any
// embedded MIKEY key material.
type MediaEntry struct {
	Kind    string // "audio", "video", "application"
	Profile rtp.Profile
	Control string
	Caps    map[uint8]rtp.Caps
	KeyMgmt *rtp.Message
}

// StreamsFromSession extracts one MediaEntry per RTP media section of a
// parsed session description. Sections whose proto is not an RTP
// profile are skipped; a session yielding no entries is an error so the
// caller can surface "no valid streams detected".
func StreamsFromSession(sd *sdp.SessionDescription) ([]MediaEntry, error) {
	var out []MediaEntry
	for _, md := range sd.MediaDescriptions {
		profile, ok := profileFromProtos(md.MediaName.Protos)
		if !ok {
			continue
		}
		entry := MediaEntry{
			Kind:    md.MediaName.Media,
			Profile: profile,
			Caps:    make(map[uint8]rtp.Caps),
		}
		if ctrl, ok := md.Attribute("control"); ok {
			entry.Control = ctrl
		}
		if km, ok := md.Attribute("key-mgmt"); ok {
			msg, err := ParseKeyMgmt(km)
			if err != nil {
				return nil, fmt.Errorf("rtsp: media %q key-mgmt: %w", md.MediaName.Media, err)
			}
			entry.KeyMgmt = msg
		}
		if err := fillCaps(md, entry.Caps); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if len(out) == 0 {
		return nil, ErrNoStreams
	}
	return out, nil
}

// fillCaps merges every rtpmap and fmtp attribute of md into caps.
func fillCaps(md *sdp.MediaDescription, caps map[uint8]rtp.Caps) error {
	for _, attr := range md.Attributes {
		switch attr.Key {
		case "rtpmap":
			pt, c, err := parseRTPMap(attr.Value)
			if err != nil {
				return err
			}
			if prev, ok := caps[pt]; ok {
				c.Extra = prev.Extra
			}
			caps[pt] = c
		case "fmtp":
			pt, params, err := parseFMTP(attr.Value)
			if err != nil {
				return err
			}
			c := caps[pt]
			if c.Extra == nil {
				c.Extra = make(map[string]string)
			}
			for k, v := range params {
				c.Extra[k] = v
			}
			caps[pt] = c
		}
	}
	return nil
}

// parseRTPMap decodes "96 H264/90000" into (96, Caps{H264, 90000}).
func parseRTPMap(value string) (uint8, rtp.Caps, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return 0, rtp.Caps{}, fmt.Errorf("rtsp: malformed rtpmap %q", value)
	}
	pt, err := parsePT(fields[0])
	if err != nil {
		return 0, rtp.Caps{}, err
	}
	name, rateStr, _ := strings.Cut(fields[1], "/")
	rate, err := strconv.ParseUint(strings.SplitN(rateStr, "/", 2)[0], 10, 32)
	if err != nil {
		return 0, rtp.Caps{}, fmt.Errorf("rtsp: malformed rtpmap clock rate %q", value)
	}
	return pt, rtp.Caps{EncodingName: strings.ToUpper(name), ClockRate: uint32(rate)}, nil
}

// parseFMTP decodes "97 apt=96;rtx-time=3000" into (97, {apt:96, rtx-time:3000}).
func parseFMTP(value string) (uint8, map[string]string, error) {
	ptStr, rest, ok := strings.Cut(value, " ")
	if !ok {
		return 0, nil, fmt.Errorf("rtsp: malformed fmtp %q", value)
	}
	pt, err := parsePT(ptStr)
	if err != nil {
		return 0, nil, err
	}
	params := make(map[string]string)
	for _, kv := range strings.Split(rest, ";") {
		k, v, _ := strings.Cut(strings.TrimSpace(kv), "=")
		params[k] = v
	}
	return pt, params, nil
}

func parsePT(s string) (uint8, error) {
	pt, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("rtsp: malformed payload type %q", s)
	}
	return uint8(pt), nil
}

// RTXPairs derives the rtxPT → original-PT map from caps whose
// encoding name is "RTX", using their "apt" (associated payload type)
// parameter. The result seeds rtp.NewRTXReceiverFromAPT.
func RTXPairs(caps map[uint8]rtp.Caps) map[uint8]uint8 {
	pairs := make(map[uint8]uint8)
	for pt, c := range caps {
		if c.EncodingName != "RTX" {
			continue
		}
		apt, err := parsePT(c.Extra["apt"])
		if err != nil {
			continue
		}
		pairs[pt] = apt
	}
	return pairs
}

// ULPFECPayloadType returns the payload type negotiated for ULPFEC, if
// any. The result configures rtp.NewFECDecoderFromCaps.
func ULPFECPayloadType(caps map[uint8]rtp.Caps) (uint8, bool) {
	for pt, c := range caps {
		if c.EncodingName == "ULPFEC" {
			return pt, true
		}
	}
	return 0, false
}

// profileFromProtos maps an SDP proto list ("RTP/AVP", "RTP/SAVPF",
// "TCP/RTP/AVP") to the RTP profile it names. The optional leading
// "TCP" token selects the lower transport, not the profile, and is
// ignored here.
func profileFromProtos(protos []string) (rtp.Profile, bool) {
	if len(protos) > 0 && protos[0] == "TCP" {
		protos = protos[1:]
	}
	if len(protos) != 2 || protos[0] != "RTP" {
		return 0, false
	}
	switch protos[1] {
	case "AVP":
		return rtp.ProfileAVP, true
	case "AVPF":
		return rtp.ProfileAVPF, true
	case "SAVP":
		return rtp.ProfileSAVP, true
	case "SAVPF":
		return rtp.ProfileSAVPF, true
	}
	return 0, false
}
