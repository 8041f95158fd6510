// Package sdp negotiates the single audio stream of an inbound call.
package sdp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"

	"github.com/sebas/frontdesk/internal/media"
)

// ErrNoCommonCodec is returned when the offer carries no G.711 format.
var ErrNoCommonCodec = errors.New("no common audio codec")

// Offer is the media endpoint and capabilities extracted from a remote SDP.
type Offer struct {
	Addr    string
	Port    int
	Formats []string
	// DTMF is the payload type of telephone-event if offered, 0 otherwise.
	DTMF uint8
}

// Answer describes the negotiated stream.
type Answer struct {
	Codec media.Codec
	DTMF  uint8
}

// ParseOffer extracts the first audio media description of body.
func ParseOffer(body []byte) (*Offer, error) {
	if len(body) == 0 {
		return nil, errors.New("no SDP body")
	}
	desc := &psdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("failed to parse SDP: %w", err)
	}

	var md *psdp.MediaDescription
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			md = m
			break
		}
	}
	if md == nil {
		return nil, errors.New("no audio media description in SDP")
	}

	offer := &Offer{
		Port:    md.MediaName.Port.Value,
		Formats: md.MediaName.Formats,
	}
	if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
		offer.Addr = md.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		offer.Addr = desc.ConnectionInformation.Address.Address
	}
	if offer.Addr == "" {
		return nil, errors.New("no connection address in SDP")
	}

	for _, a := range md.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		pt, enc, ok := strings.Cut(a.Value, " ")
		if !ok || !strings.HasPrefix(strings.ToLower(enc), "telephone-event/8000") {
			continue
		}
		if n, err := strconv.ParseUint(pt, 10, 8); err == nil {
			offer.DTMF = uint8(n)
		}
	}
	return offer, nil
}

// Negotiate picks the codec for the answer. PCMU wins over PCMA because it
// needs no transcoding towards the AI session.
func (o *Offer) Negotiate() (Answer, error) {
	var pcma bool
	for _, f := range o.Formats {
		switch f {
		case "0":
			return Answer{Codec: media.CodecPCMU, DTMF: o.DTMF}, nil
		case "8":
			pcma = true
		}
	}
	if pcma {
		return Answer{Codec: media.CodecPCMA, DTMF: o.DTMF}, nil
	}
	return Answer{}, ErrNoCommonCodec
}

var rtpmaps = map[uint8]string{
	0: "PCMU/8000",
	8: "PCMA/8000",
}

// BuildAnswer renders the SDP answer for a local RTP endpoint.
func BuildAnswer(addr string, port int, ans Answer) ([]byte, error) {
	formats := []string{strconv.Itoa(int(ans.Codec.PayloadType))}
	attrs := []psdp.Attribute{
		{Key: "rtpmap", Value: fmt.Sprintf("%d %s", ans.Codec.PayloadType, rtpmaps[ans.Codec.PayloadType])},
	}
	if ans.DTMF != 0 {
		dtmf := strconv.Itoa(int(ans.DTMF))
		formats = append(formats, dtmf)
		attrs = append(attrs,
			psdp.Attribute{Key: "rtpmap", Value: dtmf + " telephone-event/8000"},
			psdp.Attribute{Key: "fmtp", Value: dtmf + " 0-15"},
		)
	}
	attrs = append(attrs,
		psdp.Attribute{Key: "ptime", Value: "20"},
		psdp.Attribute{Key: "sendrecv"},
	)

	desc := &psdp.SessionDescription{
		Origin: psdp.Origin{
			Username:       "frontdesk",
			SessionID:      uint64(media.GenerateSSRC()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: "FrontDesk",
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: addr},
		},
		TimeDescriptions: []psdp.TimeDescription{{Timing: psdp.Timing{}}},
		MediaDescriptions: []*psdp.MediaDescription{
			{
				MediaName: psdp.MediaName{
					Media:   "audio",
					Port:    psdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attrs,
			},
		},
	}
	return desc.Marshal()
}
