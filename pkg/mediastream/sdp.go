package mediastream

import (
	"fmt"
	"time"

	"github.com/pion/sdp/v3"
)

// mediaKind возвращает тип SDP медиа секции для формата
func mediaKind(format Format) string {
	switch format {
	case FormatH264:
		return "video"
	case FormatGeneric:
		return "application"
	default:
		return "audio"
	}
}

// rtpmapFor возвращает значение rtpmap атрибута для формата
func rtpmapFor(format Format) string {
	switch format {
	case FormatH264:
		return fmt.Sprintf("%d H264/%d", format.PayloadType(), format.ClockRate())
	case FormatOpus:
		return fmt.Sprintf("%d opus/%d/2", format.PayloadType(), format.ClockRate())
	case FormatPCMU:
		return fmt.Sprintf("%d PCMU/%d", format.PayloadType(), format.ClockRate())
	case FormatPCMA:
		return fmt.Sprintf("%d PCMA/%d", format.PayloadType(), format.ClockRate())
	default:
		return fmt.Sprintf("%d raw/%d", format.PayloadType(), format.ClockRate())
	}
}

// buildSessionDescription строит SDP описание потока: адрес, порт,
// формат нагрузки и транспортный профиль (AVP либо SAVP для SRTP)
func buildSessionDescription(cfg StreamConfig, key uint32, secure bool) *sdp.SessionDescription {
	proto := []string{"RTP", "AVP"}
	if secure {
		proto = []string{"RTP", "SAVP"}
	}

	origin := cfg.LocalAddr
	if origin == "" {
		origin = "0.0.0.0"
	}

	payloadType := fmt.Sprintf("%d", cfg.Format.PayloadType())

	return &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(key),
			SessionVersion: uint64(time.Now().Unix()),
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: origin,
		},
		SessionName: "mediastream",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: cfg.RemoteAddr},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   mediaKind(cfg.Format),
					Port:    sdp.RangedPort{Value: cfg.DstPort},
					Protos:  proto,
					Formats: []string{payloadType},
				},
				Attributes: []sdp.Attribute{
					sdp.NewAttribute("rtpmap:"+rtpmapFor(cfg.Format), ""),
					sdp.NewAttribute("sendrecv", ""),
				},
			},
		},
	}
}
