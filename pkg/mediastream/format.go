package mediastream

import (
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// Format определяет формат полезной нагрузки медиа потока.
// От формата зависят clock rate, payload type и способ пакетизации кадров.
type Format int

const (
	// FormatGeneric произвольная нагрузка без формат-специфичной пакетизации
	FormatGeneric Format = iota
	// FormatPCMU G.711 μ-law (RFC 3551)
	FormatPCMU
	// FormatPCMA G.711 A-law (RFC 3551)
	FormatPCMA
	// FormatOpus Opus аудио (RFC 7587)
	FormatOpus
	// FormatH264 H.264/AVC видео (RFC 6184)
	FormatH264
)

func (f Format) String() string {
	switch f {
	case FormatGeneric:
		return "generic"
	case FormatPCMU:
		return "PCMU"
	case FormatPCMA:
		return "PCMA"
	case FormatOpus:
		return "opus"
	case FormatH264:
		return "H264"
	default:
		return "unknown"
	}
}

// ClockRate возвращает частоту тактирования RTP для формата в Гц
func (f Format) ClockRate() uint32 {
	switch f {
	case FormatPCMU, FormatPCMA:
		return 8000
	case FormatOpus:
		return 48000
	case FormatH264:
		return 90000
	default:
		return 90000
	}
}

// PayloadType возвращает RTP payload type формата согласно RFC 3551
// (статические типы) либо из динамического диапазона
func (f Format) PayloadType() uint8 {
	switch f {
	case FormatPCMU:
		return 0
	case FormatPCMA:
		return 8
	case FormatOpus:
		return 111
	case FormatH264:
		return 96
	default:
		return 96
	}
}

// payloader инкапсулирует формат-специфичную фрагментацию кадра
// на полезные нагрузки RTP пакетов
type payloader interface {
	Payload(mtu uint16, payload []byte) [][]byte
}

// depacketizer восстанавливает байты кадра из полезной нагрузки RTP пакета
type depacketizer interface {
	Unmarshal(payload []byte) ([]byte, error)
}

// rawPayloader передает нагрузку как есть, при необходимости
// нарезая ее по MTU (для форматов без собственной схемы фрагментации)
type rawPayloader struct {
	fragment bool
}

func (p *rawPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	if len(payload) == 0 {
		return nil
	}

	// нулевой MTU не позволяет продвигаться по кадру; отправка целиком
	if !p.fragment || mtu == 0 || len(payload) <= int(mtu) {
		return [][]byte{payload}
	}

	var out [][]byte
	for len(payload) > 0 {
		n := int(mtu)
		if n > len(payload) {
			n = len(payload)
		}
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	return out
}

// rawDepacketizer возвращает нагрузку пакета без преобразований
type rawDepacketizer struct{}

func (d *rawDepacketizer) Unmarshal(payload []byte) ([]byte, error) {
	return payload, nil
}

// payloaderForFormat выбирает пакетизатор по формату потока.
// H.264 использует NAL/FU-A фрагментацию из pion/rtp (RFC 6184),
// аудио кодеки и generic проходят через rawPayloader.
func payloaderForFormat(format Format, config *ContextConfiguration) payloader {
	switch format {
	case FormatH264:
		return &codecs.H264Payloader{}
	case FormatOpus:
		return &codecs.OpusPayloader{}
	case FormatPCMU, FormatPCMA:
		return &codecs.G711Payloader{}
	default:
		return &rawPayloader{fragment: config.HasFlag(FlagFragmentGeneric)}
	}
}

// depacketizerForFormat выбирает распаковщик нагрузки по формату потока.
// Для H.264 по умолчанию NAL units выдаются с Annex-B стартовыми кодами;
// флаг FlagH264NoStartCodes переключает на AVC префиксы длины.
func depacketizerForFormat(format Format, config *ContextConfiguration) depacketizer {
	switch format {
	case FormatH264:
		return &codecs.H264Packet{IsAVC: config.HasFlag(FlagH264NoStartCodes)}
	case FormatOpus:
		return &codecs.OpusPacket{}
	default:
		return &rawDepacketizer{}
	}
}

// компиляционная проверка совместимости с интерфейсами pion/rtp
var (
	_ rtp.Payloader    = (*codecs.H264Payloader)(nil)
	_ rtp.Depacketizer = (*codecs.H264Packet)(nil)
)
