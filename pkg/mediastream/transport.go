package mediastream

import (
	"context"
	"net"

	"github.com/pion/rtp"
)

// Transport определяет интерфейс датаграммного транспорта потока.
// Используется Sender и Receiver для отправки и получения пакетов.
type Transport interface {
	// Send отправляет RTP пакет получателю по умолчанию
	Send(packet *rtp.Packet) error

	// Receive получает RTP пакет с указанием источника
	Receive(ctx context.Context) (*rtp.Packet, net.Addr, error)

	// LocalAddr возвращает локальный адрес транспорта
	LocalAddr() net.Addr

	// RemoteAddr возвращает адрес получателя по умолчанию (если установлен)
	RemoteAddr() net.Addr

	// BindSecureTransform привязывает защищенное преобразование:
	// после привязки весь ввод-вывод через транспорт защищен
	BindSecureTransform(secure *SecureContext)

	// Close закрывает транспорт
	Close() error

	// IsActive проверяет активность транспорта
	IsActive() bool
}

// Лимиты валидации пакетов согласно RFC 3550
const (
	minRTPPacketSize = 12 // минимальный размер RTP заголовка
	maxRTPPacketSize = 1500

	expectedRTPVersion = 2

	// запас под SRTP auth tag при расшифровке in-place
	srtpAuthTagReserve = 64
)

// validatePacketSize проверяет размер датаграммы до разбора
func validatePacketSize(size int) error {
	if size < minRTPPacketSize {
		return newStreamError(ErrorCodeReceiveFailed, 0, "пакет меньше минимального размера RTP заголовка")
	}
	if size > maxRTPPacketSize+srtpAuthTagReserve {
		return newStreamError(ErrorCodeReceiveFailed, 0, "пакет превышает максимальный размер")
	}
	return nil
}

// validateRTPHeader проверяет корректность RTP заголовка согласно RFC 3550
func validateRTPHeader(header *rtp.Header) error {
	if header.Version != expectedRTPVersion {
		return newStreamError(ErrorCodeReceiveFailed, 0, "неподдерживаемая версия RTP")
	}
	if header.PayloadType > 127 {
		return newStreamError(ErrorCodeReceiveFailed, 0, "невалидный payload type")
	}
	return nil
}
