package mediastream

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// UDPTransport реализует Transport поверх UDP сокета.
// Создание и привязка выполняются конструктором; получатель по умолчанию
// устанавливается отдельным шагом SetDefaultDestination, как того требует
// последовательность bootstrap потока.
type UDPTransport struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	secure     *SecureContext
	readBuf    int

	active bool
	mutex  sync.RWMutex
}

// UDPTransportConfig параметры создания UDP транспорта
type UDPTransportConfig struct {
	// LocalAddr локальный адрес для привязки; пустая строка означает wildcard
	LocalAddr string

	// SrcPort порт привязки
	SrcPort int

	// SendBufferSize и RecvBufferSize размеры буферов сокета (0 = системные)
	SendBufferSize int
	RecvBufferSize int

	// NonBlocking применяет неблокирующий режим на уровне sockopt слоя
	NonBlocking bool
}

// NewUDPTransport создает UDP транспорт и привязывает его к
// (LocalAddr, SrcPort); при пустом LocalAddr привязка идет к wildcard адресу
func NewUDPTransport(config UDPTransportConfig) (*UDPTransport, error) {
	bindAddr := &net.UDPAddr{Port: config.SrcPort}
	if config.LocalAddr != "" {
		ip := net.ParseIP(config.LocalAddr)
		if ip == nil {
			return nil, newStreamError(ErrorCodeConnection, 0,
				fmt.Sprintf("невалидный локальный адрес %q", config.LocalAddr))
		}
		bindAddr.IP = ip
	}

	conn, err := net.ListenUDP("udp", bindAddr)
	if err != nil {
		return nil, wrapStreamError(ErrorCodeConnection, 0, "ошибка привязки UDP сокета", err)
	}

	if config.SendBufferSize > 0 {
		_ = conn.SetWriteBuffer(config.SendBufferSize)
	}
	if config.RecvBufferSize > 0 {
		_ = conn.SetReadBuffer(config.RecvBufferSize)
	}

	if err := tuneSocketForMedia(conn, config.NonBlocking); err != nil {
		conn.Close()
		return nil, wrapStreamError(ErrorCodeConnection, 0, "ошибка настройки сокета", err)
	}

	return &UDPTransport{
		conn:    conn,
		readBuf: maxRTPPacketSize + srtpAuthTagReserve,
		active:  true,
	}, nil
}

// SetDefaultDestination разрешает (addr, port) и устанавливает результат
// как получателя по умолчанию для Send
func (t *UDPTransport) SetDefaultDestination(addr string, port int) error {
	remoteAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(addr, fmt.Sprintf("%d", port)))
	if err != nil {
		return wrapStreamError(ErrorCodeConnection, 0, "ошибка разрешения адреса получателя", err)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.remoteAddr = remoteAddr

	return nil
}

// RawConn возвращает низкоуровневый сокет транспорта.
// Используется key exchange для handshake поверх уже привязанного сокета.
func (t *UDPTransport) RawConn() *net.UDPConn {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.conn
}

// RemoteUDPAddr возвращает разрешенного получателя по умолчанию
func (t *UDPTransport) RemoteUDPAddr() *net.UDPAddr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.remoteAddr
}

// BindSecureTransform привязывает SRTP преобразование к транспорту.
// После привязки каждый Send шифрует пакет, каждый Receive расшифровывает.
// Привязка сохраняется до закрытия транспорта.
func (t *UDPTransport) BindSecureTransform(secure *SecureContext) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.secure = secure
}

// Send отправляет RTP пакет получателю по умолчанию
func (t *UDPTransport) Send(packet *rtp.Packet) error {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	remoteAddr := t.remoteAddr
	secure := t.secure
	t.mutex.RUnlock()

	if !active {
		return newStreamError(ErrorCodeSendFailed, 0, "транспорт не активен")
	}

	if remoteAddr == nil {
		return newStreamError(ErrorCodeSendFailed, 0, "получатель по умолчанию не установлен")
	}

	if err := validateRTPHeader(&packet.Header); err != nil {
		return err
	}

	data, err := packet.Marshal()
	if err != nil {
		return wrapStreamError(ErrorCodeSendFailed, 0, "ошибка маршалинга RTP пакета", err)
	}

	if secure != nil {
		data, err = secure.protect(data, &packet.Header)
		if err != nil {
			return wrapStreamError(ErrorCodeSendFailed, 0, "ошибка SRTP защиты пакета", err)
		}
	}

	if _, err = conn.WriteToUDP(data, remoteAddr); err != nil {
		return wrapStreamError(ErrorCodeSendFailed, 0, "ошибка отправки UDP", err)
	}

	return nil
}

// Receive получает и разбирает один RTP пакет.
// Внутренний дедлайн чтения удерживает вызов отзывчивым к отмене контекста.
func (t *UDPTransport) Receive(ctx context.Context) (*rtp.Packet, net.Addr, error) {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	secure := t.secure
	bufferSize := t.readBuf
	t.mutex.RUnlock()

	if !active {
		return nil, nil, newStreamError(ErrorCodeReceiveFailed, 0, "транспорт не активен")
	}

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	buffer := make([]byte, bufferSize)
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

	n, addr, err := conn.ReadFromUDP(buffer)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		return nil, nil, err
	}

	if err := validatePacketSize(n); err != nil {
		return nil, nil, err
	}

	data := buffer[:n]
	if secure != nil {
		data, err = secure.unprotect(data)
		if err != nil {
			return nil, nil, wrapStreamError(ErrorCodeReceiveFailed, 0, "ошибка SRTP расшифровки пакета", err)
		}
	}

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(data); err != nil {
		return nil, nil, wrapStreamError(ErrorCodeReceiveFailed, 0, "ошибка демаршалинга RTP пакета", err)
	}

	if err := validateRTPHeader(&packet.Header); err != nil {
		return nil, nil, err
	}

	return packet, addr, nil
}

// LocalAddr возвращает локальный адрес транспорта
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// RemoteAddr возвращает получателя по умолчанию
func (t *UDPTransport) RemoteAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.remoteAddr == nil {
		return nil
	}
	return t.remoteAddr
}

// Close закрывает транспорт; повторный вызов безопасен
func (t *UDPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.active {
		return nil
	}

	t.active = false

	if t.conn != nil {
		return t.conn.Close()
	}

	return nil
}

// IsActive проверяет активность транспорта
func (t *UDPTransport) IsActive() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.active
}
