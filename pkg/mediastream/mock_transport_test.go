package mediastream

import (
	"context"
	"net"
	"sync"

	"github.com/pion/rtp"
)

// === MOCK ТРАНСПОРТ ДЛЯ ТЕСТИРОВАНИЯ ===

// MockTransport имитирует транспорт потока для unit тестов
type MockTransport struct {
	mutex           sync.Mutex
	sentPackets     []*rtp.Packet
	receivedPackets chan *rtp.Packet
	localAddr       *net.UDPAddr
	remoteAddr      *net.UDPAddr
	secure          *SecureContext
	active          bool
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		sentPackets:     make([]*rtp.Packet, 0),
		receivedPackets: make(chan *rtp.Packet, 100),
		localAddr:       &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5004},
		remoteAddr:      &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5006},
		active:          true,
	}
}

func (mt *MockTransport) Send(packet *rtp.Packet) error {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	if !mt.active {
		return newStreamError(ErrorCodeSendFailed, 0, "транспорт не активен")
	}
	mt.sentPackets = append(mt.sentPackets, packet)
	return nil
}

func (mt *MockTransport) Receive(ctx context.Context) (*rtp.Packet, net.Addr, error) {
	mt.mutex.Lock()
	active := mt.active
	remoteAddr := mt.remoteAddr
	mt.mutex.Unlock()

	if !active {
		return nil, nil, newStreamError(ErrorCodeReceiveFailed, 0, "транспорт не активен")
	}

	select {
	case packet := <-mt.receivedPackets:
		return packet, remoteAddr, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (mt *MockTransport) LocalAddr() net.Addr {
	return mt.localAddr
}

func (mt *MockTransport) RemoteAddr() net.Addr {
	return mt.remoteAddr
}

func (mt *MockTransport) BindSecureTransform(secure *SecureContext) {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()
	mt.secure = secure
}

func (mt *MockTransport) Close() error {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	mt.active = false
	return nil
}

func (mt *MockTransport) IsActive() bool {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()
	return mt.active
}

// SentPackets возвращает копию списка отправленных пакетов
func (mt *MockTransport) SentPackets() []*rtp.Packet {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	out := make([]*rtp.Packet, len(mt.sentPackets))
	copy(out, mt.sentPackets)
	return out
}

// InjectPacket подает пакет в канал приема
func (mt *MockTransport) InjectPacket(packet *rtp.Packet) {
	mt.receivedPackets <- packet
}

// компиляционная проверка соответствия интерфейсу
var _ Transport = (*MockTransport)(nil)
