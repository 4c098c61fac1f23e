package mediastream

import (
	"log/slog"
	"sync"

	"github.com/pion/rtp"
)

// outboundFrame элемент очереди отправки
type outboundFrame struct {
	data  []byte
	flags int
	owned bool
}

// Sender выполняет отправку кадров потока: пакетизирует кадр по формату,
// проставляет sequence/timestamp/SSRC из SessionContext и передает пакеты
// в транспорт. После Start работает независимо от вызывающего потока.
//
// Для кадров, переданных во владение (PushOwnedFrame), после отправки
// вызывается установленный deallocation hook; без него память просто
// отдается сборщику мусора.
type Sender struct {
	transport Transport
	session   *SessionContext
	config    *ContextConfiguration
	metrics   *StreamMetrics

	payloader   payloader
	payloadType uint8
	mtu         uint16

	queue       chan *outboundFrame
	deallocHook DeallocationHook

	started bool
	closed  bool
	mutex   sync.RWMutex
	wg      sync.WaitGroup
}

// senderQueueDepth глубина очереди кадров на отправку
const senderQueueDepth = 64

// NewSender создает отправитель, привязанный к транспорту, конфигурации
// и общему SessionContext потока
func NewSender(transport Transport, config *ContextConfiguration, format Format, session *SessionContext, metrics *StreamMetrics) *Sender {
	return &Sender{
		transport:   transport,
		session:     session,
		config:      config,
		metrics:     metrics,
		payloader:   payloaderForFormat(format, config),
		payloadType: format.PayloadType(),
		mtu:         config.mtu(),
		queue:       make(chan *outboundFrame, senderQueueDepth),
	}
}

// Start запускает внутренний цикл отправки
func (s *Sender) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return newStreamError(ErrorCodeStreamClosed, s.session.SSRC(), "отправитель закрыт")
	}
	if s.started {
		return newStreamError(ErrorCodeInvalidState, s.session.SSRC(), "отправитель уже запущен")
	}

	s.started = true
	s.wg.Add(1)
	go s.sendLoop()

	slog.Debug("mediastream.sendLoop Started", "ssrc", s.session.SSRC())
	return nil
}

// PushFrame ставит заимствованный кадр в очередь отправки.
// Вызывающий сохраняет владение буфером и не должен менять его
// до завершения передачи; deallocation hook для таких кадров не вызывается.
func (s *Sender) PushFrame(data []byte, flags int) error {
	return s.push(&outboundFrame{data: data, flags: flags})
}

// PushOwnedFrame передает буфер во владение отправителю. После передачи
// буфер освобождается установленным deallocation hook либо, если hook
// не установлен, отдается сборщику мусора.
func (s *Sender) PushOwnedFrame(data []byte, flags int) error {
	return s.push(&outboundFrame{data: data, flags: flags, owned: true})
}

func (s *Sender) push(frame *outboundFrame) error {
	// RLock удерживается на время постановки в очередь: Shutdown
	// закрывает канал только под полным Lock
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.closed {
		return newStreamError(ErrorCodeStreamClosed, s.session.SSRC(), "отправитель закрыт")
	}
	if !s.started {
		return newStreamError(ErrorCodeNotStarted, s.session.SSRC(), "отправитель не запущен")
	}
	if len(frame.data) == 0 {
		return newStreamError(ErrorCodeInvalidValue, s.session.SSRC(), "пустой кадр")
	}

	select {
	case s.queue <- frame:
		return nil
	default:
		s.metrics.framesDropped.Inc()
		return newStreamError(ErrorCodeSendFailed, s.session.SSRC(), "очередь отправки переполнена")
	}
}

// InstallDeallocationHook устанавливает функцию освобождения памяти
// для кадров, переданных через PushOwnedFrame.
// Возвращает InvalidValue для nil hook, регистрация при этом не выполняется.
func (s *Sender) InstallDeallocationHook(hook DeallocationHook) error {
	if hook == nil {
		return newStreamError(ErrorCodeInvalidValue, s.session.SSRC(), "deallocation hook не может быть nil")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.deallocHook = hook

	return nil
}

// Shutdown останавливает отправитель: очередь закрывается,
// уже поставленные кадры дотягиваются до транспорта, затем цикл завершается.
// Повторный вызов безопасен.
func (s *Sender) Shutdown() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.closed = true
	started := s.started
	close(s.queue)
	s.mutex.Unlock()

	if started {
		s.wg.Wait()
	}
}

// sendLoop вычитывает очередь и отправляет кадры до закрытия очереди
func (s *Sender) sendLoop() {
	defer s.wg.Done()
	defer slog.Debug("mediastream.sendLoop Stopped", "ssrc", s.session.SSRC())

	for frame := range s.queue {
		if err := s.transmit(frame); err != nil {
			slog.Debug("mediastream.sendLoop ошибка отправки кадра", "ssrc", s.session.SSRC(), "error", err)
		}
		s.release(frame)
	}
}

// transmit пакетизирует один кадр и отправляет все его пакеты.
// Все фрагменты кадра несут одну временную метку; маркер ставится
// на последнем пакете кадра.
func (s *Sender) transmit(frame *outboundFrame) error {
	payloads := s.payloader.Payload(s.mtu, frame.data)
	if len(payloads) == 0 {
		return newStreamError(ErrorCodeSendFailed, s.session.SSRC(), "пакетизатор не выдал нагрузку")
	}

	timestamp := s.session.CurrentTimestamp()

	for i, payload := range payloads {
		packet := &rtp.Packet{
			Header: rtp.Header{
				Version:        expectedRTPVersion,
				Marker:         i == len(payloads)-1,
				PayloadType:    s.payloadType,
				SequenceNumber: s.session.NextSequence(),
				Timestamp:      timestamp,
				SSRC:           s.session.SSRC(),
			},
			Payload: payload,
		}

		if err := s.transport.Send(packet); err != nil {
			s.metrics.sendErrors.Inc()
			return err
		}

		s.metrics.packetsSent.Inc()
		s.metrics.bytesSent.Add(float64(len(payload)))
	}

	s.metrics.framesSent.Inc()
	return nil
}

// release освобождает кадр, переданный во владение
func (s *Sender) release(frame *outboundFrame) {
	if !frame.owned {
		return
	}

	s.mutex.RLock()
	hook := s.deallocHook
	s.mutex.RUnlock()

	if hook != nil {
		hook(frame.data)
	}
}
