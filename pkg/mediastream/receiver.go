package mediastream

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// Receiver принимает датаграммы потока в фоне, депакетизирует нагрузку
// и собирает кадры из фрагментов. Прием начинается сразу после Start
// независимо от того, опрашивает ли вызывающий PullFrame.
//
// Доставка собранных кадров: очередь опроса PullFrame либо установленный
// receive hook. Режимы взаимоисключающие: установка hook отключает очередь.
type Receiver struct {
	transport Transport
	session   *SessionContext
	config    *ContextConfiguration
	metrics   *StreamMetrics

	depacketizer depacketizer
	assembler    *frameAssembler

	frames   chan *Frame
	hook     ReceiveHook
	hookArg  any
	hookOnce sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	mutex   sync.Mutex
	wg      sync.WaitGroup
}

// NewReceiver создает приемник, привязанный к транспорту, конфигурации
// и общему SessionContext потока
func NewReceiver(transport Transport, config *ContextConfiguration, format Format, session *SessionContext, metrics *StreamMetrics) *Receiver {
	queueLen := int(config.Value(ValueReceiveQueueLength, defaultReceiveQueueLength))
	maxDelay := time.Duration(config.Value(ValueMaxReassemblyDelayMs, defaultMaxReassemblyDelay)) * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())

	return &Receiver{
		transport:    transport,
		session:      session,
		config:       config,
		metrics:      metrics,
		depacketizer: depacketizerForFormat(format, config),
		assembler:    newFrameAssembler(maxDelay),
		frames:       make(chan *Frame, queueLen),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start запускает фоновый цикл приема
func (r *Receiver) Start() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.stopped {
		return newStreamError(ErrorCodeStreamClosed, r.session.SSRC(), "приемник остановлен")
	}
	if r.started {
		return newStreamError(ErrorCodeInvalidState, r.session.SSRC(), "приемник уже запущен")
	}

	r.started = true
	r.wg.Add(1)
	go r.receiveLoop()

	slog.Debug("mediastream.receiveLoop Started", "ssrc", r.session.SSRC())
	return nil
}

// Stop останавливает фоновый прием и дожидается завершения цикла.
// После возврата приемник гарантированно не обращается к SessionContext.
// Повторный вызов безопасен.
func (r *Receiver) Stop() {
	r.mutex.Lock()
	if r.stopped {
		r.mutex.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mutex.Unlock()

	r.cancel()
	if started {
		r.wg.Wait()
	}
}

// PullFrame возвращает следующий собранный кадр либо nil, если готовых
// кадров нет. Вызов не блокирует.
func (r *Receiver) PullFrame() *Frame {
	select {
	case frame := <-r.frames:
		return frame
	default:
		return nil
	}
}

// InstallReceiveHook регистрирует асинхронную доставку кадров.
// Возвращает InvalidValue для nil hook, регистрация при этом не выполняется.
// Установленный hook заменяет доставку через очередь PullFrame;
// кадры, накопившиеся в очереди до установки, досылаются hook.
func (r *Receiver) InstallReceiveHook(arg any, hook ReceiveHook) error {
	if hook == nil {
		return newStreamError(ErrorCodeInvalidValue, r.session.SSRC(), "receive hook не может быть nil")
	}

	r.hookOnce.Lock()
	r.hook = hook
	r.hookArg = arg
	r.hookOnce.Unlock()

	for {
		select {
		case frame := <-r.frames:
			hook(arg, frame)
		default:
			return nil
		}
	}
}

// receiveLoop вычитывает транспорт до отмены контекста
func (r *Receiver) receiveLoop() {
	defer r.wg.Done()
	defer slog.Debug("mediastream.receiveLoop Stopped", "ssrc", r.session.SSRC())

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		packet, _, err := r.transport.Receive(r.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			// таймауты чтения являются нормальным пульсом цикла
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			r.metrics.receiveErrors.Inc()
			continue
		}

		r.metrics.packetsReceived.Inc()
		r.metrics.bytesReceived.Add(float64(len(packet.Payload)))

		r.handlePacket(packet)
	}
}

// handlePacket депакетизирует нагрузку и продвигает сборку кадра
func (r *Receiver) handlePacket(packet *rtp.Packet) {
	payload, err := r.depacketizer.Unmarshal(packet.Payload)
	if err != nil {
		r.metrics.receiveErrors.Inc()
		return
	}

	for _, frame := range r.assembler.push(packet, payload) {
		r.deliver(frame)
	}
}

// deliver отдает кадр установленному hook либо в очередь опроса.
// При переполнении очереди самый старый кадр вытесняется.
func (r *Receiver) deliver(frame *Frame) {
	r.hookOnce.RLock()
	hook := r.hook
	arg := r.hookArg
	r.hookOnce.RUnlock()

	r.metrics.framesReceived.Inc()

	if hook != nil {
		hook(arg, frame)
		return
	}

	for {
		select {
		case r.frames <- frame:
			return
		default:
		}

		select {
		case <-r.frames:
			r.metrics.framesDropped.Inc()
		default:
		}
	}
}

// pendingFrame кадр в процессе сборки из фрагментов
type pendingFrame struct {
	timestamp uint32
	ssrc      uint32
	payload   uint8
	firstSeen time.Time

	// фрагменты по sequence number: допускает прибытие вне порядка
	parts map[uint16][]byte
	seqs  []uint16

	complete bool
}

// frameAssembler группирует пакеты по временной метке и завершает кадр
// по marker биту. Кадры, не собравшиеся за maxDelay, отбрасываются.
type frameAssembler struct {
	pending  map[uint32]*pendingFrame
	maxDelay time.Duration
}

func newFrameAssembler(maxDelay time.Duration) *frameAssembler {
	return &frameAssembler{
		pending:  make(map[uint32]*pendingFrame),
		maxDelay: maxDelay,
	}
}

// push добавляет пакет и возвращает кадры, готовые к доставке
func (a *frameAssembler) push(packet *rtp.Packet, payload []byte) []*Frame {
	ts := packet.Header.Timestamp

	pf, ok := a.pending[ts]
	if !ok {
		pf = &pendingFrame{
			timestamp: ts,
			ssrc:      packet.Header.SSRC,
			payload:   packet.Header.PayloadType,
			firstSeen: time.Now(),
			parts:     make(map[uint16][]byte),
		}
		a.pending[ts] = pf
	}

	seq := packet.Header.SequenceNumber
	if _, dup := pf.parts[seq]; !dup {
		pf.parts[seq] = payload
		pf.seqs = append(pf.seqs, seq)
	}
	if packet.Header.Marker {
		pf.complete = true
	}

	var out []*Frame
	if pf.complete {
		out = append(out, pf.assemble())
		delete(a.pending, ts)
	}

	a.dropLate()
	return out
}

// assemble склеивает фрагменты кадра в порядке sequence numbers
// с учетом переполнения 16-битного счетчика
func (p *pendingFrame) assemble() *Frame {
	base := p.seqs[0]
	sort.Slice(p.seqs, func(i, j int) bool {
		return (p.seqs[i] - base) < (p.seqs[j] - base)
	})

	var size int
	for _, seq := range p.seqs {
		size += len(p.parts[seq])
	}

	data := make([]byte, 0, size)
	for _, seq := range p.seqs {
		data = append(data, p.parts[seq]...)
	}

	return &Frame{
		Data:        data,
		Timestamp:   p.timestamp,
		SSRC:        p.ssrc,
		PayloadType: p.payload,
		SeqFirst:    p.seqs[0],
		SeqLast:     p.seqs[len(p.seqs)-1],
	}
}

// dropLate отбрасывает кадры, чья сборка превысила предельное время
func (a *frameAssembler) dropLate() {
	if a.maxDelay <= 0 {
		return
	}

	now := time.Now()
	for ts, pf := range a.pending {
		if now.Sub(pf.firstSeen) > a.maxDelay {
			delete(a.pending, ts)
		}
	}
}
