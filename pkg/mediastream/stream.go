package mediastream

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/prometheus/client_golang/prometheus"
)

// Состояния жизненного цикла потока. Переходы только вперед;
// bootstrap выполняется не более одного раза на экземпляр.
const (
	StateUninitialized     = "uninitialized"
	StateBound             = "bound"
	StateNegotiatingSecure = "negotiating_secure"
	StatePlainActive       = "plain_active"
	StateSecureActive      = "secure_active"
	StateClosed            = "closed"
)

// События переходов жизненного цикла
const (
	eventBind      = "bind"
	eventActivate  = "activate"
	eventNegotiate = "negotiate"
	eventSecure    = "secure"
	eventClose     = "close"
)

// StreamConfig параметры создания медиа потока.
// Задается при создании и неизменна после начала bootstrap.
type StreamConfig struct {
	// RemoteAddr адрес удаленной стороны
	RemoteAddr string

	// LocalAddr локальный адрес привязки; пустая строка означает wildcard.
	// Явно заданный адрес имеет приоритет при привязке.
	LocalAddr string

	// SrcPort порт привязки локальной стороны
	SrcPort int

	// DstPort порт удаленной стороны
	DstPort int

	// Format формат полезной нагрузки
	Format Format

	// Flags начальная битовая маска поведенческих флагов
	Flags int

	// Metrics реестр Prometheus метрик; nil создает изолированный реестр
	Metrics prometheus.Registerer
}

// MediaStream координирует один медиа поток между локальной стороной
// и одним пиром: владеет транспортом, контекстом сессии, опциональным
// защищенным контекстом, отправителем и приемником; последовательность
// их жизней задается явным конечным автоматом.
//
// Порядок использования: NewMediaStream → Init либо InitSecure →
// PushFrame/PullFrame → Close. Конфигурационные сеттеры не
// потокобезопасны относительно bootstrap и должны завершиться до него.
type MediaStream struct {
	config StreamConfig
	key    uint32

	ctxConfig *ContextConfiguration
	metrics   *StreamMetrics

	mediaConfig      any
	mediaConfigMutex sync.RWMutex

	// единолично владеемые компоненты; nil до соответствующей фазы bootstrap
	transport *UDPTransport
	session   *SessionContext
	secure    *SecureContext
	sender    *Sender
	receiver  *Receiver

	// hooks, установленные до bootstrap, применяются при создании компонентов
	pendingRecvHook ReceiveHook
	pendingRecvArg  any
	pendingDealloc  DeallocationHook

	lifecycle *fsm.FSM
	mutex     sync.Mutex
}

// NewMediaStream создает медиа поток. Конструирование чисто в памяти
// и не может завершиться ошибкой: вся подверженная сбоям работа
// отложена до Init/InitSecure.
//
// Ключ потока (Key) генерируется здесь и неизменен до конца жизни.
func NewMediaStream(config StreamConfig) *MediaStream {
	stream := &MediaStream{
		config:    config,
		key:       generateStreamKey(),
		ctxConfig: newContextConfiguration(config.Flags),
		metrics:   newStreamMetrics(config.Metrics),
	}

	stream.lifecycle = fsm.NewFSM(
		StateUninitialized,
		fsm.Events{
			{Name: eventBind, Src: []string{StateUninitialized}, Dst: StateBound},
			{Name: eventActivate, Src: []string{StateBound}, Dst: StatePlainActive},
			{Name: eventNegotiate, Src: []string{StateBound}, Dst: StateNegotiatingSecure},
			{Name: eventSecure, Src: []string{StateNegotiatingSecure}, Dst: StateSecureActive},
			{Name: eventClose, Src: []string{
				StateUninitialized, StateBound, StateNegotiatingSecure,
				StatePlainActive, StateSecureActive,
			}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				slog.Debug("mediastream.lifecycle переход состояния",
					"key", stream.key, "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)

	return stream
}

// Init выполняет обычный bootstrap: установка соединения, создание
// контекста сессии, запуск отправителя и приемника. После успешного
// возврата поток активен и готов к PushFrame/PullFrame.
func (m *MediaStream) Init() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.lifecycle.Is(StateUninitialized) {
		return newStreamError(ErrorCodeInvalidState, m.key, "bootstrap допустим ровно один раз")
	}

	if err := m.initConnection(); err != nil {
		return err
	}

	session, err := NewSessionContext(m.config.Format)
	if err != nil {
		return wrapStreamError(ErrorCodeResourceAllocation, m.key, "ошибка создания контекста сессии", err)
	}
	m.session = session

	if err := m.startUnits(); err != nil {
		return err
	}

	_ = m.lifecycle.Event(context.Background(), eventActivate)

	slog.Debug("mediastream.Init поток активен",
		"key", m.key, "local", m.transport.LocalAddr().String(), "format", m.config.Format.String())
	return nil
}

// InitSecure выполняет защищенный bootstrap: после установки соединения
// key exchange согласует ключевой материал поверх уже привязанного сокета,
// из него активируется SecureContext и привязывается к транспорту.
//
// Инвариант порядка: Sender и Receiver создаются и запускаются строго
// после активации SecureContext. При сбое рукопожатия они не создаются
// вовсе — кадры, переданные после сбоя, не уходят в сеть.
func (m *MediaStream) InitSecure(kx KeyExchange) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if kx == nil {
		return newStreamError(ErrorCodeInvalidValue, m.key, "key exchange не может быть nil")
	}

	if !m.lifecycle.Is(StateUninitialized) {
		return newStreamError(ErrorCodeInvalidState, m.key, "bootstrap допустим ровно один раз")
	}

	_ = m.ctxConfig.SetFlag(FlagSecure)

	if err := m.initConnection(); err != nil {
		return err
	}

	session, err := NewSessionContext(m.config.Format)
	if err != nil {
		return wrapStreamError(ErrorCodeResourceAllocation, m.key, "ошибка создания контекста сессии", err)
	}
	m.session = session

	_ = m.lifecycle.Event(context.Background(), eventNegotiate)

	material, err := kx.Handshake(context.Background(), session.SSRC(), m.transport.RawConn(), m.transport.RemoteUDPAddr())
	if err != nil {
		m.metrics.handshakes.WithLabelValues("failure").Inc()
		return wrapStreamError(ErrorCodeSecureNegotiation, m.key, "согласование защищенного канала не удалось", err)
	}

	role := RoleServer
	if m.ctxConfig.HasFlag(FlagSecureClient) {
		role = RoleClient
	}

	secure, err := ActivateSecureContext(role, session, material)
	if err != nil {
		m.metrics.handshakes.WithLabelValues("failure").Inc()
		return wrapStreamError(ErrorCodeResourceAllocation, m.key, "ошибка активации защищенного контекста", err)
	}

	// с этого момента весь ввод-вывод через транспорт защищен
	m.transport.BindSecureTransform(secure)
	m.secure = secure

	if err := m.startUnits(); err != nil {
		return err
	}

	_ = m.lifecycle.Event(context.Background(), eventSecure)
	m.metrics.handshakes.WithLabelValues("success").Inc()

	slog.Debug("mediastream.InitSecure поток активен",
		"key", m.key, "role", role.String(), "format", m.config.Format.String())
	return nil
}

// initConnection общий для обоих путей bootstrap шаг установки соединения:
// создание транспорта, привязка к (LocalAddr|wildcard, SrcPort) и
// разрешение (RemoteAddr, DstPort) в получателя по умолчанию.
// Сбой любого шага прерывает bootstrap ошибкой Connection.
func (m *MediaStream) initConnection() error {
	transport, err := NewUDPTransport(UDPTransportConfig{
		LocalAddr:      m.config.LocalAddr,
		SrcPort:        m.config.SrcPort,
		SendBufferSize: int(m.ctxConfig.Value(ValueUDPSendBufferSize, 0)),
		RecvBufferSize: int(m.ctxConfig.Value(ValueUDPRecvBufferSize, 0)),
		NonBlocking:    m.ctxConfig.HasFlag(FlagNonBlockingSocket),
	})
	if err != nil {
		return wrapStreamError(ErrorCodeConnection, m.key, "ошибка создания транспорта", err)
	}

	if err := transport.SetDefaultDestination(m.config.RemoteAddr, m.config.DstPort); err != nil {
		_ = transport.Close()
		return wrapStreamError(ErrorCodeConnection, m.key, "ошибка установки получателя", err)
	}

	m.transport = transport
	_ = m.lifecycle.Event(context.Background(), eventBind)

	return nil
}

// startUnits создает и запускает Sender и Receiver, привязанные к одному
// транспорту, одной конфигурации и общему SessionContext.
// Hooks, установленные до bootstrap, применяются здесь.
func (m *MediaStream) startUnits() error {
	m.sender = NewSender(m.transport, m.ctxConfig, m.config.Format, m.session, m.metrics)
	m.receiver = NewReceiver(m.transport, m.ctxConfig, m.config.Format, m.session, m.metrics)

	if m.pendingDealloc != nil {
		_ = m.sender.InstallDeallocationHook(m.pendingDealloc)
	}
	if m.pendingRecvHook != nil {
		_ = m.receiver.InstallReceiveHook(m.pendingRecvArg, m.pendingRecvHook)
	}

	if err := m.sender.Start(); err != nil {
		return err
	}
	if err := m.receiver.Start(); err != nil {
		m.sender.Shutdown()
		return err
	}

	return nil
}

// PushFrame ставит заимствованный кадр в очередь отправки.
// Вызывающий сохраняет владение буфером; отправитель его не освобождает.
func (m *MediaStream) PushFrame(data []byte, flags int) error {
	sender, err := m.activeSender()
	if err != nil {
		return err
	}
	return sender.PushFrame(data, flags)
}

// PushOwnedFrame передает буфер во владение отправителю. Память
// освобождается установленным deallocation hook после отправки.
func (m *MediaStream) PushOwnedFrame(data []byte, flags int) error {
	sender, err := m.activeSender()
	if err != nil {
		return err
	}
	return sender.PushOwnedFrame(data, flags)
}

// PullFrame возвращает следующий собранный входящий кадр либо nil,
// если готовых кадров нет. Не блокирует.
func (m *MediaStream) PullFrame() *Frame {
	m.mutex.Lock()
	receiver := m.receiver
	m.mutex.Unlock()

	if receiver == nil {
		return nil
	}
	return receiver.PullFrame()
}

// InstallReceiveHook регистрирует асинхронную доставку входящих кадров
// вместо опроса PullFrame. До bootstrap hook запоминается и применяется
// при создании приемника. Возвращает InvalidValue для nil hook.
func (m *MediaStream) InstallReceiveHook(arg any, hook ReceiveHook) error {
	if hook == nil {
		return newStreamError(ErrorCodeInvalidValue, m.key, "receive hook не может быть nil")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.receiver != nil {
		return m.receiver.InstallReceiveHook(arg, hook)
	}

	m.pendingRecvHook = hook
	m.pendingRecvArg = arg
	return nil
}

// InstallDeallocationHook регистрирует функцию освобождения памяти кадров,
// переданных через PushOwnedFrame. Возвращает InvalidValue для nil hook.
func (m *MediaStream) InstallDeallocationHook(hook DeallocationHook) error {
	if hook == nil {
		return newStreamError(ErrorCodeInvalidValue, m.key, "deallocation hook не может быть nil")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.sender != nil {
		return m.sender.InstallDeallocationHook(hook)
	}

	m.pendingDealloc = hook
	return nil
}

// SetMediaConfig сохраняет непрозрачную формат-специфичную конфигурацию
// вызывающего. Содержимое потоком не интерпретируется и не валидируется.
func (m *MediaStream) SetMediaConfig(config any) {
	m.mediaConfigMutex.Lock()
	defer m.mediaConfigMutex.Unlock()
	m.mediaConfig = config
}

// GetMediaConfig возвращает сохраненную конфигурацию вызывающего
func (m *MediaStream) GetMediaConfig() any {
	m.mediaConfigMutex.RLock()
	defer m.mediaConfigMutex.RUnlock()
	return m.mediaConfig
}

// ConfigureValue записывает числовой параметр контекста.
// Невалидный ключ или отрицательное значение возвращают InvalidValue,
// состояние при этом не меняется.
func (m *MediaStream) ConfigureValue(key int, value int64) error {
	return m.ctxConfig.SetValue(key, value)
}

// ConfigureFlag добавляет поведенческий флаг в маску контекста через OR.
// Повторное применение флага идемпотентно. Флаг вне диапазона возвращает
// InvalidValue, маска при этом не меняется.
func (m *MediaStream) ConfigureFlag(flag int) error {
	return m.ctxConfig.SetFlag(flag)
}

// ContextFlags возвращает текущую маску поведенческих флагов
func (m *MediaStream) ContextFlags() int {
	return m.ctxConfig.Flags()
}

// Key возвращает неизменный ключ потока, сгенерированный при создании
func (m *MediaStream) Key() uint32 {
	return m.key
}

// State возвращает текущее состояние жизненного цикла
func (m *MediaStream) State() string {
	return m.lifecycle.Current()
}

// LocalAddr возвращает фактический локальный адрес транспорта
// либо nil до установки соединения
func (m *MediaStream) LocalAddr() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.transport == nil {
		return ""
	}
	return m.transport.LocalAddr().String()
}

// Describe возвращает SDP описание потока
func (m *MediaStream) Describe() (string, error) {
	secure := m.ctxConfig.HasFlag(FlagSecure)

	data, err := buildSessionDescription(m.config, m.key, secure).Marshal()
	if err != nil {
		return "", wrapStreamError(ErrorCodeResourceAllocation, m.key, "ошибка маршалинга SDP", err)
	}
	return string(data), nil
}

// Close останавливает поток и освобождает ресурсы в детерминированном
// порядке: приемник останавливается и дожидается завершения до
// освобождения SessionContext; отправитель сбрасывает очередь;
// защищенный контекст освобождается после остановки обоих.
//
// Каждый шаг пропускается, если соответствующий ресурс не был создан:
// Close безопасен при несостоявшемся или частично прошедшем bootstrap.
// Повторный вызов безопасен.
func (m *MediaStream) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.lifecycle.Is(StateClosed) {
		return nil
	}

	if m.receiver != nil {
		m.receiver.Stop()
	}

	if m.sender != nil {
		m.sender.Shutdown()
	}

	m.secure = nil

	if m.transport != nil {
		_ = m.transport.Close()
	}

	m.session = nil

	_ = m.lifecycle.Event(context.Background(), eventClose)

	slog.Debug("mediastream.Close поток закрыт", "key", m.key)
	return nil
}

// activeSender возвращает отправитель активного потока либо ошибку,
// если bootstrap не достиг активного состояния
func (m *MediaStream) activeSender() (*Sender, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.lifecycle.Is(StateClosed) {
		return nil, newStreamError(ErrorCodeStreamClosed, m.key, "поток закрыт")
	}
	if m.sender == nil || !(m.lifecycle.Is(StatePlainActive) || m.lifecycle.Is(StateSecureActive)) {
		return nil, newStreamError(ErrorCodeNotStarted, m.key, "поток не активен")
	}

	return m.sender, nil
}

// generateStreamKey генерирует 32-битный ключ потока.
// Ключи независимых потоков рисуются независимо; глобальная
// уникальность не требуется. Нулевой ключ зарезервирован как
// "ключ отсутствует" в сообщениях ошибок и никогда не выдается.
func generateStreamKey() uint32 {
	var key uint32
	for i := 0; i < 3; i++ {
		if err := binary.Read(rand.Reader, binary.BigEndian, &key); err == nil && key != 0 {
			return key
		}
	}
	return uint32(time.Now().UnixNano()) | 1
}
