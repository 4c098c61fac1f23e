package mediastream

import "math"

// Поведенческие флаги контекста потока. Флаги комбинируются через OR
// и читаются Sender/Receiver при их создании.
const (
	// FlagSecure запрашивает защищенный канал (выставляется при InitSecure)
	FlagSecure = 1 << 0

	// FlagSecureClient выбирает клиентскую роль в key exchange
	FlagSecureClient = 1 << 1

	// FlagFragmentGeneric разрешает нарезку generic кадров по MTU
	FlagFragmentGeneric = 1 << 2

	// FlagNonBlockingSocket включает неблокирующий режим сокета
	// (на Linux/Darwin применяется через sockopt слой)
	FlagNonBlockingSocket = 1 << 3

	// FlagH264NoStartCodes отключает вставку Annex-B стартовых кодов
	// при депакетизации H.264: NAL units выдаются с 4-байтным префиксом
	// длины (AVC формат)
	FlagH264NoStartCodes = 1 << 4

	// flagLast верхняя граница пространства флагов (исключающая)
	flagLast = 1 << 5
)

// Индексы таблицы числовых параметров контекста
const (
	// ValueUDPSendBufferSize размер буфера отправки сокета в байтах
	ValueUDPSendBufferSize = iota
	// ValueUDPRecvBufferSize размер буфера приема сокета в байтах
	ValueUDPRecvBufferSize
	// ValueMTUSize максимальный размер полезной нагрузки пакета
	ValueMTUSize
	// ValueMaxReassemblyDelayMs предельное время сборки кадра из фрагментов
	ValueMaxReassemblyDelayMs
	// ValueReceiveQueueLength глубина очереди собранных кадров
	ValueReceiveQueueLength

	// valueLast верхняя граница таблицы (исключающая)
	valueLast
)

// Значения по умолчанию для таблицы параметров
const (
	defaultMTUSize            = 1400
	defaultMaxReassemblyDelay = 500 // мс
	defaultReceiveQueueLength = 128
)

// ContextConfiguration хранит битовую маску поведенческих флагов
// и таблицу числовых параметров потока. Мутируется только через
// валидирующие сеттеры; читается Sender/Receiver при создании.
//
// Сеттеры не потокобезопасны относительно bootstrap: конфигурацию
// следует завершить до Init/InitSecure либо синхронизировать снаружи.
type ContextConfiguration struct {
	flags  int
	values [valueLast]int64
	isSet  [valueLast]bool
}

// newContextConfiguration создает конфигурацию с начальной маской флагов
func newContextConfiguration(flags int) *ContextConfiguration {
	return &ContextConfiguration{flags: flags}
}

// SetFlag добавляет флаг в битовую маску через OR.
// Возвращает ошибку InvalidValue и не меняет состояние, если флаг
// отрицателен или выходит за пространство флагов. Идемпотентна:
// повторное применение флага не меняет маску.
func (c *ContextConfiguration) SetFlag(flag int) error {
	if flag < 0 || flag >= flagLast {
		return newStreamError(ErrorCodeInvalidValue, 0, "флаг вне допустимого диапазона")
	}

	c.flags |= flag
	return nil
}

// HasFlag проверяет наличие флага в маске
func (c *ContextConfiguration) HasFlag(flag int) bool {
	return c.flags&flag == flag && flag != 0
}

// Flags возвращает текущую битовую маску
func (c *ContextConfiguration) Flags() int {
	return c.flags
}

// SetValue записывает числовой параметр в таблицу.
// Возвращает ошибку InvalidValue и не меняет состояние, если ключ
// вне диапазона таблицы либо значение отрицательно.
func (c *ContextConfiguration) SetValue(key int, value int64) error {
	if key < 0 || key >= valueLast || value < 0 {
		return newStreamError(ErrorCodeInvalidValue, 0, "ключ или значение вне допустимого диапазона")
	}

	// MTU обязан помещаться в 16-битное поле размера нагрузки;
	// нулевой MTU не дает пакетизатору продвигаться по кадру
	if key == ValueMTUSize && (value == 0 || value > math.MaxUint16) {
		return newStreamError(ErrorCodeInvalidValue, 0, "MTU вне допустимого диапазона")
	}

	c.values[key] = value
	c.isSet[key] = true
	return nil
}

// Value возвращает параметр таблицы либо fallback, если параметр не задан
func (c *ContextConfiguration) Value(key int, fallback int64) int64 {
	if key < 0 || key >= valueLast || !c.isSet[key] {
		return fallback
	}
	return c.values[key]
}

// mtu возвращает действующий размер полезной нагрузки пакета.
// Значение вне диапазона uint16 заменяется значением по умолчанию.
func (c *ContextConfiguration) mtu() uint16 {
	v := c.Value(ValueMTUSize, defaultMTUSize)
	if v <= 0 || v > math.MaxUint16 {
		return defaultMTUSize
	}
	return uint16(v)
}
