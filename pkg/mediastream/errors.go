package mediastream

import (
	"errors"
	"fmt"
)

// StreamErrorCode определяет типизированные коды ошибок медиа потока.
// Позволяет классифицировать ошибки по категориям и обрабатывать их
// соответствующим образом через errors.Is.
type StreamErrorCode int

const (
	// Ошибки установки соединения (создание/привязка сокета)
	ErrorCodeConnection StreamErrorCode = iota + 2000

	// Ошибки выделения ресурсов (SessionContext, SecureContext)
	ErrorCodeResourceAllocation

	// Невалидные значения (nil hook, флаг/ключ вне диапазона, отрицательное значение)
	ErrorCodeInvalidValue

	// Ошибки согласования защищенного канала (key exchange)
	ErrorCodeSecureNegotiation

	// Ошибки жизненного цикла
	ErrorCodeInvalidState
	ErrorCodeStreamClosed
	ErrorCodeNotStarted

	// Ошибки передачи
	ErrorCodeSendFailed
	ErrorCodeReceiveFailed
)

// String возвращает строковое представление кода ошибки
func (code StreamErrorCode) String() string {
	switch code {
	case ErrorCodeConnection:
		return "Connection"
	case ErrorCodeResourceAllocation:
		return "ResourceAllocation"
	case ErrorCodeInvalidValue:
		return "InvalidValue"
	case ErrorCodeSecureNegotiation:
		return "SecureNegotiation"
	case ErrorCodeInvalidState:
		return "InvalidState"
	case ErrorCodeStreamClosed:
		return "StreamClosed"
	case ErrorCodeNotStarted:
		return "NotStarted"
	case ErrorCodeSendFailed:
		return "SendFailed"
	case ErrorCodeReceiveFailed:
		return "ReceiveFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// StreamError базовая структура ошибок медиа потока.
// Предоставляет расширенную информацию об ошибке включая:
//   - Типизированный код ошибки
//   - Ключ потока для сопоставления с логами
//   - Возможность обертывания ошибок коллабораторов
type StreamError struct {
	Code      StreamErrorCode
	Message   string
	StreamKey uint32
	Wrapped   error
}

// Error реализует интерфейс error, возвращая форматированное сообщение об ошибке.
func (e *StreamError) Error() string {
	if e.StreamKey != 0 {
		return fmt.Sprintf("[mediastream:%s] поток %08x: %s", e.Code, e.StreamKey, e.Message)
	}
	return fmt.Sprintf("[mediastream:%s] %s", e.Code, e.Message)
}

// Unwrap возвращает обернутую ошибку, поддерживая errors.Unwrap.
func (e *StreamError) Unwrap() error {
	return e.Wrapped
}

// Is поддерживает errors.Is, позволяя сравнивать ошибки по коду.
func (e *StreamError) Is(target error) bool {
	if t, ok := target.(*StreamError); ok {
		return e.Code == t.Code
	}
	return false
}

// newStreamError создает ошибку с кодом без обернутой причины
func newStreamError(code StreamErrorCode, key uint32, message string) *StreamError {
	return &StreamError{Code: code, Message: message, StreamKey: key}
}

// wrapStreamError оборачивает ошибку коллаборатора в StreamError
func wrapStreamError(code StreamErrorCode, key uint32, message string, err error) *StreamError {
	return &StreamError{Code: code, Message: message, StreamKey: key, Wrapped: err}
}

// HasErrorCode проверяет, содержит ли цепочка ошибок указанный код
func HasErrorCode(err error, code StreamErrorCode) bool {
	var streamErr *StreamError
	if AsStreamError(err, &streamErr) {
		return streamErr.Code == code
	}
	return false
}

// AsStreamError пытается найти StreamError в цепочке ошибок
func AsStreamError(err error, target **StreamError) bool {
	if err == nil {
		return false
	}
	return errors.As(err, target)
}
