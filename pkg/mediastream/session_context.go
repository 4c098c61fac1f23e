package mediastream

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"
	"time"
)

// SessionContext хранит состояние идентичности и нумерации потока:
// SSRC, sequence number, RTP timestamp. Разделяется по ссылке между
// Sender, Receiver и SecureContext; владеет им MediaStream, и его
// время жизни превышает время жизни всех потребителей.
type SessionContext struct {
	ssrc      uint32
	format    Format
	clockRate uint32

	sequence  atomic.Uint32
	tsBase    uint32
	startTime time.Time
}

// NewSessionContext создает контекст сессии для формата нагрузки.
// SSRC и начальные sequence/timestamp берутся из crypto/rand
// согласно RFC 3550 Appendix A.6.
func NewSessionContext(format Format) (*SessionContext, error) {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, wrapStreamError(ErrorCodeResourceAllocation, 0, "ошибка генерации идентичности сессии", err)
	}

	ctx := &SessionContext{
		ssrc:      binary.BigEndian.Uint32(seed[0:4]),
		format:    format,
		clockRate: format.ClockRate(),
		tsBase:    binary.BigEndian.Uint32(seed[4:8]),
		startTime: time.Now(),
	}
	ctx.sequence.Store(uint32(binary.BigEndian.Uint16(seed[0:2])))

	return ctx, nil
}

// SSRC возвращает идентификатор источника потока
func (s *SessionContext) SSRC() uint32 {
	return s.ssrc
}

// Format возвращает формат нагрузки сессии
func (s *SessionContext) Format() Format {
	return s.format
}

// ClockRate возвращает частоту тактирования RTP в Гц
func (s *SessionContext) ClockRate() uint32 {
	return s.clockRate
}

// NextSequence атомарно выдает следующий sequence number.
// Переполнение с 65535 до 0 является нормальным поведением RFC 3550.
func (s *SessionContext) NextSequence() uint16 {
	return uint16(s.sequence.Add(1))
}

// CurrentTimestamp возвращает RTP timestamp для кадра, захваченного сейчас:
// случайная база плюс время от старта сессии в единицах clock rate
func (s *SessionContext) CurrentTimestamp() uint32 {
	elapsed := time.Since(s.startTime)
	ticks := uint64(elapsed.Seconds() * float64(s.clockRate))
	return s.tsBase + uint32(ticks)
}
