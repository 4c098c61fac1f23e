package mediastream

// Frame представляет полностью собранный медиа кадр.
// Получатель PullFrame или receive hook владеет кадром и его данными.
type Frame struct {
	// Data байты кадра после депакетизации
	Data []byte

	// Timestamp RTP временная метка кадра
	Timestamp uint32

	// SSRC источник кадра
	SSRC uint32

	// PayloadType тип нагрузки из RTP заголовка
	PayloadType uint8

	// SeqFirst и SeqLast границы диапазона sequence numbers,
	// из которых кадр был собран
	SeqFirst uint16
	SeqLast  uint16
}

// ReceiveHook вызывается Receiver для каждого собранного кадра.
// Альтернатива опросу через PullFrame: установленный hook
// отключает доставку в очередь опроса.
type ReceiveHook func(arg any, frame *Frame)

// DeallocationHook освобождает память кадра, переданного во владение
// через PushOwnedFrame, после завершения отправки.
type DeallocationHook func(data []byte)
