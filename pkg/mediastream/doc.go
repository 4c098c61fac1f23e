// Package mediastream реализует один медиа поток реального времени
// поверх ненадежного датаграммного транспорта с опциональной защитой
// согласованным каналом (DTLS-SRTP).
//
// Архитектура основана на принципе разделения ответственности:
//   - MediaStream: оркестратор — владеет компонентами и последовательностью
//     их жизней, единая поверхность кадрового ввода-вывода и конфигурации
//   - Transport: датаграммный сокет с получателем по умолчанию и
//     привязываемым защищенным преобразованием
//   - SessionContext: идентичность и нумерация потока (SSRC, seq, timestamp)
//   - KeyExchange: согласование ключевого материала поверх уже
//     привязанного сокета
//   - SecureContext: SRTP преобразование, защищающее весь ввод-вывод
//     транспорта после активации
//   - Sender / Receiver: независимые единицы отправки и сборки кадров
//
// Два пути bootstrap, взаимоисключающие и выбираемые один раз:
//
//	stream := mediastream.NewMediaStream(mediastream.StreamConfig{
//		RemoteAddr: "203.0.113.5",
//		SrcPort:    5004,
//		DstPort:    5004,
//		Format:     mediastream.FormatH264,
//	})
//	if err := stream.Init(); err != nil { ... }        // обычный путь
//	// либо stream.InitSecure(kx)                      // защищенный путь
//	defer stream.Close()
//
//	_ = stream.PushFrame(frameData, 0)
//	if frame := stream.PullFrame(); frame != nil { ... }
//
// Инвариант защищенного пути: Sender и Receiver никогда не создаются,
// если согласование ключей не удалось; активация SecureContext строго
// предшествует их запуску.
package mediastream
