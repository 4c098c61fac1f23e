package mediastream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StreamMetrics собирает Prometheus метрики одного медиа потока.
// Метрики регистрируются в переданном Registerer; при nil создается
// изолированный реестр, что позволяет строить множественные потоки
// и тесты без конфликтов регистрации.
type StreamMetrics struct {
	packetsSent     prometheus.Counter
	packetsReceived prometheus.Counter
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
	framesSent      prometheus.Counter
	framesReceived  prometheus.Counter
	framesDropped   prometheus.Counter
	sendErrors      prometheus.Counter
	receiveErrors   prometheus.Counter
	handshakes      *prometheus.CounterVec

	registry prometheus.Registerer
}

// newStreamMetrics создает и регистрирует набор метрик потока
func newStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	factory := promauto.With(reg)

	return &StreamMetrics{
		registry: reg,

		packetsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mediastream",
			Name:      "packets_sent_total",
			Help:      "Количество отправленных RTP пакетов",
		}),
		packetsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mediastream",
			Name:      "packets_received_total",
			Help:      "Количество принятых RTP пакетов",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mediastream",
			Name:      "bytes_sent_total",
			Help:      "Объем отправленной нагрузки в байтах",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mediastream",
			Name:      "bytes_received_total",
			Help:      "Объем принятой нагрузки в байтах",
		}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mediastream",
			Name:      "frames_sent_total",
			Help:      "Количество отправленных кадров",
		}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mediastream",
			Name:      "frames_received_total",
			Help:      "Количество собранных входящих кадров",
		}),
		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mediastream",
			Name:      "frames_dropped_total",
			Help:      "Количество кадров, отброшенных из-за переполнения очередей",
		}),
		sendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mediastream",
			Name:      "send_errors_total",
			Help:      "Количество ошибок отправки",
		}),
		receiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mediastream",
			Name:      "receive_errors_total",
			Help:      "Количество ошибок приема",
		}),
		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediastream",
			Name:      "secure_handshakes_total",
			Help:      "Исходы согласования защищенного канала",
		}, []string{"result"}),
	}
}
