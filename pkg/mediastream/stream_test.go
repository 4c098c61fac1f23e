package mediastream

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freeUDPPort возвращает свободный UDP порт на loopback
func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func TestStreamKeyImmutable(t *testing.T) {
	stream := NewMediaStream(StreamConfig{
		RemoteAddr: "203.0.113.5",
		SrcPort:    5004,
		DstPort:    5004,
		Format:     FormatH264,
	})

	key := stream.Key()

	// ключ не меняется конфигурацией, bootstrap и закрытием
	require.NoError(t, stream.ConfigureFlag(FlagFragmentGeneric))
	assert.Equal(t, key, stream.Key())

	require.NoError(t, stream.Close())
	assert.Equal(t, key, stream.Key())
}

func TestStreamKeyNeverZero(t *testing.T) {
	// нулевой ключ зарезервирован как "ключ отсутствует"
	for i := 0; i < 64; i++ {
		assert.NotZero(t, generateStreamKey())
	}
}

func TestStreamKeysIndependent(t *testing.T) {
	config := StreamConfig{RemoteAddr: "203.0.113.5", SrcPort: 5004, DstPort: 5004, Format: FormatGeneric}

	a := NewMediaStream(config)
	b := NewMediaStream(config)

	// коллизия двух независимых 32-битных ключей крайне маловероятна
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestStreamInitialStateAndFlags(t *testing.T) {
	stream := NewMediaStream(StreamConfig{
		RemoteAddr: "203.0.113.5",
		SrcPort:    5004,
		DstPort:    5004,
		Format:     FormatGeneric,
		Flags:      FlagFragmentGeneric,
	})

	assert.Equal(t, StateUninitialized, stream.State())
	assert.Equal(t, FlagFragmentGeneric, stream.ContextFlags())

	// повторное применение начального флага идемпотентно и без ошибки
	require.NoError(t, stream.ConfigureFlag(FlagFragmentGeneric))
	assert.Equal(t, FlagFragmentGeneric, stream.ContextFlags())
}

func TestStreamConfigureValidation(t *testing.T) {
	stream := NewMediaStream(StreamConfig{
		RemoteAddr: "203.0.113.5", SrcPort: 5004, DstPort: 5004, Format: FormatGeneric,
	})

	flagsBefore := stream.ContextFlags()

	err := stream.ConfigureFlag(-1)
	assert.True(t, HasErrorCode(err, ErrorCodeInvalidValue))
	assert.Equal(t, flagsBefore, stream.ContextFlags())

	err = stream.ConfigureValue(ValueMTUSize, -1)
	assert.True(t, HasErrorCode(err, ErrorCodeInvalidValue))

	err = stream.ConfigureValue(ValueMTUSize, 65536)
	assert.True(t, HasErrorCode(err, ErrorCodeInvalidValue))

	err = stream.ConfigureValue(valueLast, 10)
	assert.True(t, HasErrorCode(err, ErrorCodeInvalidValue))
}

func TestStreamNilHooksRejected(t *testing.T) {
	stream := NewMediaStream(StreamConfig{
		RemoteAddr: "203.0.113.5", SrcPort: 5004, DstPort: 5004, Format: FormatGeneric,
	})

	err := stream.InstallReceiveHook(nil, nil)
	assert.True(t, HasErrorCode(err, ErrorCodeInvalidValue))

	err = stream.InstallDeallocationHook(nil)
	assert.True(t, HasErrorCode(err, ErrorCodeInvalidValue))
}

func TestStreamMediaConfigRoundTrip(t *testing.T) {
	stream := NewMediaStream(StreamConfig{
		RemoteAddr: "203.0.113.5", SrcPort: 5004, DstPort: 5004, Format: FormatH264,
	})

	assert.Nil(t, stream.GetMediaConfig())

	type codecSettings struct {
		Bitrate int
	}
	settings := &codecSettings{Bitrate: 2_000_000}

	stream.SetMediaConfig(settings)
	assert.Same(t, settings, stream.GetMediaConfig())
}

func TestStreamIOBeforeBootstrap(t *testing.T) {
	stream := NewMediaStream(StreamConfig{
		RemoteAddr: "203.0.113.5", SrcPort: 5004, DstPort: 5004, Format: FormatGeneric,
	})

	err := stream.PushFrame([]byte{0x01}, 0)
	assert.True(t, HasErrorCode(err, ErrorCodeNotStarted))

	assert.Nil(t, stream.PullFrame())
}

func TestStreamCloseWithoutBootstrap(t *testing.T) {
	stream := NewMediaStream(StreamConfig{
		RemoteAddr: "203.0.113.5", SrcPort: 5004, DstPort: 5004, Format: FormatGeneric,
	})

	// teardown безопасен без bootstrap и идемпотентен
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	assert.Equal(t, StateClosed, stream.State())

	// после закрытия ввод-вывод отклоняется
	err := stream.PushFrame([]byte{0x01}, 0)
	assert.True(t, HasErrorCode(err, ErrorCodeStreamClosed))
}

func TestStreamConnectionFailure(t *testing.T) {
	busy, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer busy.Close()

	port := busy.LocalAddr().(*net.UDPAddr).Port

	stream := NewMediaStream(StreamConfig{
		RemoteAddr: "127.0.0.1",
		LocalAddr:  "127.0.0.1",
		SrcPort:    port, // порт занят
		DstPort:    freeUDPPort(t),
		Format:     FormatGeneric,
	})
	defer stream.Close()

	err = stream.Init()
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrorCodeConnection))

	// неудавшийся bootstrap не оставляет частично активного потока
	pushErr := stream.PushFrame([]byte{0x01}, 0)
	assert.True(t, HasErrorCode(pushErr, ErrorCodeNotStarted))
	assert.Nil(t, stream.PullFrame())
}

func TestStreamPlainBootstrapExplicitLocalAddr(t *testing.T) {
	srcPort := freeUDPPort(t)

	stream := NewMediaStream(StreamConfig{
		RemoteAddr: "127.0.0.1",
		LocalAddr:  "127.0.0.1",
		SrcPort:    srcPort,
		DstPort:    freeUDPPort(t),
		Format:     FormatGeneric,
	})
	defer stream.Close()

	require.NoError(t, stream.Init())
	assert.Equal(t, StatePlainActive, stream.State())

	// привязка выполнена к явно заданному адресу, а не к wildcard
	assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", srcPort), stream.LocalAddr())
}

func TestStreamPlainBootstrapAndPush(t *testing.T) {
	srcPort := freeUDPPort(t)

	stream := NewMediaStream(StreamConfig{
		RemoteAddr: "203.0.113.5",
		SrcPort:    srcPort,
		DstPort:    5004,
		Format:     FormatGeneric,
	})
	defer stream.Close()

	require.NoError(t, stream.Init())

	buffer := make([]byte, 100)
	assert.NoError(t, stream.PushFrame(buffer, 0))
}

func TestStreamDoubleBootstrapRejected(t *testing.T) {
	stream := NewMediaStream(StreamConfig{
		RemoteAddr: "127.0.0.1",
		SrcPort:    freeUDPPort(t),
		DstPort:    freeUDPPort(t),
		Format:     FormatGeneric,
	})
	defer stream.Close()

	require.NoError(t, stream.Init())

	err := stream.Init()
	assert.True(t, HasErrorCode(err, ErrorCodeInvalidState))

	err = stream.InitSecure(NewDTLSKeyExchange(DefaultDTLSKeyExchangeConfig(RoleClient)))
	assert.True(t, HasErrorCode(err, ErrorCodeInvalidState))
}

func TestStreamLoopbackFrameExchange(t *testing.T) {
	portA := freeUDPPort(t)
	portB := freeUDPPort(t)

	streamA := NewMediaStream(StreamConfig{
		RemoteAddr: "127.0.0.1",
		LocalAddr:  "127.0.0.1",
		SrcPort:    portA,
		DstPort:    portB,
		Format:     FormatGeneric,
	})
	defer streamA.Close()

	streamB := NewMediaStream(StreamConfig{
		RemoteAddr: "127.0.0.1",
		LocalAddr:  "127.0.0.1",
		SrcPort:    portB,
		DstPort:    portA,
		Format:     FormatGeneric,
	})
	defer streamB.Close()

	require.NoError(t, streamA.Init())
	require.NoError(t, streamB.Init())

	payload := []byte("тестовый кадр потока")
	require.NoError(t, streamA.PushFrame(payload, 0))

	var frame *Frame
	require.True(t, waitFor(t, 3*time.Second, func() bool {
		frame = streamB.PullFrame()
		return frame != nil
	}), "кадр должен дойти через loopback")

	assert.Equal(t, payload, frame.Data)
}

func TestStreamTeardownOrder(t *testing.T) {
	stream := NewMediaStream(StreamConfig{
		RemoteAddr: "127.0.0.1",
		SrcPort:    freeUDPPort(t),
		DstPort:    freeUDPPort(t),
		Format:     FormatGeneric,
	})

	require.NoError(t, stream.Init())
	require.NoError(t, stream.Close())
	assert.Equal(t, StateClosed, stream.State())

	// состояние терминально: повторный bootstrap невозможен
	err := stream.Init()
	assert.True(t, HasErrorCode(err, ErrorCodeInvalidState))
}

func TestStreamDescribe(t *testing.T) {
	stream := NewMediaStream(StreamConfig{
		RemoteAddr: "203.0.113.5",
		SrcPort:    5004,
		DstPort:    5006,
		Format:     FormatH264,
	})

	desc, err := stream.Describe()
	require.NoError(t, err)

	assert.True(t, strings.Contains(desc, "m=video 5006 RTP/AVP 96"), desc)
	assert.True(t, strings.Contains(desc, "a=rtpmap:96 H264/90000"), desc)
	assert.True(t, strings.Contains(desc, "c=IN IP4 203.0.113.5"), desc)
}
