package mediastream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/pion/srtp/v2"
)

// KeyExchange выполняет согласование ключевого материала поверх
// уже привязанного сокета потока. Handshake вызывается оркестратором
// ровно один раз во время secure bootstrap; новые сокеты не открываются.
type KeyExchange interface {
	Handshake(ctx context.Context, sessionID uint32, conn *net.UDPConn, remote *net.UDPAddr) (*KeyMaterial, error)
}

// dtlsSRTPLabel метка экспорта ключевого материала согласно RFC 5764
const dtlsSRTPLabel = "EXTRACTOR-dtls_srtp"

// DTLSKeyExchangeConfig конфигурация DTLS key exchange
type DTLSKeyExchangeConfig struct {
	// Role сторона рукопожатия
	Role Role

	// Certificates и верификация для certificate режима
	Certificates       []tls.Certificate
	RootCAs            *x509.CertPool
	ServerName         string
	InsecureSkipVerify bool

	// PSK режим для устройств без PKI
	PSK             func([]byte) ([]byte, error)
	PSKIdentityHint []byte

	// CipherSuites для контроля набора шифров
	CipherSuites []dtls.CipherSuiteID

	// HandshakeTimeout предельное время рукопожатия
	HandshakeTimeout time.Duration

	// Profile SRTP профиль для производных ключей
	Profile srtp.ProtectionProfile
}

// DefaultDTLSKeyExchangeConfig возвращает конфигурацию по умолчанию
func DefaultDTLSKeyExchangeConfig(role Role) DTLSKeyExchangeConfig {
	return DTLSKeyExchangeConfig{
		Role:             role,
		HandshakeTimeout: 30 * time.Second,
		Profile:          srtp.ProtectionProfileAes128CmHmacSha1_80,
	}
}

// DTLSKeyExchange согласует SRTP ключи через DTLS рукопожатие
// поверх существующего сокета (DTLS-SRTP, RFC 5764). Ключевой
// материал экспортируется из master secret рукопожатия.
type DTLSKeyExchange struct {
	config DTLSKeyExchangeConfig
}

// NewDTLSKeyExchange создает DTLS key exchange
func NewDTLSKeyExchange(config DTLSKeyExchangeConfig) *DTLSKeyExchange {
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 30 * time.Second
	}
	if config.Profile == 0 {
		config.Profile = srtp.ProtectionProfileAes128CmHmacSha1_80
	}
	return &DTLSKeyExchange{config: config}
}

// Handshake выполняет DTLS рукопожатие поверх переданного сокета
// и выводит SRTP ключевой материал. Сокет остается открытым и
// принадлежит транспорту потока.
func (d *DTLSKeyExchange) Handshake(ctx context.Context, sessionID uint32, conn *net.UDPConn, remote *net.UDPAddr) (*KeyMaterial, error) {
	if conn == nil || remote == nil {
		return nil, newStreamError(ErrorCodeInvalidValue, sessionID, "key exchange требует привязанный сокет и адрес получателя")
	}

	hsCtx, cancel := context.WithTimeout(ctx, d.config.HandshakeTimeout)
	defer cancel()

	adapter := newBorrowedPacketConn(conn, remote)

	dtlsConfig := &dtls.Config{
		Certificates:           d.config.Certificates,
		RootCAs:                d.config.RootCAs,
		ServerName:             d.config.ServerName,
		InsecureSkipVerify:     d.config.InsecureSkipVerify,
		PSK:                    d.config.PSK,
		PSKIdentityHint:        d.config.PSKIdentityHint,
		CipherSuites:           d.config.CipherSuites,
		ExtendedMasterSecret:   dtls.RequireExtendedMasterSecret,
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{dtls.SRTP_AES128_CM_HMAC_SHA1_80},
	}

	var dtlsConn *dtls.Conn
	var err error

	slog.Debug("mediastream.keyExchange Handshake started",
		"session_id", sessionID, "role", d.config.Role.String(), "remote", remote.String())

	if d.config.Role == RoleClient {
		dtlsConn, err = dtls.ClientWithContext(hsCtx, adapter, dtlsConfig)
	} else {
		dtlsConn, err = dtls.ServerWithContext(hsCtx, adapter, dtlsConfig)
	}
	if err != nil {
		return nil, wrapStreamError(ErrorCodeSecureNegotiation, sessionID, "DTLS рукопожатие не удалось", err)
	}

	material, err := exportSRTPKeyMaterial(dtlsConn.ConnectionState(), d.config.Role, d.config.Profile)

	// рукопожатие завершено, дальнейший ввод-вывод идет через SRTP;
	// adapter не закрывает заимствованный сокет
	_ = dtlsConn.Close()

	if err != nil {
		return nil, wrapStreamError(ErrorCodeSecureNegotiation, sessionID, "ошибка экспорта ключевого материала", err)
	}

	slog.Debug("mediastream.keyExchange Handshake completed", "session_id", sessionID)
	return material, nil
}

// exportSRTPKeyMaterial выводит SRTP ключи из DTLS состояния.
// Раскладка материала согласно RFC 5764 Section 4.2:
// client_key | server_key | client_salt | server_salt.
func exportSRTPKeyMaterial(state dtls.State, role Role, profile srtp.ProtectionProfile) (*KeyMaterial, error) {
	keyLen, err := profile.KeyLen()
	if err != nil {
		return nil, err
	}
	saltLen, err := profile.SaltLen()
	if err != nil {
		return nil, err
	}

	material, err := state.ExportKeyingMaterial(dtlsSRTPLabel, nil, 2*keyLen+2*saltLen)
	if err != nil {
		return nil, err
	}

	offset := 0
	clientKey := material[offset : offset+keyLen]
	offset += keyLen
	serverKey := material[offset : offset+keyLen]
	offset += keyLen
	clientSalt := material[offset : offset+saltLen]
	offset += saltLen
	serverSalt := material[offset : offset+saltLen]

	km := &KeyMaterial{Profile: profile}
	if role == RoleClient {
		km.LocalKey, km.LocalSalt = clientKey, clientSalt
		km.RemoteKey, km.RemoteSalt = serverKey, serverSalt
	} else {
		km.LocalKey, km.LocalSalt = serverKey, serverSalt
		km.RemoteKey, km.RemoteSalt = clientKey, clientSalt
	}

	return km, nil
}

// borrowedPacketConn адаптирует непривязанный к получателю UDP сокет
// к net.Conn для DTLS рукопожатия. Close не закрывает сокет:
// им владеет транспорт потока.
type borrowedPacketConn struct {
	conn   *net.UDPConn
	remote *net.UDPAddr

	closed bool
	mutex  sync.Mutex
}

func newBorrowedPacketConn(conn *net.UDPConn, remote *net.UDPAddr) *borrowedPacketConn {
	return &borrowedPacketConn{conn: conn, remote: remote}
}

func (b *borrowedPacketConn) Read(p []byte) (int, error) {
	for {
		n, addr, err := b.conn.ReadFromUDP(p)
		if err != nil {
			return 0, err
		}
		// датаграммы посторонних источников не относятся к рукопожатию
		if addr.IP.Equal(b.remote.IP) && addr.Port == b.remote.Port {
			return n, nil
		}
	}
}

func (b *borrowedPacketConn) Write(p []byte) (int, error) {
	return b.conn.WriteToUDP(p, b.remote)
}

func (b *borrowedPacketConn) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.closed = true
	// снимаем дедлайны, выставленные DTLS слоем, чтобы не ломать
	// последующий прием медиа через тот же сокет
	return b.conn.SetReadDeadline(time.Time{})
}

func (b *borrowedPacketConn) LocalAddr() net.Addr                { return b.conn.LocalAddr() }
func (b *borrowedPacketConn) RemoteAddr() net.Addr               { return b.remote }
func (b *borrowedPacketConn) SetDeadline(t time.Time) error      { return b.conn.SetDeadline(t) }
func (b *borrowedPacketConn) SetReadDeadline(t time.Time) error  { return b.conn.SetReadDeadline(t) }
func (b *borrowedPacketConn) SetWriteDeadline(t time.Time) error { return b.conn.SetWriteDeadline(t) }
