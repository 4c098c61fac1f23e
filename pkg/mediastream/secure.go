package mediastream

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/srtp/v2"
)

// Role определяет сторону защищенного канала. От роли зависит,
// какая половина согласованного ключевого материала локальная.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// KeyMaterial содержит согласованный key exchange ключевой материал.
// Local* защищает исходящий трафик, Remote* расшифровывает входящий.
type KeyMaterial struct {
	LocalKey   []byte
	LocalSalt  []byte
	RemoteKey  []byte
	RemoteSalt []byte

	// Profile согласованный SRTP профиль защиты
	Profile srtp.ProtectionProfile
}

// SecureContext реализует защищенное преобразование потока поверх SRTP.
// Активируется один раз после успешного key exchange и привязывается
// к транспорту на все время жизни потока.
type SecureContext struct {
	role    Role
	session *SessionContext

	tx *srtp.Context
	rx *srtp.Context

	// srtp.Context не потокобезопасен; отправка и прием используют
	// раздельные контексты, но каждый сериализуется своим мьютексом
	txMutex sync.Mutex
	rxMutex sync.Mutex
}

// ActivateSecureContext создает SRTP контексты из согласованного
// ключевого материала. Возвращает ошибку ResourceAllocation, если
// материал не подходит выбранному профилю.
func ActivateSecureContext(role Role, session *SessionContext, material *KeyMaterial) (*SecureContext, error) {
	if material == nil {
		return nil, newStreamError(ErrorCodeResourceAllocation, 0, "ключевой материал отсутствует")
	}

	profile := material.Profile
	if profile == 0 {
		profile = srtp.ProtectionProfileAes128CmHmacSha1_80
	}

	tx, err := srtp.CreateContext(material.LocalKey, material.LocalSalt, profile)
	if err != nil {
		return nil, wrapStreamError(ErrorCodeResourceAllocation, session.SSRC(),
			"ошибка создания SRTP контекста отправки", err)
	}

	rx, err := srtp.CreateContext(material.RemoteKey, material.RemoteSalt, profile)
	if err != nil {
		return nil, wrapStreamError(ErrorCodeResourceAllocation, session.SSRC(),
			"ошибка создания SRTP контекста приема", err)
	}

	return &SecureContext{
		role:    role,
		session: session,
		tx:      tx,
		rx:      rx,
	}, nil
}

// Role возвращает роль локальной стороны
func (s *SecureContext) Role() Role {
	return s.role
}

// protect шифрует сериализованный RTP пакет
func (s *SecureContext) protect(packet []byte, header *rtp.Header) ([]byte, error) {
	s.txMutex.Lock()
	defer s.txMutex.Unlock()
	return s.tx.EncryptRTP(nil, packet, header)
}

// unprotect расшифровывает принятую SRTP датаграмму
func (s *SecureContext) unprotect(packet []byte) ([]byte, error) {
	s.rxMutex.Lock()
	defer s.rxMutex.Unlock()
	return s.rx.DecryptRTP(nil, packet, nil)
}
