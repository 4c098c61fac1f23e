//go:build linux

package mediastream

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneSocketForMedia применяет Linux-специфичные настройки сокета
// для медиа трафика: приоритет, DSCP маркировку и неблокирующий режим
func tuneSocketForMedia(conn *net.UDPConn, nonBlocking bool) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	return rawConn.Control(func(fd uintptr) {
		// приоритет интерактивного медиа трафика; в контейнерах
		// может быть запрещено, поэтому ошибка не критична
		_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_PRIORITY, 6)

		// DSCP EF (46) для голосового/видео трафика через TOS поле
		_ = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_TOS, 46<<2)

		// SO_REUSEADDR для совместимости при быстрых перезапусках
		_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)

		if nonBlocking {
			_ = unix.SetNonblock(int(fd), true)
		}
	})
}
