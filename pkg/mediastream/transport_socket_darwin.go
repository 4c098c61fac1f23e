//go:build darwin

package mediastream

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneSocketForMedia применяет Darwin-специфичные настройки сокета.
// macOS не поддерживает SO_PRIORITY, поэтому ограничиваемся
// TOS маркировкой и неблокирующим режимом.
func tuneSocketForMedia(conn *net.UDPConn, nonBlocking bool) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	return rawConn.Control(func(fd uintptr) {
		// DSCP EF (46) через TOS поле
		_ = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_TOS, 46<<2)

		_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)

		if nonBlocking {
			_ = unix.SetNonblock(int(fd), true)
		}
	})
}
