//go:build windows

package mediastream

import (
	"net"

	"golang.org/x/sys/windows"
)

// tuneSocketForMedia применяет настройки сокета для Windows.
// QoS маркировка в Windows управляется через qWAVE API, а не через
// sockopt, поэтому здесь только неблокирующий режим и SO_REUSEADDR.
func tuneSocketForMedia(conn *net.UDPConn, nonBlocking bool) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	return rawConn.Control(func(fd uintptr) {
		_ = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)

		if nonBlocking {
			_ = windows.SetNonblock(windows.Handle(fd), true)
		}
	})
}
