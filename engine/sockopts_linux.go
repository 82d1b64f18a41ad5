//go:build linux

package engine

import "golang.org/x/sys/unix"

func init() {
	setSocketOptions = func(fd uintptr) error {
		ifd := int(fd)
		if err := unix.SetsockoptInt(ifd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return err
		}
		return unix.SetsockoptInt(ifd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	}
}
