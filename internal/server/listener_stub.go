//go:build !linux

package server

import "errors"

func reusePortListener(port int) (int, error) {
	return -1, errors.New("server: io_uring transport requires linux")
}

func closeFD(fd int) {}
