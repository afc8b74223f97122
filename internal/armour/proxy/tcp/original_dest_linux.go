// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package tcp

import (
	"fmt"
	"net"
	"net/netip"
	"unsafe"

	"golang.org/x/sys/unix"
)

// originalDestination reads SO_ORIGINAL_DST off a REDIRECT/TPROXY'd TCP
// socket (spec §4.6: "obtain the original destination via SO_ORIGINAL_DST
// (Linux)"). conn must wrap a *net.TCPConn.
func originalDestination(conn net.Conn) (string, error) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return "", fmt.Errorf("tcp: connection is not a *net.TCPConn")
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return "", fmt.Errorf("tcp: SyscallConn: %w", err)
	}

	var sa unix.RawSockaddrInet4
	size := uint32(unsafe.Sizeof(sa))
	var errno error
	ctrlErr := raw.Control(func(fd uintptr) {
		_, _, e := unix.Syscall6(
			unix.SYS_GETSOCKOPT,
			fd,
			uintptr(unix.SOL_IP),
			uintptr(unix.SO_ORIGINAL_DST),
			uintptr(unsafe.Pointer(&sa)),
			uintptr(unsafe.Pointer(&size)),
			0,
		)
		if e != 0 {
			errno = e
		}
	})
	if ctrlErr != nil {
		return "", fmt.Errorf("tcp: Control: %w", ctrlErr)
	}
	if errno != nil {
		return "", fmt.Errorf("tcp: SO_ORIGINAL_DST: %w", errno)
	}

	port := uint16(sa.Port>>8) | uint16(sa.Port<<8)
	addr := netip.AddrFrom4(sa.Addr)
	return netip.AddrPortFrom(addr, port).String(), nil
}
