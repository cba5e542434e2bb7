// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package validator

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// DefaultListenAddress is used when neither socket activation nor the
// environment variable override apply.
const DefaultListenAddress = "[::]:34020"

// listenEnvVar overrides the bind address when set, taking precedence
// over DefaultListenAddress but below socket activation.
const listenEnvVar = "KNOCKD_LISTEN_ADDRESS"

// socketActivationFD is the file descriptor systemd hands off under
// its socket-activation convention.
const socketActivationFD = 3

// Listen resolves the validator's UDP socket: systemd socket
// activation first (LISTEN_PID/LISTEN_FDS against fd 3), then the
// KNOCKD_LISTEN_ADDRESS environment variable, then the address passed
// in, then DefaultListenAddress.
func Listen(configuredAddr string) (net.PacketConn, error) {
	if conn, ok, err := listenFromActivation(); ok {
		return conn, err
	}

	addr := configuredAddr
	if env := os.Getenv(listenEnvVar); env != "" {
		addr = env
	}
	if addr == "" {
		addr = DefaultListenAddress
	}

	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", addr, err)
	}
	return conn, nil
}

// listenFromActivation inherits the UDP socket from file descriptor 3
// when the process was started by systemd's socket activation
// protocol. The second return value reports whether activation applies
// at all, so callers fall through to normal binding otherwise.
func listenFromActivation() (net.PacketConn, bool, error) {
	listenPID := os.Getenv("LISTEN_PID")
	listenFDs := os.Getenv("LISTEN_FDS")
	if listenPID == "" || listenFDs == "" {
		return nil, false, nil
	}

	pid, err := strconv.Atoi(listenPID)
	if err != nil || pid != os.Getpid() {
		return nil, false, nil
	}
	n, err := strconv.Atoi(listenFDs)
	if err != nil || n != 1 {
		return nil, false, nil
	}

	file := os.NewFile(socketActivationFD, "knockd-socket-activation")
	if file == nil {
		return nil, true, fmt.Errorf("socket activation: fd %d is not valid", socketActivationFD)
	}
	conn, err := net.FilePacketConn(file)
	if err != nil {
		return nil, true, fmt.Errorf("socket activation: wrap fd %d: %w", socketActivationFD, err)
	}
	return conn, true, nil
}
