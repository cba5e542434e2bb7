// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package validator

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/haltpoint/knockd/internal/ipc"
)

// CommanderClient delivers an accepted command to the commander
// process. It is an interface so tests can substitute an in-memory
// stub for the real Unix-domain socket dialer.
type CommanderClient interface {
	Send(ctx context.Context, msg ipc.Message) error
}

// UnixCommanderClient dials the commander's Unix-domain socket fresh
// for every message, mirroring the one-shot connection the commander
// expects per accepted packet.
type UnixCommanderClient struct {
	Path    string
	Timeout time.Duration
}

func (c *UnixCommanderClient) Send(ctx context.Context, msg ipc.Message) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "unix", c.Path)
	if err != nil {
		return fmt.Errorf("dial commander socket %q: %w", c.Path, err)
	}
	defer conn.Close()

	payload := msg.Serialize()
	if _, err := conn.Write(payload[:]); err != nil {
		return fmt.Errorf("write commander message: %w", err)
	}
	return nil
}
