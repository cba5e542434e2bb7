// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

// Package commander implements the privileged side-process: it owns a
// Unix-domain socket that only the validator can write to, maps
// command hashes to shell strings, and runs them. It never speaks
// back to the validator.
package commander

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/haltpoint/knockd/internal/config"
	"github.com/haltpoint/knockd/internal/envelope"
	"github.com/haltpoint/knockd/internal/ipc"
)

// envPrefix matches the client/server environment variable namespace.
const envPrefix = "KNOCKD_"

// socketMode grants write to the owner only, nothing to the group and
// read to others; the validator only needs to connect and write, never
// read.
const socketMode = 0o204

// Commander owns the command table and the Unix socket validators
// dispatch accepted packets through.
type Commander struct {
	SocketPath  string
	SocketUser  string
	SocketGroup string
	Commands    map[uint64]config.CommandSpec
	Logger      *slog.Logger
}

// New builds the hash-keyed command table from the name-keyed config
// table, hashing every command name exactly once at startup so the
// commander never has to hash on the hot path.
func New(cfg *config.Config, logger *slog.Logger) (*Commander, error) {
	if logger == nil {
		logger = slog.Default()
	}

	byHash := make(map[uint64]config.CommandSpec, len(cfg.Commands))
	for name, spec := range cfg.Commands {
		hash, err := envelope.HashCommand(name)
		if err != nil {
			return nil, fmt.Errorf("hash command name %q: %w", name, err)
		}
		if _, exists := byHash[hash]; exists {
			return nil, fmt.Errorf("command %q collides with another command's hash", name)
		}
		byHash[hash] = spec
	}

	return &Commander{
		SocketPath:  cfg.SocketPath,
		SocketUser:  cfg.SocketUser,
		SocketGroup: cfg.SocketGroup,
		Commands:    byHash,
		Logger:      logger,
	}, nil
}

// Listen creates the Unix-domain socket the validator connects to,
// removing any stale socket file left behind by a previous run,
// setting restrictive permissions, and chowning it to the configured
// identity.
func (c *Commander) Listen() (net.Listener, error) {
	dir := filepath.Dir(c.SocketPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory %q: %w", dir, err)
	}

	_ = os.Remove(c.SocketPath)

	listener, err := net.Listen("unix", c.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("bind commander socket %q: %w", c.SocketPath, err)
	}

	if err := os.Chmod(c.SocketPath, socketMode); err != nil {
		listener.Close()
		return nil, fmt.Errorf("chmod commander socket %q: %w", c.SocketPath, err)
	}
	if err := c.chownSocket(); err != nil {
		listener.Close()
		return nil, err
	}

	c.Logger.Info("listening on commander socket", "path", c.SocketPath, "mode", fmt.Sprintf("%o", socketMode))
	return listener, nil
}

func (c *Commander) chownSocket() error {
	if c.SocketUser == "" && c.SocketGroup == "" {
		return nil
	}

	uid, gid := -1, -1
	if c.SocketUser != "" {
		u, err := user.Lookup(c.SocketUser)
		if err != nil {
			return fmt.Errorf("lookup socket_user %q: %w", c.SocketUser, err)
		}
		uid, err = strconv.Atoi(u.Uid)
		if err != nil {
			return fmt.Errorf("parse uid for %q: %w", c.SocketUser, err)
		}
	}
	if c.SocketGroup != "" {
		g, err := user.LookupGroup(c.SocketGroup)
		if err != nil {
			return fmt.Errorf("lookup socket_group %q: %w", c.SocketGroup, err)
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return fmt.Errorf("parse gid for %q: %w", c.SocketGroup, err)
		}
	}

	if err := os.Chown(c.SocketPath, uid, gid); err != nil {
		return fmt.Errorf("chown commander socket to %s:%s: %w", c.SocketUser, c.SocketGroup, err)
	}
	return nil
}

// Serve accepts connections until listener is closed, handling each to
// completion sequentially. A dispatch failure on one connection never
// aborts the loop.
func (c *Commander) Serve(listener net.Listener) error {
	defer os.Remove(c.SocketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			return fmt.Errorf("accept commander connection: %w", err)
		}
		c.handleConn(conn)
	}
}

func (c *Commander) handleConn(conn net.Conn) {
	defer conn.Close()

	var buf [ipc.MessageSize]byte
	if _, err := readFull(conn, buf[:]); err != nil {
		c.Logger.Error("read commander message failed", "err", err)
		return
	}

	msg, err := ipc.Deserialize(buf)
	if err != nil {
		c.Logger.Error("malformed commander message", "err", err)
		return
	}

	spec, ok := c.Commands[msg.CmdHash]
	if !ok {
		c.Logger.Warn("unknown command hash", "cmd_hash", fmt.Sprintf("%x", msg.CmdHash))
		return
	}

	c.run(spec, msg)
}

func (c *Commander) run(spec config.CommandSpec, msg ipc.Message) {
	c.Logger.Info("running command", "description", spec.Description)

	cmd := exec.Command("sh", "-c", spec.Shell)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%sIP=%s", envPrefix, msg.SrcIP.String()))

	output, err := cmd.CombinedOutput()
	if err != nil && !spec.AllowFailure {
		c.Logger.Error("command execution failed", "shell", spec.Shell, "err", err, "output", string(output))
		return
	}
	if err != nil {
		c.Logger.Warn("command exited non-zero but allow_failure is set", "shell", spec.Shell, "err", err)
	}
	c.Logger.Debug("command execution finished", "shell", spec.Shell, "output", string(output))
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
