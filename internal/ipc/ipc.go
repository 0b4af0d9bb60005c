package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"

	"kiosk/internal/domain"
)

const DefaultSocketPath = "/tmp/kiosk.sock"

// Commands understood by the daemon.
const (
	CmdCommand = "command"
	CmdClip    = "clip"
	CmdAbort   = "abort"
	CmdScene   = "scene"
	CmdSay     = "say"
	CmdCall    = "call"
	CmdRefresh = "refresh"
	CmdStatus  = "status"
)

type Request struct {
	Cmd string `json:"cmd"`
	Arg string `json:"arg,omitempty"`
}

type Reply struct {
	OK      bool           `json:"ok"`
	Message string         `json:"message,omitempty"`
	Status  *domain.Status `json:"status,omitempty"`
}

type Handler func(ctx context.Context, req Request) Reply

// Serve answers one request per connection until ctx is done.
func Serve(ctx context.Context, path string, handler Handler) error {
	os.Remove(path)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer os.Remove(path)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info("Control socket ready", "path", path)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Warn("Accept failed", "err", err)
			continue
		}
		go handleConn(ctx, conn, handler)
	}
}

func handleConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()

	var req Request
	dec := json.NewDecoder(conn)
	if err := dec.Decode(&req); err != nil {
		log.Debug("Bad control request", "err", err)
		_ = json.NewEncoder(conn).Encode(Reply{Message: "malformed request"})
		return
	}

	log.Debug("Control request", "cmd", req.Cmd, "arg", req.Arg)
	reply := handler(ctx, req)
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Debug("Failed to write reply", "err", err)
	}
}

// Send delivers req to the daemon and waits for its reply.
func Send(path string, req Request, timeout time.Duration) (Reply, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()

	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}

	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
