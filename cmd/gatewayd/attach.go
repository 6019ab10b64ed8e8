package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ehrlich-b/homiegw/internal/config"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

// clientHello mirrors the shape connection.Handshake expects on the wire;
// it is redeclared here because the gateway's version is unexported.
type clientHello struct {
	Protocol wire.VersionRange `json:"protocol"`
	ClientID string            `json:"client_id"`
}

type serverHello struct {
	Type     string `json:"type"`
	ServerID string `json:"server_id"`
}

func attachCmd() *cobra.Command {
	var addr string
	var shell string
	var sessionID string

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Open an interactive terminal session against a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				configDir, err := config.GatewayConfigDir()
				if err != nil {
					return err
				}
				cfg, err := config.LoadGatewayConfig(configDir)
				if err != nil {
					return err
				}
				addr = cfg.BindAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", addr), nil)
			if err != nil {
				return fmt.Errorf("dial gateway: %w", err)
			}
			defer conn.CloseNow()

			hello, err := json.Marshal(clientHello{Protocol: wire.VersionRange{Min: wire.CurrentVersion, Max: wire.CurrentVersion}, ClientID: "gatewayd-attach"})
			if err != nil {
				return err
			}
			if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
				return fmt.Errorf("send client hello: %w", err)
			}
			_, greeting, err := conn.Read(ctx)
			if err != nil {
				return fmt.Errorf("read server hello: %w", err)
			}
			var hi serverHello
			if err := json.Unmarshal(greeting, &hi); err != nil || hi.Type != "hello" {
				return fmt.Errorf("gateway rejected handshake: %s", greeting)
			}

			sid, err := resolveSession(ctx, conn, sessionID, shell)
			if err != nil {
				return err
			}

			return runAttachLoop(ctx, conn, sid)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "gateway bind address (default: from settings.json)")
	cmd.Flags().StringVar(&shell, "shell", "", "shell to launch for a new session (default: gateway's configured default)")
	cmd.Flags().StringVar(&sessionID, "session", "", "attach to an existing session id instead of starting a new one")
	return cmd
}

// resolveSession starts a new terminal session or attaches to an
// existing one and returns its id.
func resolveSession(ctx context.Context, conn *websocket.Conn, existing, shell string) (uuid.UUID, error) {
	method := "terminal.session.start"
	params := map[string]any{"shell": shell}
	if existing != "" {
		method = "terminal.session.attach"
		params = map[string]any{"session_id": existing}
	}

	req, err := wire.NewRequest(method, params)
	if err != nil {
		return uuid.Nil, err
	}
	data, err := req.Encode()
	if err != nil {
		return uuid.Nil, err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return uuid.Nil, fmt.Errorf("send %s: %w", method, err)
	}

	for {
		typ, raw, err := conn.Read(ctx)
		if err != nil {
			return uuid.Nil, fmt.Errorf("read %s response: %w", method, err)
		}
		if typ != websocket.MessageText {
			continue
		}
		env, err := wire.Decode(raw)
		if err != nil || env.ID != req.ID {
			continue
		}
		if env.Err != nil {
			return uuid.Nil, fmt.Errorf("%s: %s", method, env.Err.Message)
		}
		var result struct {
			SessionID uuid.UUID `json:"session_id"`
		}
		if err := json.Unmarshal(env.Result, &result); err != nil {
			return uuid.Nil, fmt.Errorf("decode %s result: %w", method, err)
		}
		return result.SessionID, nil
	}
}

// runAttachLoop puts the controlling terminal into raw mode and pumps
// stdin to the session as binary stdin frames while fanning stdout and
// stderr frames back to the terminal, until the context is cancelled or
// the socket closes.
func runAttachLoop(ctx context.Context, conn *websocket.Conn, sessionID uuid.UUID) error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		prev, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("enter raw mode: %w", err)
		}
		defer term.Restore(fd, prev)
	}

	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				frame := wire.EncodeFrame(&wire.BinaryFrame{SessionID: sessionID, Stream: wire.StreamStdin, Payload: buf[:n]})
				if werr := conn.Write(ctx, websocket.MessageBinary, frame); werr != nil {
					readErr <- werr
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					readErr <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case err := <-readErr:
			return err
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageBinary {
			continue
		}
		frame, err := wire.DecodeFrame(data)
		if err != nil || frame.SessionID != sessionID {
			continue
		}
		switch frame.Stream {
		case wire.StreamStdout:
			os.Stdout.Write(frame.Payload)
		case wire.StreamStderr:
			os.Stderr.Write(frame.Payload)
		}
	}
}
