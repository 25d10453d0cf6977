// Package serve provides the serve command, an echo server that sends every
// payload back on the channel it arrived on.
package serve

import (
	"context"
	"dominicbreuker/kcpnet/cmd/shared"
	"dominicbreuker/kcpnet/pkg/config"
	"dominicbreuker/kcpnet/pkg/connection"
	"dominicbreuker/kcpnet/pkg/format"
	"dominicbreuker/kcpnet/pkg/log"
	"dominicbreuker/kcpnet/pkg/server"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"
)

// payloadPreview is how much of a payload is printed per message.
const payloadPreview = 64

// GetCommand returns the CLI command for serve mode.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:        "serve",
		Usage:       "Run an echo server",
		Description: shared.GetBaseDescription(),
		ArgsUsage:   shared.GetArgsUsage(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() != 1 {
				return fmt.Errorf("must provide exactly one argument, got %d (%s)", args.Len(), strings.Join(args.Slice(), ", "))
			}

			host, port, err := shared.ParseAddress(args.Get(0))
			if err != nil {
				return fmt.Errorf("parsing address: %s", err)
			}

			sCfg, cfg, deps, err := shared.Setup(cmd, host, port)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			shared.SetupSignalHandling(cancel)

			return run(ctx, format.Addr(sCfg.Host, sCfg.Port), cfg, deps, cmd.Bool(shared.QuietFlag))
		},
		Flags: getFlags(),
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{}

	flags = append(flags, shared.GetCommonFlags()...)
	flags = append(flags, shared.GetServeFlags()...)

	return flags
}

// echo reports connection events and sends data back to its sender.
type echo struct {
	srv    *server.Server
	stdout io.Writer
	quiet  bool
}

func (e *echo) handle(conn *connection.Connection, ev connection.Event) {
	switch ev.Type {
	case connection.EventConnected:
		log.InfoMsg("New connection %d from %s\n", ev.ConnID, conn.RemoteAddr())

	case connection.EventData:
		if !e.quiet {
			fmt.Fprintf(e.stdout, "%d %s: %s\n", ev.ConnID, ev.Channel, format.Payload(ev.Data, payloadPreview))
		}
		if err := e.srv.Send(ev.ConnID, ev.Data, ev.Channel); err != nil {
			log.ErrorMsg("Echo to connection %d: %s\n", ev.ConnID, err)
		}

	case connection.EventError:
		if conn == nil {
			log.ErrorMsg("Socket: %s\n", ev.Err)
			return
		}
		log.ErrorMsg("Connection %d: %s\n", ev.ConnID, ev.Err)

	case connection.EventDisconnected:
		log.InfoMsg("Connection %d from %s closed\n", ev.ConnID, conn.RemoteAddr())
	}
}

func run(ctx context.Context, addr string, cfg config.Config, deps *config.Dependencies, quiet bool) error {
	e := &echo{stdout: config.GetStdoutFunc(deps)(), quiet: quiet}

	srv, err := server.New(addr, cfg, e.handle, deps)
	if err != nil {
		return fmt.Errorf("server.New(%s): %s", addr, err)
	}
	e.srv = srv
	defer srv.Close()

	log.InfoMsg("Listening on %s (mtu %d, buffers %s)\n", srv.LocalAddr(), cfg.MTU, format.Size(cfg.RecvBufferSize))

	shared.Loop(ctx, cfg.Interval, func() bool {
		srv.Tick()
		return true
	})

	log.InfoMsg("Shutting down, %d connections open\n", len(srv.Connections()))
	return nil
}
