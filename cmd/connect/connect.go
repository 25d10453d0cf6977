// Package connect provides the connect command. It sends every line read
// from stdin to a server and prints what comes back.
package connect

import (
	"context"
	"dominicbreuker/kcpnet/cmd/shared"
	"dominicbreuker/kcpnet/pkg/client"
	"dominicbreuker/kcpnet/pkg/config"
	"dominicbreuker/kcpnet/pkg/connection"
	"dominicbreuker/kcpnet/pkg/format"
	"dominicbreuker/kcpnet/pkg/log"
	"dominicbreuker/kcpnet/pkg/pipeio"
	"dominicbreuker/kcpnet/pkg/protocol"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// GetCommand returns the CLI command for connect mode.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:        "connect",
		Usage:       "Connect to a server and send lines from stdin",
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
			if host == "" {
				return fmt.Errorf("parsing address: %s: specify a host", args.Get(0))
			}

			sCfg, cfg, deps, err := shared.Setup(cmd, host, port)
			if err != nil {
				return err
			}

			channel := protocol.Reliable
			if cmd.Bool(shared.UnreliableFlag) {
				channel = protocol.Unreliable
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			shared.SetupSignalHandling(cancel)

			return run(ctx, format.Addr(sCfg.Host, sCfg.Port), cfg, deps, channel)
		},
		Flags: getFlags(),
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{}

	flags = append(flags, shared.GetCommonFlags()...)
	flags = append(flags, shared.GetConnectFlags()...)

	return flags
}

// session tracks one run of the command.
type session struct {
	stdout io.Writer
	prompt bool

	connected bool
	done      bool
	err       error
}

func (s *session) handle(_ *connection.Connection, ev connection.Event) {
	switch ev.Type {
	case connection.EventConnected:
		s.connected = true
		log.InfoMsg("Connected\n")
		s.showPrompt()

	case connection.EventData:
		fmt.Fprintf(s.stdout, "%s\n", ev.Data)
		s.showPrompt()

	case connection.EventError:
		log.ErrorMsg("%s\n", ev.Err)
		if s.err == nil {
			s.err = ev.Err
		}

	case connection.EventDisconnected:
		s.done = true
		log.InfoMsg("Disconnected\n")
	}
}

func (s *session) showPrompt() {
	if s.prompt {
		fmt.Fprint(s.stdout, "> ")
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func run(ctx context.Context, addr string, cfg config.Config, deps *config.Dependencies, channel protocol.Channel) error {
	stdin := config.GetStdinFunc(deps)()
	s := &session{
		stdout: config.GetStdoutFunc(deps)(),
		prompt: isTerminal(stdin),
	}

	c, err := client.New(cfg, s.handle, deps)
	if err != nil {
		return fmt.Errorf("client.New(): %s", err)
	}
	defer c.Close()

	log.InfoMsg("Connecting to %s\n", addr)
	if err := c.Connect(addr); err != nil {
		return fmt.Errorf("connecting: %s", err)
	}

	limit := protocol.MaxUnreliablePayload(cfg.MTU)
	if channel == protocol.Reliable {
		limit = protocol.MaxReliablePayload(cfg.MTU, cfg.ReceiveWindowSize)
	}
	lines := pipeio.NewLineReader(pipeio.NewStdio(stdin, io.Discard), limit)
	defer lines.Close()

	// after stdin ends, wait for our data to be acknowledged and give the
	// replies one ping interval to arrive
	var eofAt time.Time

	shared.Loop(ctx, cfg.Interval, func() bool {
		c.Tick()
		if s.done {
			return false
		}
		if !s.connected {
			return true
		}
		if !eofAt.IsZero() {
			if c.Connection().Pending() == 0 && time.Since(eofAt) >= cfg.PingInterval() {
				c.Disconnect()
			}
			return true
		}

		for {
			line, ok, eof := lines.Poll()
			if eof {
				if err := lines.Err(); err != nil {
					log.ErrorMsg("Input: %s\n", err)
				}
				eofAt = time.Now()
				return true
			}
			if !ok {
				return true
			}
			if len(line) == 0 {
				s.showPrompt()
				continue
			}
			if err := c.Send(line, channel); err != nil {
				log.ErrorMsg("Sending: %s\n", err)
			}
		}
	})

	// deliver the final events, including the disconnect notice on ctrl+c
	c.Close()
	return s.err
}
