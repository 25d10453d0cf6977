package shared

import (
	"dominicbreuker/kcpnet/pkg/config"
	"dominicbreuker/kcpnet/pkg/log"
	"dominicbreuker/kcpnet/pkg/transport"
	"fmt"

	"github.com/urfave/cli/v3"
)

// Setup turns the parsed command line into validated configs. It also
// applies --verbose and --log-limit and, when --log is set, returns dependencies that
// trace every datagram to the log file.
func Setup(cmd *cli.Command, host string, port int) (*config.Shared, config.Config, *config.Dependencies, error) {
	sCfg := &config.Shared{
		Host:       host,
		Port:       port,
		Verbose:    cmd.Bool(VerboseFlag),
		ConfigFile: cmd.String(ConfigFlag),
		LogFile:    cmd.String(LogFileFlag),
	}
	log.SetVerbose(sCfg.Verbose)
	if l := cmd.Int(LogLimitFlag); l >= 0 {
		log.SetLimiter(int(l))
	}

	cfg := config.Default()
	if sCfg.ConfigFile != "" {
		var err error
		cfg, err = config.Load(sCfg.ConfigFile)
		if err != nil {
			return nil, cfg, nil, err
		}
	}
	if d := cmd.Duration(TimeoutFlag); d > 0 {
		cfg.Timeout = d
	}
	if mtu := cmd.Int(MTUFlag); mtu > 0 {
		cfg.MTU = int(mtu)
	}
	if cmd.Bool(DualModeFlag) {
		cfg.DualMode = true
	}

	if errors := config.Validate(sCfg, &cfg); len(errors) > 0 {
		log.ErrorMsg("Argument validation errors:\n")
		for _, err := range errors {
			log.ErrorMsg(" - %s\n", err)
		}
		return nil, cfg, nil, fmt.Errorf("exiting")
	}

	return sCfg, cfg, dependencies(sCfg), nil
}

func dependencies(sCfg *config.Shared) *config.Dependencies {
	if sCfg.LogFile == "" {
		return nil
	}

	listen := config.GetPacketListenerFunc(nil)
	return &config.Dependencies{
		PacketListener: func(network, address string) (transport.PacketConn, error) {
			conn, err := listen(network, address)
			if err != nil {
				return nil, err
			}
			logged, err := log.NewLoggedPacketConn(conn, sCfg.LogFile)
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("log.NewLoggedPacketConn(%s): %w", sCfg.LogFile, err)
			}
			return logged, nil
		},
	}
}
