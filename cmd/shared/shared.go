// Package shared provides common CLI flag definitions and utility functions
// used across kcpnet's command-line interface.
package shared

import (
	"dominicbreuker/kcpnet/pkg/log"
	"strings"

	"github.com/urfave/cli/v3"
)

const categoryCommon = "common"

// VerboseFlag is the name of the flag to enable debug logging.
const VerboseFlag = "verbose"

// ConfigFlag is the name of the flag to specify a YAML transport config.
const ConfigFlag = "config"

// LogFileFlag is the name of the flag to specify a datagram trace file.
const LogFileFlag = "log"

// LogLimitFlag is the name of the flag to cap repeated debug messages.
const LogLimitFlag = "log-limit"

// TimeoutFlag is the name of the flag to override the connection timeout.
const TimeoutFlag = "timeout"

// MTUFlag is the name of the flag to override the datagram size.
const MTUFlag = "mtu"

// DualModeFlag is the name of the flag to use one dual-stack socket.
const DualModeFlag = "dual"

// GetBaseDescription returns the base description text for address
// arguments used in CLI commands.
func GetBaseDescription() string {
	return strings.Join([]string{
		"Specify the address like this: udp://127.0.0.1:7777 (the udp:// prefix is optional)",
		"You can omit the host when serving to bind to all interfaces.",
	}, "\n")
}

// GetArgsUsage returns the arguments usage string for CLI commands.
func GetArgsUsage() string {
	return "address"
}

// GetCommonFlags returns the CLI flags used by both serve and connect.
func GetCommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:     VerboseFlag,
			Aliases:  []string{"v"},
			Usage:    "Verbose debug logging",
			Category: categoryCommon,
			Value:    false,
			Required: false,
		},
		&cli.StringFlag{
			Name:     ConfigFlag,
			Aliases:  []string{"c"},
			Usage:    "YAML file with transport settings, flags below take precedence",
			Category: categoryCommon,
			Value:    "",
			Required: false,
		},
		&cli.StringFlag{
			Name:     LogFileFlag,
			Aliases:  []string{"l"},
			Usage:    "Trace every datagram to this file",
			Category: categoryCommon,
			Value:    "",
			Required: false,
		},
		&cli.IntFlag{
			Name:     LogLimitFlag,
			Usage:    "Print each kind of debug message at most this often, 0 for no limit",
			Category: categoryCommon,
			Value:    log.DefaultLimit,
			Required: false,
		},
		&cli.DurationFlag{
			Name:     TimeoutFlag,
			Aliases:  []string{"t"},
			Usage:    "Disconnect peers silent for longer than this",
			Category: categoryCommon,
			Required: false,
		},
		&cli.IntFlag{
			Name:     MTUFlag,
			Usage:    "Largest datagram in bytes",
			Category: categoryCommon,
			Required: false,
		},
		&cli.BoolFlag{
			Name:     DualModeFlag,
			Usage:    "Use a single socket for IPv4 and IPv6",
			Category: categoryCommon,
			Value:    false,
			Required: false,
		},
	}
}

const categoryConnect = "connect"

// UnreliableFlag is the name of the flag to send input lines unreliably.
const UnreliableFlag = "unreliable"

// GetConnectFlags returns the CLI flags specific to connect mode.
func GetConnectFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:     UnreliableFlag,
			Aliases:  []string{"u"},
			Usage:    "Send lines on the unreliable channel",
			Category: categoryConnect,
			Value:    false,
			Required: false,
		},
	}
}

const categoryServe = "serve"

// QuietFlag is the name of the flag to stop echoing payloads to stdout.
const QuietFlag = "quiet"

// GetServeFlags returns the CLI flags specific to serve mode.
func GetServeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:     QuietFlag,
			Aliases:  []string{"q"},
			Usage:    "Do not print received payloads",
			Category: categoryServe,
			Value:    false,
			Required: false,
		},
	}
}
