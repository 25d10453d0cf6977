package version

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// Version is set at build time with -ldflags "-X .../cmd/version.Version=..."
var Version = "unknown"

// GetCommand returns the command that prints the program version.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Program version",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Printf("kcpnet %s\n", Version)
			return nil
		},
		Flags: []cli.Flag{},
	}
}
