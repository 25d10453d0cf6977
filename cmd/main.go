package main

import (
	"context"
	"dominicbreuker/kcpnet/cmd/connect"
	"dominicbreuker/kcpnet/cmd/serve"
	"dominicbreuker/kcpnet/cmd/version"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Printf("[!] Error: %s\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "kcpnet",
		Usage: "reliable and unreliable messaging over UDP",
		Commands: []*cli.Command{
			serve.GetCommand(),
			connect.GetCommand(),
			version.GetCommand(),
		},
	}
}
