package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "mqbridge",
		Usage: "Expose a message queue over HTTP",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Connect to the queue and serve the HTTP API",
				Flags:  runFlags(),
				Action: run,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
