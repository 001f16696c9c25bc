package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error: ", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "bloodbankctl",
		Usage: "Operator utility for the blood bank inventory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "specify an env file to load configuration from",
			},
			&cli.StringFlag{
				Name:    "server",
				Value:   "http://localhost:8080",
				EnvVars: []string{"BLOODBANK_SERVER_URL"},
				Usage:   "specify the base URL of the running server used by sweep and stock",
			},
		},
		Commands: []*cli.Command{
			compatCmd,
			scoreCmd,
			sweepCmd,
			stockCmd,
			availabilityCmd,
		},
	}
}
