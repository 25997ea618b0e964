package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "kucoin-futures",
		Usage: "authenticated KuCoin futures REST client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file (yaml or json); defaults to ./config.*",
				EnvVars: []string{"KUCOIN_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "account",
				Usage: "account whose stored credentials are used",
			},
		},
		Before: setup,
		After:  teardown,
		Commands: []*cli.Command{
			timeCommand(),
			accountCommand(),
			clockCommand(),
			credentialsCommand(),
			serveCommand(),
			tokenCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
