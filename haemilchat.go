package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/haemilhq/haemilchat/cmd"
	"github.com/haemilhq/haemilchat/internal/logging"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "haemilchat",
		Usage:   "Realtime counseling chat client for the Haemil backend",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "haemilchat.toml",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: trace, debug, info, warn, error",
				Value:   "info",
				EnvVars: []string{"HAEMILCHAT_LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			logging.Setup(c.String("log-level"))
			return nil
		},
		Commands: []*cli.Command{
			cmd.ChatCommand(),
			cmd.HistoryCommand(),
			cmd.ConfigCommand(),
			cmd.DevserverCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
