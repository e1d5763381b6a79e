package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/haemilhq/haemilchat/internal/devserver"
)

// DevserverCommand returns the local backend command
func DevserverCommand() *cli.Command {
	return &cli.Command{
		Name:  "devserver",
		Usage: "Run a local chat backend for development",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on (overrides config)",
			},
			&cli.DurationFlag{
				Name:  "push-interval",
				Usage: "Interval between unsolicited pushes, 0 to disable",
				Value: 30 * time.Second,
			},
		},
		Action: runDevserver,
	}
}

func runDevserver(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	port := cfg.Devserver.Port
	if p := c.Int("port"); p != 0 {
		port = p
	}

	server := devserver.NewServer(devserver.Config{
		Port:         port,
		JWTSecret:    cfg.Devserver.JWTSecret,
		PushInterval: c.Duration("push-interval"),
	})
	return server.Start()
}
