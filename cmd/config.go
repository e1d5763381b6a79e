package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/haemilhq/haemilchat/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "haemilchat.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: runConfigValidate,
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration",
				Action: runConfigShow,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	configPath := c.String("config")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Println("Configuration is valid")
	return nil
}

func runConfigShow(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	fmt.Println("[chat]")
	fmt.Printf("url = %q\n", cfg.Chat.URL)
	fmt.Printf("mode = %q\n", cfg.Chat.Mode)
	fmt.Printf("connect_timeout_ms = %d\n", cfg.Chat.ConnectTimeoutMS)
	fmt.Printf("reply_timeout_ms = %d\n", cfg.Chat.ReplyTimeoutMS)
	fmt.Println("\n[reconnect]")
	fmt.Printf("base_delay_ms = %d\n", cfg.Reconnect.BaseDelayMS)
	fmt.Printf("max_delay_ms = %d\n", cfg.Reconnect.MaxDelayMS)
	fmt.Println("\n[history]")
	fmt.Printf("db_path = %q\n", cfg.History.DBPath)
	fmt.Printf("page_size = %d\n", cfg.History.PageSize)
	fmt.Println("\n[log]")
	fmt.Printf("level = %q\n", cfg.Log.Level)
	fmt.Println("\n[devserver]")
	fmt.Printf("port = %d\n", cfg.Devserver.Port)
	return nil
}

// loadConfig resolves the --config flag for commands that should run
// with defaults when the file is absent.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
