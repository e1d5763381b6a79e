package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/haemilhq/haemilchat/internal/auth"
	"github.com/haemilhq/haemilchat/internal/history"
)

// HistoryCommand returns the history inspection command
func HistoryCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "mode",
			Aliases: []string{"m"},
			Usage:   "Conversation mode: bot or counselor",
		},
		&cli.StringFlag{
			Name:    "token",
			Aliases: []string{"t"},
			Usage:   "Bearer token the conversation was stored under",
			EnvVars: []string{"HAEMILCHAT_TOKEN"},
		},
	}
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect persisted chat history",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the persisted conversation",
				Flags:  flags,
				Action: runHistoryShow,
			},
			{
				Name:   "clear",
				Usage:  "Delete the persisted conversation",
				Flags:  flags,
				Action: runHistoryClear,
			},
		},
	}
}

// conversationKey mirrors how the chat service scopes storage: the token
// subject plus mode when a subject is derivable, the token fingerprint
// otherwise.
func conversationKey(c *cli.Context, defaultMode string) string {
	token := c.String("token")
	mode := c.String("mode")
	if mode == "" {
		mode = defaultMode
	}
	scope := ""
	if subject := auth.Subject(token); subject != "" {
		scope = subject + "_" + mode
	}
	return history.Key(token, scope)
}

func runHistoryShow(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := history.OpenSQLite(c.Context, cfg.History.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer store.Close()

	key := conversationKey(c, cfg.Chat.Mode)
	messages, err := store.Load(c.Context, key)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	if len(messages) == 0 {
		fmt.Printf("No history stored under %s\n", key)
		return nil
	}

	fmt.Printf("%d messages under %s:\n", len(messages), key)
	for _, m := range messages {
		ts := time.UnixMilli(m.CreatedAt).Format("2006-01-02 15:04:05")
		fmt.Printf("[%s] ", ts)
		printMessage(m)
	}
	return nil
}

func runHistoryClear(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := history.OpenSQLite(c.Context, cfg.History.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer store.Close()

	key := conversationKey(c, cfg.Chat.Mode)
	if err := store.Delete(c.Context, key); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	fmt.Printf("Cleared history under %s\n", key)
	return nil
}
