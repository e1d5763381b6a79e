package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/haemilhq/haemilchat/internal/auth"
	"github.com/haemilhq/haemilchat/internal/chat"
	"github.com/haemilhq/haemilchat/internal/history"
	"github.com/haemilhq/haemilchat/internal/transport"
	"github.com/haemilhq/haemilchat/pkg/models"
)

// ChatCommand returns the interactive chat command
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Start an interactive chat session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mode",
				Aliases: []string{"m"},
				Usage:   "Conversation mode: bot or counselor",
			},
			&cli.StringFlag{
				Name:    "token",
				Aliases: []string{"t"},
				Usage:   "Bearer token for the chat backend",
				EnvVars: []string{"HAEMILCHAT_TOKEN"},
			},
		},
		Action: runChat,
	}
}

func runChat(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if mode := c.String("mode"); mode != "" {
		if mode != chat.ModeBot && mode != chat.ModeCounselor {
			return fmt.Errorf("mode must be bot or counselor, got %q", mode)
		}
		cfg.Chat.Mode = mode
	}

	snapshots, err := history.OpenSQLite(c.Context, cfg.History.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer snapshots.Close()

	tokens := auth.NewTokenStore()
	if tok := c.String("token"); tok != "" {
		tokens.SetToken(tok)
	}

	svc := chat.NewService(chat.Options{
		Session:   transport.NewSession(cfg.Transport()),
		Snapshots: snapshots,
		Tokens:    tokens,
		Mode:      cfg.Chat.Mode,
		Window:    cfg.Pagination(),
	})
	defer svc.Close()

	// Echo only remote and system messages; the user's own line is
	// already on screen.
	unsub := svc.OnMessage(func(m models.Message) {
		switch m.Sender {
		case models.SenderRemote:
			fmt.Printf("bot> %s\n", m.Text)
		case models.SenderSystem:
			fmt.Printf("system> %s\n", m.Text)
		}
	})
	defer unsub()

	if err := svc.Open(c.Context); err != nil {
		return err
	}

	fmt.Printf("haemilchat (%s mode). Commands: /history, /clear, /quit\n", cfg.Chat.Mode)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/history":
			for _, m := range svc.History() {
				printMessage(m)
			}
		case "/clear":
			if err := svc.ClearHistory(c.Context); err != nil {
				fmt.Fprintf(os.Stderr, "clear failed: %v\n", err)
				continue
			}
			fmt.Println("History cleared")
		default:
			if _, err := svc.Send(c.Context, line); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
	}
	return scanner.Err()
}

func printMessage(m models.Message) {
	prefix := "bot"
	switch m.Sender {
	case models.SenderSelf:
		prefix = "you"
	case models.SenderSystem:
		prefix = "system"
	}
	marker := ""
	switch m.DeliveryStatus() {
	case models.StatusPending:
		marker = " (sending)"
	case models.StatusFailed:
		marker = " (failed)"
	}
	fmt.Printf("%s> %s%s\n", prefix, m.Text, marker)
}
