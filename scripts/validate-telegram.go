package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-telegram/bot"
	"github.com/joho/godotenv"

	"github.com/equitra/swingscan-go/internal/config"
)

// Pre-deploy check for the Telegram notifier: token present, bot
// reachable, notification chat configured.
func main() {
	fmt.Println("🔧 Validating Telegram bot configuration...")

	if err := run(); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	fmt.Println("🎉 All Telegram bot configuration checks passed!")
}

func run() error {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("⚠️  No .env file loaded: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is not set, scan notifications stay disabled without it")
	}
	fmt.Printf("✅ Bot token present (%d characters)\n", len(cfg.Telegram.BotToken))

	if cfg.Telegram.ChatID == 0 {
		fmt.Println("⚠️  TELEGRAM_CHAT_ID is not set, scan summaries have nowhere to go")
	} else {
		fmt.Printf("✅ Notification chat configured: %d\n", cfg.Telegram.ChatID)
	}

	b, err := bot.New(cfg.Telegram.BotToken)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	fmt.Println("🔍 Checking bot API connection...")
	me, err := b.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("bot API call failed: %w", err)
	}
	fmt.Printf("✅ Connected as @%s (%s, id %d)\n", me.Username, me.FirstName, me.ID)

	return nil
}
