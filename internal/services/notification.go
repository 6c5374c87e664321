package services

import (
	"context"
	"fmt"
	"log"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/equitra/swingscan-go/internal/config"
	"github.com/equitra/swingscan-go/internal/models"
	"github.com/equitra/swingscan-go/internal/telemetry"
)

// topPicksShown bounds how many candidates the Telegram summary lists.
const topPicksShown = 5

// NotificationService sends completed-run summaries to a configured
// Telegram chat. Without a bot token the service stays constructed but
// inert, so callers never branch on notification availability.
type NotificationService struct {
	bot    *bot.Bot
	chatID int64
}

// NewNotificationService creates the Telegram notifier. An empty token
// or a bot initialization failure leaves the service disabled.
func NewNotificationService(cfg config.TelegramConfig) *NotificationService {
	var telegramBot *bot.Bot
	if cfg.BotToken != "" {
		var err error
		telegramBot, err = bot.New(cfg.BotToken)
		if err != nil {
			log.Printf("Failed to initialize Telegram bot, notifications disabled: %v", err)
		}
	} else {
		log.Printf("No Telegram bot token configured, notifications disabled")
	}

	return &NotificationService{
		bot:    telegramBot,
		chatID: cfg.ChatID,
	}
}

// Enabled reports whether the notifier has both a working bot and a
// destination chat.
func (ns *NotificationService) Enabled() bool {
	return ns.bot != nil && ns.chatID != 0
}

// NotifyScanComplete sends a formatted summary of a completed run to the
// configured chat. A disabled notifier is a silent no-op so a missing
// token never affects the scan pipeline.
func (ns *NotificationService) NotifyScanComplete(ctx context.Context, summary *models.ScanSummary, result *models.SelectionResult) error {
	if !ns.Enabled() {
		return nil
	}

	tracer := telemetry.NewScanTracer()
	ctx, span := tracer.TraceDelivery(ctx, "telegram")
	defer span.End()

	message := ns.formatScanMessage(summary, result)

	_, err := ns.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    ns.chatID,
		Text:      message,
		ParseMode: tgmodels.ParseModeMarkdown,
	})
	tracer.RecordDeliveryResult(span, summary.Candidates, err)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	log.Printf("Sent scan summary for run %s (%d candidates)", summary.RunID, summary.Candidates)
	return nil
}

// formatScanMessage creates a formatted message for a completed screening run
func (ns *NotificationService) formatScanMessage(summary *models.ScanSummary, result *models.SelectionResult) string {
	caser := cases.Title(language.English)

	if len(result.TopN) == 0 {
		message := "🔍 *Scan Complete: No Candidates*\n\n"
		message += fmt.Sprintf("Market: *%s* (avg score %.1f)\n", caser.String(summary.MarketStatus), summary.AverageScore)
		message += fmt.Sprintf("Scored %d of %d instruments, none passed the admission gates.\n",
			summary.Scored, summary.UniverseSize)
		return message
	}

	message := "📉 *Oversold Candidates*\n\n"
	message += fmt.Sprintf("Market: *%s* (avg score %.1f)\n", caser.String(summary.MarketStatus), summary.AverageScore)
	message += fmt.Sprintf("Found %d candidates from %d instruments:\n\n", summary.Candidates, summary.UniverseSize)

	topCandidates := result.TopN
	if len(topCandidates) > topPicksShown {
		topCandidates = topCandidates[:topPicksShown]
	}

	for i, candidate := range topCandidates {
		message += fmt.Sprintf("*%d. %s* (%s)\n", i+1, candidate.DisplayName, candidate.InstrumentID)
		message += fmt.Sprintf("💯 Score: *%d* (risk: %s)\n", candidate.Score.Total, caser.String(string(candidate.RiskTier)))
		message += fmt.Sprintf("💲 Close: %s 🛑 Stop: %s 🎯 Target: %s\n",
			candidate.CurrentPrice.StringFixed(0),
			candidate.StopLoss.StringFixed(0),
			candidate.TargetPrice.StringFixed(0))
		message += "\n"
	}

	if len(result.TopN) > topPicksShown {
		message += fmt.Sprintf("...and %d more candidates\n\n", len(result.TopN)-topPicksShown)
	}

	message += "⚡ Stops sit 5% under the close, targets 10% over."
	return message
}
