// Package notify sends best-effort operator messages through the
// Telegram Bot API. Failures are swallowed: a broken bot must never
// fail a tick.
package notify

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Comrade19632/tgParser/internal/logger"
)

// Store is the recipient lookup the team broadcast needs.
type Store interface {
	ListStaffRecipients(ctx context.Context) ([]int64, error)
}

type Notifier struct {
	logger      *logger.Logger
	store       Store
	bot         *tgbotapi.BotAPI
	adminChatID int64
}

// New builds a notifier. An empty token disables sending entirely; the
// notifier stays usable as a no-op.
func New(log *logger.Logger, st Store, botToken string, adminChatID int64) *Notifier {
	n := &Notifier{
		logger:      log.WithComponent("notify"),
		store:       st,
		adminChatID: adminChatID,
	}

	if botToken == "" {
		return n
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		n.logger.Warn("bot api init failed, notifications disabled", slog.Any("error", err))
		return n
	}
	n.bot = bot
	return n
}

func (n *Notifier) send(chatID int64, text string) bool {
	if n.bot == nil || chatID == 0 {
		return false
	}
	if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		n.logger.Info("notification send failed",
			slog.Int64("chat_id", chatID),
			slog.Any("error", err))
		return false
	}
	return true
}

// NotifyOperator messages the single configured operator chat.
func (n *Notifier) NotifyOperator(ctx context.Context, text string) {
	n.send(n.adminChatID, text)
}

// NotifyTeam broadcasts to every opted-in staff recipient. A failure
// for one recipient does not stop the broadcast.
func (n *Notifier) NotifyTeam(ctx context.Context, text string) {
	if n.bot == nil {
		return
	}

	recipients, err := n.store.ListStaffRecipients(ctx)
	if err != nil {
		n.logger.Warn("failed to enumerate staff recipients", slog.Any("error", err))
		return
	}

	for _, chatID := range recipients {
		n.send(chatID, text)
	}
}
