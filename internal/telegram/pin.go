package telegram

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

var monthArgRe = regexp.MustCompile(`^\d{4}-\d{2}$`)

// handlePin processes "/pin YYYY-MM": it marks the whole month bucket exempt
// from retention. Admin only; re-pinning an already-pinned month reports
// success like the first pin.
func (a *Adapter) handlePin(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	log := a.logger.With("handler", "pin")

	if msg.From.ID != a.adminID {
		log.WarnContext(ctx, "Pin command from non-admin",
			"user_id", msg.From.ID, "chat_id", msg.Chat.ID)
		a.reply(ctx, b, msg, "You are not authorized to use this command.")
		return
	}

	parts := strings.Fields(msg.Text)
	if len(parts) != 2 || !monthArgRe.MatchString(parts[1]) {
		a.reply(ctx, b, msg, "Usage: /pin YYYY-MM")
		return
	}
	month := parts[1]

	rows, err := a.store.PinMonth(ctx, month)
	if err != nil {
		log.ErrorContext(ctx, "Failed to pin month", "month", month, "error", err)
		a.reply(ctx, b, msg, "Pin failed, check the service logs.")
		return
	}

	a.reply(ctx, b, msg, fmt.Sprintf(
		"Messages of %s are now preserved permanently (%d newly marked).", month, rows))
}

func (a *Adapter) reply(ctx context.Context, b *bot.Bot, msg *models.Message, text string) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: msg.Chat.ID,
		Text:   text,
	}); err != nil {
		a.logger.ErrorContext(ctx, "Failed to send reply",
			"chat_id", msg.Chat.ID, "error", err)
	}
}
