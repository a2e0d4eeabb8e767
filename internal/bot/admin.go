package bot

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"upicash-bot/internal/settings"
	"upicash-bot/internal/withdrawal"
)

func (b *Bot) handleApprove(ctx *th.Context, update telego.Update) error {
	message := update.Message
	parts := strings.Fields(message.Text)
	if len(parts) < 2 {
		b.reply(ctx, message.Chat.ID, "Usage: /approve <id> [note]")
		return nil
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		b.reply(ctx, message.Chat.ID, "❌ Invalid withdrawal id.")
		return nil
	}
	note := strings.Join(parts[2:], " ")

	req, err := b.Withdrawals.Approve(uint(id), note)
	if err != nil {
		if errors.Is(err, withdrawal.ErrNotFound) {
			b.reply(ctx, message.Chat.ID, fmt.Sprintf("❌ No pending withdrawal #%d.", id))
		} else {
			log.Printf("Failed to approve withdrawal %d: %v", id, err)
			b.reply(ctx, message.Chat.ID, "❌ Approve failed, see logs.")
		}
		return nil
	}

	b.reply(ctx, message.Chat.ID, fmt.Sprintf("✅ Withdrawal #%d approved.\nPay %d credits to %s\nReference: %s", req.ID, req.Amount, req.PayoutAddress, req.Reference))

	// The transfer itself is manual; the state change above must stand
	// even if this notification fails.
	_, err = b.Instance.SendMessage(ctx.Context(), tu.Message(
		tu.ID(req.User.TelegramID),
		fmt.Sprintf("✅ Your withdrawal #%d for %d credits was approved! The payout to %s is on its way.", req.ID, req.Amount, req.PayoutAddress),
	))
	if err != nil {
		log.Printf("Failed to notify user %d about approval: %v", req.User.TelegramID, err)
	}
	return nil
}

func (b *Bot) handleDecline(ctx *th.Context, update telego.Update) error {
	message := update.Message
	parts := strings.Fields(message.Text)
	if len(parts) < 2 {
		b.reply(ctx, message.Chat.ID, "Usage: /decline <id> <reason>")
		return nil
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		b.reply(ctx, message.Chat.ID, "❌ Invalid withdrawal id.")
		return nil
	}
	reason := strings.Join(parts[2:], " ")

	req, err := b.Withdrawals.Decline(uint(id), reason)
	if err != nil {
		if errors.Is(err, withdrawal.ErrNotFound) {
			b.reply(ctx, message.Chat.ID, fmt.Sprintf("❌ No pending withdrawal #%d.", id))
		} else {
			log.Printf("Failed to decline withdrawal %d: %v", id, err)
			b.reply(ctx, message.Chat.ID, "❌ Decline failed, see logs.")
		}
		return nil
	}

	b.reply(ctx, message.Chat.ID, fmt.Sprintf("↩️ Withdrawal #%d declined, %d credits refunded.", req.ID, req.Amount))

	text := fmt.Sprintf("❌ Your withdrawal #%d was declined and %d credits were returned to your balance.", req.ID, req.Amount)
	if reason != "" {
		text += "\nReason: " + reason
	}
	if _, err := b.Instance.SendMessage(ctx.Context(), tu.Message(tu.ID(req.User.TelegramID), text)); err != nil {
		log.Printf("Failed to notify user %d about decline: %v", req.User.TelegramID, err)
	}
	return nil
}

func (b *Bot) handlePending(ctx *th.Context, update telego.Update) error {
	requests, err := b.Withdrawals.ListPending()
	if err != nil {
		log.Printf("Failed to list pending withdrawals: %v", err)
		b.reply(ctx, update.Message.Chat.ID, "❌ Could not load pending withdrawals.")
		return nil
	}
	if len(requests) == 0 {
		b.reply(ctx, update.Message.Chat.ID, "📭 No pending withdrawals.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString("📬 Pending withdrawals (oldest first):\n\n")
	for _, req := range requests {
		sb.WriteString(fmt.Sprintf("#%d — %d credits to %s (user %d, @%s) at %s\n",
			req.ID, req.Amount, req.PayoutAddress, req.User.TelegramID, req.User.Username,
			req.RequestedAt.Format("02.01.2006 15:04")))
	}
	b.reply(ctx, update.Message.Chat.ID, sb.String())
	return nil
}

func (b *Bot) handleAddBalance(ctx *th.Context, update telego.Update) error {
	message := update.Message
	parts := strings.Fields(message.Text)
	if len(parts) < 3 {
		b.reply(ctx, message.Chat.ID, "Usage: /addbalance <telegram_id> <amount>")
		return nil
	}
	telegramID, err1 := strconv.ParseInt(parts[1], 10, 64)
	amount, err2 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil || amount == 0 {
		b.reply(ctx, message.Chat.ID, "❌ Invalid arguments.")
		return nil
	}

	// Negative amounts are a manual deduction.
	var err error
	if amount > 0 {
		err = b.Ledger.Credit(telegramID, amount)
	} else {
		err = b.Ledger.Debit(telegramID, -amount)
	}
	if err != nil {
		b.reply(ctx, message.Chat.ID, fmt.Sprintf("❌ Adjustment failed: %v", err))
		return nil
	}

	user, err := b.Ledger.Get(telegramID)
	if err != nil {
		b.reply(ctx, message.Chat.ID, "❌ User not found.")
		return nil
	}
	b.reply(ctx, message.Chat.ID, fmt.Sprintf("✅ Balance of %d is now %d credits.", telegramID, user.Balance))
	return nil
}

func (b *Bot) handleSetBonus(ctx *th.Context, update telego.Update) error {
	message := update.Message
	parts := strings.Fields(message.Text)
	if len(parts) < 3 {
		b.reply(ctx, message.Chat.ID, "Usage: /setbonus <referrer_bonus> <referee_bonus>")
		return nil
	}
	referrerBonus, err1 := strconv.ParseInt(parts[1], 10, 64)
	refereeBonus, err2 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil {
		b.reply(ctx, message.Chat.ID, "❌ Invalid arguments.")
		return nil
	}

	if err := b.Settings.Set(settings.KeyReferralBonus, referrerBonus); err != nil {
		log.Printf("Failed to set referral bonus: %v", err)
	}
	if err := b.Settings.Set(settings.KeyRefereeBonus, refereeBonus); err != nil {
		log.Printf("Failed to set referee bonus: %v", err)
	}
	b.reply(ctx, message.Chat.ID, fmt.Sprintf("✅ Bonuses set: referrer %d, referee %d.", referrerBonus, refereeBonus))
	return nil
}

func (b *Bot) handleSetMin(ctx *th.Context, update telego.Update) error {
	message := update.Message
	parts := strings.Fields(message.Text)
	if len(parts) < 2 {
		b.reply(ctx, message.Chat.ID, "Usage: /setmin <amount>")
		return nil
	}
	minWithdraw, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		b.reply(ctx, message.Chat.ID, "❌ Invalid amount.")
		return nil
	}
	if err := b.Settings.Set(settings.KeyMinWithdraw, minWithdraw); err != nil {
		log.Printf("Failed to set min withdraw: %v", err)
		b.reply(ctx, message.Chat.ID, "❌ Could not save setting.")
		return nil
	}
	b.reply(ctx, message.Chat.ID, fmt.Sprintf("✅ Minimum withdrawal set to %d credits.", minWithdraw))
	return nil
}

func (b *Bot) handleAddChannel(ctx *th.Context, update telego.Update) error {
	message := update.Message
	parts := strings.Fields(message.Text)
	if len(parts) < 2 {
		b.reply(ctx, message.Chat.ID, "Usage: /addchannel <chat_id> [title]")
		return nil
	}
	chatID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		b.reply(ctx, message.Chat.ID, "❌ Invalid chat id.")
		return nil
	}
	title := strings.Join(parts[2:], " ")

	if err := b.Gate.AddChannel(chatID, title); err != nil {
		log.Printf("Failed to add channel %d: %v", chatID, err)
		b.reply(ctx, message.Chat.ID, "❌ Could not add channel.")
		return nil
	}
	b.reply(ctx, message.Chat.ID, fmt.Sprintf("✅ Channel %d added to the required list.", chatID))
	return nil
}

func (b *Bot) handleDelChannel(ctx *th.Context, update telego.Update) error {
	message := update.Message
	parts := strings.Fields(message.Text)
	if len(parts) < 2 {
		b.reply(ctx, message.Chat.ID, "Usage: /delchannel <chat_id>")
		return nil
	}
	chatID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		b.reply(ctx, message.Chat.ID, "❌ Invalid chat id.")
		return nil
	}
	if err := b.Gate.RemoveChannel(chatID); err != nil {
		log.Printf("Failed to remove channel %d: %v", chatID, err)
		b.reply(ctx, message.Chat.ID, "❌ Could not remove channel.")
		return nil
	}
	b.reply(ctx, message.Chat.ID, fmt.Sprintf("✅ Channel %d removed.", chatID))
	return nil
}

func (b *Bot) handleChannels(ctx *th.Context, update telego.Update) error {
	channels, err := b.Gate.RequiredChannels()
	if err != nil {
		log.Printf("Failed to list channels: %v", err)
		b.reply(ctx, update.Message.Chat.ID, "❌ Could not load channels.")
		return nil
	}
	if len(channels) == 0 {
		b.reply(ctx, update.Message.Chat.ID, "📭 No required channels configured.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString("📢 Required channels:\n\n")
	for _, channel := range channels {
		sb.WriteString(fmt.Sprintf("• %d %s\n", channel.ChatID, channel.Title))
	}
	b.reply(ctx, update.Message.Chat.ID, sb.String())
	return nil
}

func (b *Bot) handleStats(ctx *th.Context, update telego.Update) error {
	stats, err := b.Ledger.Stats()
	if err != nil {
		log.Printf("Failed to load stats: %v", err)
		b.reply(ctx, update.Message.Chat.ID, "❌ Could not load stats.")
		return nil
	}
	pending, err := b.Withdrawals.PendingCount()
	if err != nil {
		log.Printf("Failed to count pending withdrawals: %v", err)
	}
	b.reply(ctx, update.Message.Chat.ID, fmt.Sprintf(
		"📊 Stats\n\n👥 Total users: %d\n✅ Joined: %d\n📬 Pending withdrawals: %d",
		stats.TotalUsers, stats.JoinedUsers, pending))
	return nil
}

// handleBroadcast fans the text out to every user. Individual delivery
// failures (blocked bot, deleted account) are skipped, never fatal.
func (b *Bot) handleBroadcast(ctx *th.Context, update telego.Update) error {
	message := update.Message
	text := strings.TrimSpace(strings.TrimPrefix(message.Text, "/broadcast"))
	if text == "" {
		b.reply(ctx, message.Chat.ID, "Usage: /broadcast <text>")
		return nil
	}

	users, err := b.Ledger.AllUsers()
	if err != nil {
		log.Printf("Failed to load users for broadcast: %v", err)
		b.reply(ctx, message.Chat.ID, "❌ Could not load users.")
		return nil
	}

	sent, failed := 0, 0
	for _, user := range users {
		if _, err := b.Instance.SendMessage(ctx.Context(), tu.Message(tu.ID(user.TelegramID), text)); err != nil {
			log.Printf("Broadcast to %d failed: %v", user.TelegramID, err)
			failed++
			continue
		}
		sent++
	}
	b.reply(ctx, message.Chat.ID, fmt.Sprintf("📣 Broadcast done: %d sent, %d failed.", sent, failed))
	return nil
}

func (b *Bot) reply(ctx *th.Context, chatID int64, text string) {
	if _, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), text)); err != nil {
		log.Printf("Failed to send message to %d: %v", chatID, err)
	}
}
