package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"upicash-bot/internal/ledger"
	"upicash-bot/internal/models"
	"upicash-bot/internal/settings"
	"upicash-bot/internal/withdrawal"
)

func (b *Bot) handleStart(ctx *th.Context, update telego.Update) error {
	message := update.Message
	telegramID := message.From.ID

	user, err := b.Ledger.GetOrCreate(telegramID, message.From.Username)
	if err != nil {
		log.Printf("Failed to get/create user %d: %v", telegramID, err)
		return nil
	}

	// Deep-link referral code, e.g. /start ref_12345
	args := ""
	if parts := strings.Split(message.Text, " "); len(parts) > 1 {
		args = parts[1]
	}
	if args != "" && args != user.ReferralCode {
		if err := b.Referrals.Record(args, telegramID); err != nil {
			log.Printf("Failed to record referral for %d: %v", telegramID, err)
		}
	}

	missing, err := b.Gate.VerifyAll(ctx.Context(), telegramID)
	if err != nil {
		log.Printf("Failed to verify channels for %d: %v", telegramID, err)
	}
	if len(missing) == 0 {
		b.confirmJoined(ctx.Context(), telegramID)

		keyboard := tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("💰 My Balance").WithCallbackData("profile"),
				tu.InlineKeyboardButton("🤝 Refer & Earn").WithCallbackData("invite_friend"),
			),
		)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(message.Chat.ID),
			fmt.Sprintf("Hi, %s! 👋\n\nRefer friends, earn credits and cash out to your UPI.\n\nCommands:\n/balance — your credits\n/refer — your referral link\n/setvpa — set payout address\n/withdraw — request cash-out", message.From.FirstName),
		).WithReplyMarkup(keyboard))
		return nil
	}

	b.sendJoinPrompt(ctx, message.Chat.ID, missing)
	return nil
}

func (b *Bot) sendJoinPrompt(ctx *th.Context, chatID int64, missing []models.RequiredChannel) {
	var list strings.Builder
	for _, channel := range missing {
		name := channel.Title
		if name == "" {
			name = strconv.FormatInt(channel.ChatID, 10)
		}
		list.WriteString(fmt.Sprintf("• %s\n", name))
	}

	keyboard := tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("✅ I've joined").WithCallbackData("check_join"),
		),
	)
	_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(chatID),
		fmt.Sprintf("📢 Join the required channels first:\n\n%s\nThen tap the button below.", list.String()),
	).WithReplyMarkup(keyboard))
}

// confirmJoined marks the user joined and attempts the one-time
// referral bonus. Safe to call on every successful verification.
func (b *Bot) confirmJoined(ctx context.Context, telegramID int64) {
	if err := b.Ledger.MarkJoined(telegramID); err != nil {
		log.Printf("Failed to mark user %d joined: %v", telegramID, err)
		return
	}
	credited, err := b.Referrals.CreditIfNeeded(telegramID)
	if err != nil {
		log.Printf("Failed to credit referral for %d: %v", telegramID, err)
		return
	}
	if credited {
		bonus := b.Settings.Get(settings.KeyRefereeBonus, 0)
		if bonus > 0 {
			_, _ = b.Instance.SendMessage(ctx, tu.Message(
				tu.ID(telegramID),
				fmt.Sprintf("🎉 Welcome bonus credited: %d credits!", bonus),
			))
		}
	}
}

func (b *Bot) handleCheckJoin(ctx *th.Context, update telego.Update) error {
	callback := update.CallbackQuery
	telegramID := callback.From.ID

	if _, err := b.Ledger.GetOrCreate(telegramID, callback.From.Username); err != nil {
		log.Printf("Failed to get/create user %d: %v", telegramID, err)
	}

	missing, err := b.Gate.VerifyAll(ctx.Context(), telegramID)
	if err != nil {
		log.Printf("Failed to verify channels for %d: %v", telegramID, err)
	}
	if len(missing) > 0 {
		b.sendJoinPrompt(ctx, telegramID, missing)
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID).WithText("Not all channels joined yet"))
		return nil
	}

	b.confirmJoined(ctx.Context(), telegramID)
	_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(telegramID),
		"✅ Verified! You're all set.\n\nUse /refer to start earning and /balance to track your credits.",
	))
	_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
	return nil
}

func (b *Bot) handleBalance(ctx *th.Context, update telego.Update) error {
	b.sendBalance(ctx, update.Message.Chat.ID, update.Message.From.ID)
	return nil
}

func (b *Bot) handleProfileCallback(ctx *th.Context, update telego.Update) error {
	callback := update.CallbackQuery
	b.sendBalance(ctx, callback.From.ID, callback.From.ID)
	_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
	return nil
}

func (b *Bot) sendBalance(ctx *th.Context, chatID int64, telegramID int64) {
	user, err := b.Ledger.Get(telegramID)
	if err != nil {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), "❌ You're not registered yet. Send /start first."))
		return
	}

	vpa := user.PayoutAddress
	if vpa == "" {
		vpa = "not set — use /setvpa"
	}
	_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(chatID),
		fmt.Sprintf("💰 *Your account*\n\n🔹 Balance: %d credits\n🔹 VPA: %s\n🔹 Minimum withdrawal: %d", user.Balance, vpa, b.Settings.Get(settings.KeyMinWithdraw, 0)),
	).WithParseMode(telego.ModeMarkdown))
}

func (b *Bot) handleRefer(ctx *th.Context, update telego.Update) error {
	b.sendReferInfo(ctx, update.Message.Chat.ID, update.Message.From.ID)
	return nil
}

func (b *Bot) handleReferCallback(ctx *th.Context, update telego.Update) error {
	callback := update.CallbackQuery
	b.sendReferInfo(ctx, callback.From.ID, callback.From.ID)
	_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
	return nil
}

func (b *Bot) sendReferInfo(ctx *th.Context, chatID int64, telegramID int64) {
	user, err := b.Ledger.Get(telegramID)
	if err != nil {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), "❌ You're not registered yet. Send /start first."))
		return
	}

	stats, err := b.Referrals.StatsFor(user.ID)
	if err != nil {
		log.Printf("Failed to load referral stats for %d: %v", telegramID, err)
	}

	botUsername := b.Username
	if botUsername == "" {
		if info, err := b.Instance.GetMe(ctx.Context()); err == nil {
			botUsername = info.Username
		}
	}
	refLink := fmt.Sprintf("https://t.me/%s?start=%s", botUsername, user.ReferralCode)

	_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(chatID),
		fmt.Sprintf("🤝 *Refer & Earn*\n\nYou get %d credits for every friend who joins, and they get %d.\n\n👥 Invited: %d\n✅ Joined: %d\n💰 Earned: %d credits\n\n🔗 *Your link:*\n`%s`",
			b.Settings.Get(settings.KeyReferralBonus, 0), b.Settings.Get(settings.KeyRefereeBonus, 0),
			stats.Invited, stats.Credited, stats.TotalEarned, refLink),
	).WithParseMode(telego.ModeMarkdown))
}

func (b *Bot) handleSetVPA(ctx *th.Context, update telego.Update) error {
	message := update.Message
	telegramID := message.From.ID

	parts := strings.Fields(message.Text)
	if len(parts) < 2 {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), "Usage: /setvpa yourname@upi"))
		return nil
	}

	if _, err := b.Ledger.GetOrCreate(telegramID, message.From.Username); err != nil {
		log.Printf("Failed to get/create user %d: %v", telegramID, err)
	}
	if err := b.Ledger.SetPayoutAddress(telegramID, parts[1]); err != nil {
		log.Printf("Failed to set VPA for %d: %v", telegramID, err)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), "❌ Could not save your payout address. Try again."))
		return nil
	}

	_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), "✅ Payout address saved."))
	return nil
}

func (b *Bot) handleWithdraw(ctx *th.Context, update telego.Update) error {
	message := update.Message
	telegramID := message.From.ID
	chatID := message.Chat.ID

	parts := strings.Fields(message.Text)
	if len(parts) < 2 {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), "Usage: /withdraw <amount>"))
		return nil
	}
	amount, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || amount <= 0 {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), "❌ Enter a positive whole number of credits."))
		return nil
	}

	req, err := b.Withdrawals.Request(telegramID, amount)
	if err != nil {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), withdrawErrorText(err, b.Settings.Get(settings.KeyMinWithdraw, 0))))
		return nil
	}

	_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(chatID),
		fmt.Sprintf("✅ Withdrawal #%d for %d credits requested.\n\nThe amount is reserved from your balance. You'll be notified once the admin processes it.", req.ID, req.Amount),
	))

	// Heads-up for the admin; failure here must not affect the request.
	if b.AdminID != 0 {
		_, err = b.Instance.SendMessage(ctx.Context(), tu.Message(
			tu.ID(b.AdminID),
			fmt.Sprintf("📬 New withdrawal #%d: %d credits to %s (user %d).\n/approve %d or /decline %d <reason>", req.ID, req.Amount, req.PayoutAddress, telegramID, req.ID, req.ID),
		))
		if err != nil {
			log.Printf("Failed to notify admin about withdrawal %d: %v", req.ID, err)
		}
	}
	return nil
}

func withdrawErrorText(err error, minWithdraw int64) string {
	switch {
	case errors.Is(err, withdrawal.ErrNoPayoutAddress):
		return "❌ Set your payout address first: /setvpa yourname@upi"
	case errors.Is(err, withdrawal.ErrBelowMinimum):
		return fmt.Sprintf("❌ Minimum withdrawal is %d credits.", minWithdraw)
	case errors.Is(err, withdrawal.ErrPendingExists):
		return "⏳ You already have a pending withdrawal. Please wait for it to be processed."
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "❌ Insufficient balance."
	case errors.Is(err, ledger.ErrUserNotFound):
		return "❌ You're not registered yet. Send /start first."
	}
	return "❌ Something went wrong. Try again later."
}

// handlePlainText is the passive recheck: any text from a user that has
// not verified yet re-attempts channel verification.
func (b *Bot) handlePlainText(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if message.From == nil || strings.HasPrefix(message.Text, "/") {
		return nil
	}
	telegramID := message.From.ID

	user, err := b.Ledger.Get(telegramID)
	if err != nil || user.Joined {
		return nil
	}

	missing, err := b.Gate.VerifyAll(ctx.Context(), telegramID)
	if err != nil {
		log.Printf("Failed to verify channels for %d: %v", telegramID, err)
		return nil
	}
	if len(missing) > 0 {
		b.sendJoinPrompt(ctx, message.Chat.ID, missing)
		return nil
	}

	b.confirmJoined(ctx.Context(), telegramID)
	return nil
}
