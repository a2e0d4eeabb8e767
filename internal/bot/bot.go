package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"upicash-bot/internal/ledger"
	"upicash-bot/internal/membership"
	"upicash-bot/internal/referral"
	"upicash-bot/internal/settings"
	"upicash-bot/internal/withdrawal"
)

type Bot struct {
	Instance    *telego.Bot
	DB          *gorm.DB
	Redis       *redis.Client
	Ledger      *ledger.Store
	Referrals   *referral.Tracker
	Withdrawals *withdrawal.Workflow
	Settings    *settings.Store
	Gate        *membership.Gate
	AdminID     int64
	Username    string
}

func NewBot(token string, db *gorm.DB, rdb *redis.Client, adminID int64, username string) (*Bot, error) {
	tgBot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	ledgerStore := ledger.NewStore(db)
	settingsStore := settings.NewStore(db)

	b := &Bot{
		Instance:    tgBot,
		DB:          db,
		Redis:       rdb,
		Ledger:      ledgerStore,
		Referrals:   referral.NewTracker(db, ledgerStore, settingsStore),
		Withdrawals: withdrawal.NewWorkflow(db, ledgerStore, settingsStore),
		Settings:    settingsStore,
		AdminID:     adminID,
		Username:    username,
	}
	b.Gate = membership.NewGate(db, rdb, &chatMemberChecker{bot: tgBot})
	return b, nil
}

func (b *Bot) Start() {
	// chat_member updates are not delivered unless requested explicitly.
	updates, _ := b.Instance.UpdatesViaLongPolling(context.Background(), &telego.GetUpdatesParams{
		AllowedUpdates: []string{"message", "callback_query", "chat_member"},
	})

	handler, _ := th.NewBotHandler(b.Instance, updates)

	// User commands
	handler.Handle(b.handleStart, th.CommandEqual("start"))
	handler.Handle(b.handleBalance, th.CommandEqual("balance"))
	handler.Handle(b.handleRefer, th.CommandEqual("refer"))
	handler.Handle(b.handleSetVPA, th.CommandEqual("setvpa"))
	handler.Handle(b.handleWithdraw, th.CommandEqual("withdraw"))

	// Admin commands, each defined exactly once
	handler.Handle(b.adminOnly(b.handleApprove), th.CommandEqual("approve"))
	handler.Handle(b.adminOnly(b.handleDecline), th.CommandEqual("decline"))
	handler.Handle(b.adminOnly(b.handlePending), th.CommandEqual("pending"))
	handler.Handle(b.adminOnly(b.handleAddBalance), th.CommandEqual("addbalance"))
	handler.Handle(b.adminOnly(b.handleSetBonus), th.CommandEqual("setbonus"))
	handler.Handle(b.adminOnly(b.handleSetMin), th.CommandEqual("setmin"))
	handler.Handle(b.adminOnly(b.handleAddChannel), th.CommandEqual("addchannel"))
	handler.Handle(b.adminOnly(b.handleDelChannel), th.CommandEqual("delchannel"))
	handler.Handle(b.adminOnly(b.handleChannels), th.CommandEqual("channels"))
	handler.Handle(b.adminOnly(b.handleStats), th.CommandEqual("stats"))
	handler.Handle(b.adminOnly(b.handleBroadcast), th.CommandEqual("broadcast"))

	// Callbacks
	handler.Handle(b.handleCheckJoin, th.CallbackDataEqual("check_join"))
	handler.Handle(b.handleProfileCallback, th.CallbackDataEqual("profile"))
	handler.Handle(b.handleReferCallback, th.CallbackDataEqual("invite_friend"))

	// Channel join/leave push events
	handler.Handle(b.handleChatMemberUpdated, anyChatMemberUpdated)

	// Passive recheck for users that have not verified yet; registered
	// last so it never shadows a command.
	handler.Handle(b.handlePlainText, th.AnyMessageWithText())

	handler.Start()
}

func anyChatMemberUpdated(_ context.Context, update telego.Update) bool {
	return update.ChatMember != nil
}

// adminOnly drops messages from anyone but the configured admin.
func (b *Bot) adminOnly(next th.Handler) th.Handler {
	return func(ctx *th.Context, update telego.Update) error {
		if update.Message == nil || update.Message.From == nil || update.Message.From.ID != b.AdminID {
			return nil
		}
		return next(ctx, update)
	}
}
