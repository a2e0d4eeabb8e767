package bot

import (
	"fmt"
	"log"
	"time"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
)

// handleChatMemberUpdated reacts to membership pushes for required
// channels: leaving zeroes the balance immediately, joining retriggers
// verification and the idempotent referral credit.
func (b *Bot) handleChatMemberUpdated(ctx *th.Context, update telego.Update) error {
	event := update.ChatMember
	if event == nil {
		return nil
	}

	required, err := b.Gate.IsRequired(event.Chat.ID)
	if err != nil {
		log.Printf("Failed to check required channel %d: %v", event.Chat.ID, err)
		return nil
	}
	if !required {
		return nil
	}

	userID := event.NewChatMember.MemberUser().ID
	status := event.NewChatMember.MemberStatus()

	if isJoinedStatus(status) {
		missing, err := b.Gate.VerifyAll(ctx.Context(), userID)
		if err != nil {
			log.Printf("Failed to verify channels for %d: %v", userID, err)
			return nil
		}
		if len(missing) == 0 {
			b.confirmJoined(ctx.Context(), userID)
		}
		return nil
	}

	if status != telego.MemberStatusLeft && status != telego.MemberStatusBanned {
		return nil
	}

	b.Gate.Invalidate(ctx.Context(), event.Chat.ID, userID)
	if err := b.Ledger.ResetOnLeave(userID); err != nil {
		log.Printf("Failed to reset user %d on leave: %v", userID, err)
		return nil
	}
	log.Printf("User %d left required channel %d, balance reset", userID, event.Chat.ID)

	b.notifyLeaveOnce(ctx, userID)
	return nil
}

// notifyLeaveOnce tells the user about the forfeit, at most once per
// day, so leave/rejoin churn does not spam them.
func (b *Bot) notifyLeaveOnce(ctx *th.Context, userID int64) {
	if b.Redis != nil {
		key := fmt.Sprintf("left_notice_%d", userID)
		exists, err := b.Redis.Exists(ctx.Context(), key).Result()
		if err == nil && exists > 0 {
			return
		}
		_ = b.Redis.Set(ctx.Context(), key, "1", 24*time.Hour).Err()
	}

	_, err := b.Instance.SendMessage(ctx.Context(), tu.Message(
		tu.ID(userID),
		"⚠️ You left a required channel, so your credits were reset. Rejoin and verify with /start to keep earning.",
	))
	if err != nil {
		log.Printf("Failed to send leave notice to %d: %v", userID, err)
	}
}
