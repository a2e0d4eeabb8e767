package bot

import (
	"context"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// chatMemberChecker backs the membership gate with GetChatMember.
// Only member/administrator/creator count as joined; restricted, left,
// kicked and API errors are all "not joined" for this request.
type chatMemberChecker struct {
	bot *telego.Bot
}

func (c *chatMemberChecker) IsMember(ctx context.Context, chatID int64, userID int64) (bool, error) {
	member, err := c.bot.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: tu.ID(chatID),
		UserID: userID,
	})
	if err != nil {
		return false, err
	}
	return isJoinedStatus(member.MemberStatus()), nil
}

func isJoinedStatus(status string) bool {
	switch status {
	case telego.MemberStatusCreator, telego.MemberStatusAdministrator, telego.MemberStatusMember:
		return true
	}
	return false
}
