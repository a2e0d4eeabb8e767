package membership

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"upicash-bot/internal/models"
)

// Checker answers whether a user is currently a member of a chat. The
// Telegram-backed implementation lives in internal/bot; tests supply
// fakes.
type Checker interface {
	IsMember(ctx context.Context, chatID int64, userID int64) (bool, error)
}

const (
	defaultCheckTimeout = 5 * time.Second
	defaultCacheTTL     = 3 * time.Minute
)

// Gate evaluates the "joined required channels" precondition. Checks
// are fail-closed: an error or timeout from the checker counts as not
// joined for this request. Positive results are cached in Redis for a
// short TTL so the passive per-message recheck does not hammer the
// Telegram API.
type Gate struct {
	DB           *gorm.DB
	Redis        *redis.Client
	Checker      Checker
	CheckTimeout time.Duration
	CacheTTL     time.Duration
}

func NewGate(db *gorm.DB, rdb *redis.Client, checker Checker) *Gate {
	return &Gate{
		DB:           db,
		Redis:        rdb,
		Checker:      checker,
		CheckTimeout: defaultCheckTimeout,
		CacheTTL:     defaultCacheTTL,
	}
}

func (g *Gate) RequiredChannels() ([]models.RequiredChannel, error) {
	var channels []models.RequiredChannel
	if err := g.DB.Order("id asc").Find(&channels).Error; err != nil {
		return nil, err
	}
	return channels, nil
}

func (g *Gate) AddChannel(chatID int64, title string) error {
	return g.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title"}),
	}).Create(&models.RequiredChannel{ChatID: chatID, Title: title}).Error
}

func (g *Gate) RemoveChannel(chatID int64) error {
	return g.DB.Where("chat_id = ?", chatID).Delete(&models.RequiredChannel{}).Error
}

func (g *Gate) IsRequired(chatID int64) (bool, error) {
	var count int64
	err := g.DB.Model(&models.RequiredChannel{}).Where("chat_id = ?", chatID).Count(&count).Error
	return count > 0, err
}

// VerifyAll returns the required channels the user does not currently
// satisfy. An empty result means fully verified; the caller is then
// expected to mark the user joined and attempt referral crediting.
func (g *Gate) VerifyAll(ctx context.Context, userID int64) ([]models.RequiredChannel, error) {
	channels, err := g.RequiredChannels()
	if err != nil {
		return nil, err
	}

	var missing []models.RequiredChannel
	for _, channel := range channels {
		if g.cached(ctx, channel.ChatID, userID) {
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, g.CheckTimeout)
		member, err := g.Checker.IsMember(checkCtx, channel.ChatID, userID)
		cancel()
		if err != nil {
			log.Printf("Membership check failed for user %d in chat %d: %v", userID, channel.ChatID, err)
			member = false
		}

		if member {
			g.cache(ctx, channel.ChatID, userID)
		} else {
			missing = append(missing, channel)
		}
	}
	return missing, nil
}

// Invalidate drops the cached positive result for (chat, user), used
// when a chat-member push reports a leave before the TTL expires.
func (g *Gate) Invalidate(ctx context.Context, chatID int64, userID int64) {
	if g.Redis == nil {
		return
	}
	if err := g.Redis.Del(ctx, memberKey(chatID, userID)).Err(); err != nil {
		log.Printf("Failed to invalidate membership cache for %d/%d: %v", chatID, userID, err)
	}
}

func (g *Gate) cached(ctx context.Context, chatID int64, userID int64) bool {
	if g.Redis == nil {
		return false
	}
	exists, err := g.Redis.Exists(ctx, memberKey(chatID, userID)).Result()
	return err == nil && exists > 0
}

func (g *Gate) cache(ctx context.Context, chatID int64, userID int64) {
	if g.Redis == nil {
		return
	}
	if err := g.Redis.Set(ctx, memberKey(chatID, userID), "1", g.CacheTTL).Err(); err != nil {
		log.Printf("Failed to cache membership for %d/%d: %v", chatID, userID, err)
	}
}

func memberKey(chatID int64, userID int64) string {
	return fmt.Sprintf("member_ok_%d_%d", chatID, userID)
}
