package main

import (
	"log"

	"upicash-bot/internal/bot"
	"upicash-bot/internal/config"
	"upicash-bot/internal/database"
	"upicash-bot/internal/settings"
)

func main() {
	cfg := config.LoadConfig()
	if cfg.BotToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is not set")
	}
	if cfg.AdminID == 0 {
		log.Fatal("ADMIN_TELEGRAM_ID is not set")
	}

	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}

	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Could not connect to redis: %v", err)
	}

	err = settings.NewStore(db).Seed(map[string]int64{
		settings.KeyReferralBonus: cfg.ReferralBonus,
		settings.KeyRefereeBonus:  cfg.RefereeBonus,
		settings.KeyMinWithdraw:   cfg.MinWithdraw,
	})
	if err != nil {
		log.Fatalf("Could not seed settings: %v", err)
	}

	b, err := bot.NewBot(cfg.BotToken, db, rdb, cfg.AdminID, cfg.BotUsername)
	if err != nil {
		log.Fatalf("Could not create bot: %v", err)
	}

	log.Println("Service started successfully")
	b.Start()
}
