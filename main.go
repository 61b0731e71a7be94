package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"ichimoku_bot/config"
	"ichimoku_bot/internal/equity"
	"ichimoku_bot/internal/market"
	"ichimoku_bot/internal/scheduler"
	"ichimoku_bot/internal/strategy"
	"ichimoku_bot/internal/telegram"
	"ichimoku_bot/internal/web"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("🚀 Starting Ichimoku Cloud Trading Bot...")

	cfg := config.Load()

	data := market.NewBinanceClient(cfg.BinanceAPIKey, cfg.BinanceSecretKey)
	tracker := equity.NewTracker(filepath.Join(cfg.DataDir, "equity_history.json"))
	strj := strategy.New(cfg, data, tracker)

	if cfg.TelegramToken != "" && cfg.AuthorizedUserID != 0 {
		bot, err := telegram.NewBot(cfg.TelegramToken, cfg.AuthorizedUserID, strj)
		if err != nil {
			log.Printf("⚠️ Telegram bot disabled: %v", err)
		} else {
			strj.SetCallbacks(bot.SendTradeOpen, bot.SendTradeClose)
			go bot.Start()
		}
	}

	sched := scheduler.New(cfg, strj)
	sched.Start()

	server := web.NewServer(cfg, strj, sched, tracker)
	server.Start()

	log.Println("✅ All systems initialized")
	log.Printf("🌐 API: http://localhost:%s", cfg.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("🛑 Shutting down...")
	sched.Stop()
	log.Println("👋 Goodbye!")
}
