package telegram

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"ichimoku_bot/internal/models"
	"ichimoku_bot/internal/strategy"
)

// Bot pushes trade notifications and answers status queries for a single
// authorized user.
type Bot struct {
	bot          *tele.Bot
	strategy     *strategy.Strategy
	authorizedID int64
	startTime    time.Time
}

func NewBot(token string, authorizedID int64, strj *strategy.Strategy) (*Bot, error) {
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}

	bot := &Bot{
		bot:          b,
		strategy:     strj,
		authorizedID: authorizedID,
		startTime:    time.Now(),
	}
	bot.setupHandlers()
	return bot, nil
}

func (b *Bot) Start() {
	log.Println("📱 Telegram bot started")
	b.bot.Start()
}

func (b *Bot) setupHandlers() {
	b.bot.Use(func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if c.Sender().ID != b.authorizedID {
				return c.Send("⛔ Unauthorized")
			}
			return next(c)
		}
	})

	b.bot.Handle("/status", func(c tele.Context) error {
		uptime := time.Since(b.startTime).Round(time.Minute)
		warmup := "complete"
		if b.strategy.InWarmup() {
			warmup = "in progress"
		}
		return c.Send(fmt.Sprintf("🤖 Bot running\nUptime: %s\nWarm-up: %s\nOpen positions: %d",
			uptime, warmup, len(b.strategy.OpenSymbols())))
	})

	b.bot.Handle("/portfolio", func(c tele.Context) error {
		summary := b.strategy.GetPortfolioSummary(context.Background())
		msg := fmt.Sprintf("💰 Portfolio\nTotal: $%.2f\nCash: $%.2f\nRealized P&L: $%+.2f\nUnrealized P&L: $%+.2f\nDrawdown: %.2f%%\nOpen: %d | Trades: %d",
			summary.TotalValue, summary.AvailableCash, summary.RealizedPnL,
			summary.UnrealizedPnL, summary.Drawdown, summary.OpenPositions, summary.TotalTrades)
		return c.Send(msg)
	})

	b.bot.Handle("/positions", func(c tele.Context) error {
		positions := b.strategy.GetPositions(context.Background())
		if len(positions) == 0 {
			return c.Send("📭 No open positions")
		}
		var sb strings.Builder
		sb.WriteString("📊 Open positions:\n")
		for _, p := range positions {
			fmt.Fprintf(&sb, "%s %s | entry $%.4f | P&L $%+.2f (%+.2f%%)\n",
				sideEmoji(p.Side), p.Symbol, p.EntryPrice, p.PnL, p.PnLPercentage)
		}
		return c.Send(sb.String())
	})
}

// SendTradeOpen notifies the user about a newly opened position.
func (b *Bot) SendTradeOpen(pos *models.Position) {
	msg := fmt.Sprintf("%s Opened %s %s\nEntry: $%.4f\nQty: %.6f\nLeverage: %gx",
		sideEmoji(pos.Side), strings.ToUpper(string(pos.Side)), pos.Symbol,
		pos.EntryPrice, pos.Quantity, pos.Leverage)
	b.send(msg)
}

// SendTradeClose notifies the user about a closed position.
func (b *Bot) SendTradeClose(pos *models.Position) {
	msg := fmt.Sprintf("🎯 Closed %s %s\n$%.4f → $%.4f\nP&L: $%+.2f (%+.2f%%)",
		strings.ToUpper(string(pos.Side)), pos.Symbol,
		pos.EntryPrice, pos.ExitPrice, pos.PnL, pos.PnLPercentage)
	b.send(msg)
}

func (b *Bot) send(msg string) {
	user := &tele.User{ID: b.authorizedID}
	if _, err := b.bot.Send(user, msg); err != nil {
		log.Printf("⚠️ Failed to send Telegram message: %v", err)
	}
}

func sideEmoji(side models.Side) string {
	if side == models.SideLong {
		return "📈"
	}
	return "📉"
}
