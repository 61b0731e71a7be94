package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Long-only allow-list, base coins without the quote suffix
	LongCoins []string

	// Capital
	InitialPortfolioValue float64
	portfolioValue        float64 // can be reduced for risk management

	// Position limits and leverage
	MaxLongPositions  int
	MaxShortPositions int
	longLeverage      float64
	ShortLeverage     float64
	LongAllocation    float64 // share of available cash reserved for longs

	// Ichimoku periods
	TenkanPeriod int
	KijunPeriod  int
	SenkouPeriod int
	ChikouPeriod int

	// Trading settings
	Timeframe          string
	MinVolumeThreshold float64
	ShortSymbolLimit   int

	// Scheduler cadence
	TickInterval time.Duration
	ScanInterval time.Duration
	Warmup       time.Duration

	// API settings
	BinanceAPIKey    string
	BinanceSecretKey string
	TelegramToken    string
	AuthorizedUserID int64
	Port             string
	DataDir          string

	mu sync.RWMutex
}

// Default returns the built-in configuration, before any env overrides.
func Default() *Config {
	return &Config{
		LongCoins:             []string{"HYPE", "BNB", "SOL", "LINK"},
		InitialPortfolioValue: 10000.0,
		portfolioValue:        10000.0,
		MaxLongPositions:      4,
		MaxShortPositions:     4,
		longLeverage:          2.0,
		ShortLeverage:         1.0,
		LongAllocation:        0.5,
		TenkanPeriod:          9,
		KijunPeriod:           26,
		SenkouPeriod:          52,
		ChikouPeriod:          26,
		Timeframe:             "1h",
		MinVolumeThreshold:    1000000.0,
		ShortSymbolLimit:      50,
		TickInterval:          60 * time.Second,
		ScanInterval:          300 * time.Second,
		Warmup:                time.Hour,
		BinanceAPIKey:         os.Getenv("BINANCE_API_KEY"),
		BinanceSecretKey:      os.Getenv("BINANCE_SECRET_KEY"),
		TelegramToken:         os.Getenv("TELEGRAM_BOT_TOKEN"),
		Port:                  "8000",
		DataDir:               ".",
	}
}

// Load builds the configuration from defaults plus .env / environment overrides.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg := Default()

	if v := os.Getenv("LONG_COINS"); v != "" {
		coins := strings.Split(v, ",")
		cfg.LongCoins = cfg.LongCoins[:0]
		for _, c := range coins {
			if c = strings.TrimSpace(strings.ToUpper(c)); c != "" {
				cfg.LongCoins = append(cfg.LongCoins, c)
			}
		}
	}
	if v := envFloat("PORTFOLIO_VALUE"); v > 0 {
		cfg.InitialPortfolioValue = v
		cfg.portfolioValue = v
	}
	if v := envInt("MAX_LONG_POSITIONS"); v > 0 {
		cfg.MaxLongPositions = v
	}
	if v := envInt("MAX_SHORT_POSITIONS"); v > 0 {
		cfg.MaxShortPositions = v
	}
	if v := envFloat("LONG_LEVERAGE"); v > 0 {
		cfg.longLeverage = v
	}
	if v := envFloat("SHORT_LEVERAGE"); v > 0 {
		cfg.ShortLeverage = v
	}
	if v := envFloat("MIN_VOLUME_THRESHOLD"); v > 0 {
		cfg.MinVolumeThreshold = v
	}
	if v := os.Getenv("TIMEFRAME"); v != "" {
		cfg.Timeframe = v
	}
	if v := envInt("SCAN_INTERVAL_SEC"); v > 0 {
		cfg.ScanInterval = time.Duration(v) * time.Second
	}
	if v := envInt("WARMUP_MINUTES"); v > 0 {
		cfg.Warmup = time.Duration(v) * time.Minute
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("AUTHORIZED_USER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.AuthorizedUserID = id
		}
	}

	return cfg
}

// TimeframeDuration returns the candle period as a duration. Only the
// intervals the strategy actually trades on are mapped.
func (c *Config) TimeframeDuration() time.Duration {
	switch c.Timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// LongSymbols returns the allow-list as full trading pairs.
func (c *Config) LongSymbols() []string {
	symbols := make([]string, len(c.LongCoins))
	for i, coin := range c.LongCoins {
		symbols[i] = coin + "USDT"
	}
	return symbols
}

// IsLongCoin reports whether symbol's base coin is on the long-only list.
func (c *Config) IsLongCoin(symbol string) bool {
	base := strings.TrimSuffix(symbol, "USDT")
	for _, coin := range c.LongCoins {
		if coin == base {
			return true
		}
	}
	return false
}

func (c *Config) PortfolioValue() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.portfolioValue
}

// UpdatePortfolioValue reduces the working capital for risk management.
// Raising it is rejected: added capital would break the cash derivation
// against recorded margin and P&L.
func (c *Config) UpdatePortfolioValue(value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value <= 0 || value > c.portfolioValue {
		return fmt.Errorf("portfolio value must be positive and at most the current %.2f", c.portfolioValue)
	}
	c.portfolioValue = value
	log.Printf("⚙️ Portfolio value updated to $%.2f", value)
	return nil
}

func (c *Config) LongLeverage() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.longLeverage
}

// UpdateLongLeverage sets the long-side leverage within the allowed range.
func (c *Config) UpdateLongLeverage(leverage float64) error {
	if leverage < 1.0 || leverage > 10.0 {
		return fmt.Errorf("long leverage must be between 1.0 and 10.0, got %.1f", leverage)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.longLeverage = leverage
	log.Printf("⚙️ Long leverage updated to %.1fx", leverage)
	return nil
}

func envFloat(key string) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

func envInt(key string) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return 0
}
