package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Node struct {
	DataDir string // Pebble directory; empty runs memory-only
	LogFile string
	Verbose bool
}

type API struct {
	Addr           string
	AllowedOrigins []string
	// TickSize is the currency value of one integer price tick
	TickSize decimal.Decimal
}

type Engine struct {
	EventBuffer int
	// MarketBuyBufferBps is headroom added to a Market buy's reservation on
	// top of the exact sweep cost at admission.
	MarketBuyBufferBps int64
	TradeHistory       int
	// OrderHistory is how many finished orders per instrument stay in memory
	OrderHistory int
}

type Events struct {
	KafkaBrokers []string
	KafkaTopic   string
	RedisAddr    string
	RedisPrefix  string
}

// InstrumentSpec seeds the registry at boot. When Issuer is set and nobody
// holds the instrument yet, the whole tradable float is issued to Issuer.
type InstrumentSpec struct {
	ID           string
	TotalShares  int64
	LockedShares int64
	Issuer       string
}

type Config struct {
	Node        Node
	API         API
	Engine      Engine
	Events      Events
	Instruments []InstrumentSpec
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir: "data/exchange",
			LogFile: "data/exchange.log",
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			TickSize:       decimal.New(1, -2),
		},
		Engine: Engine{
			EventBuffer:  1024,
			TradeHistory: 256,
			OrderHistory: 1024,
		},
		Events: Events{
			KafkaTopic:  "exchange.events",
			RedisPrefix: "price:",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	if v := os.Getenv("VERBOSE"); v != "" {
		cfg.Node.Verbose = v == "true"
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("API_TICK_SIZE"); v != "" {
		tick, err := decimal.NewFromString(v)
		if err != nil || tick.Sign() <= 0 {
			return cfg, fmt.Errorf("API_TICK_SIZE: invalid tick size %q", v)
		}
		cfg.API.TickSize = tick
	}

	if v := os.Getenv("ENGINE_EVENT_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("ENGINE_EVENT_BUFFER: invalid value %q", v)
		}
		cfg.Engine.EventBuffer = n
	}
	if v := os.Getenv("ENGINE_MARKET_BUY_BUFFER_BPS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("ENGINE_MARKET_BUY_BUFFER_BPS: invalid value %q", v)
		}
		cfg.Engine.MarketBuyBufferBps = n
	}
	if v := os.Getenv("ENGINE_TRADE_HISTORY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("ENGINE_TRADE_HISTORY: invalid value %q", v)
		}
		cfg.Engine.TradeHistory = n
	}
	if v := os.Getenv("ENGINE_ORDER_HISTORY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("ENGINE_ORDER_HISTORY: invalid value %q", v)
		}
		cfg.Engine.OrderHistory = n
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = splitList(v)
	}
	cfg.Events.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Events.KafkaTopic)
	cfg.Events.RedisAddr = getEnv("REDIS_ADDR", cfg.Events.RedisAddr)
	cfg.Events.RedisPrefix = getEnv("REDIS_PRICE_PREFIX", cfg.Events.RedisPrefix)

	if v := os.Getenv("INSTRUMENTS"); v != "" {
		specs, err := ParseInstruments(v)
		if err != nil {
			return cfg, err
		}
		cfg.Instruments = specs
	}
	return cfg, nil
}

// ParseInstruments parses "ID:total[:locked[:issuer]],..."
// e.g. "ACME:1000000:200000:treasury,GLOBX:500000"
func ParseInstruments(v string) ([]InstrumentSpec, error) {
	var specs []InstrumentSpec
	for _, item := range splitList(v) {
		parts := strings.Split(item, ":")
		if len(parts) < 2 || len(parts) > 4 || parts[0] == "" {
			return nil, fmt.Errorf("INSTRUMENTS: malformed entry %q (want ID:total[:locked[:issuer]])", item)
		}
		spec := InstrumentSpec{ID: parts[0]}
		var err error
		if spec.TotalShares, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
			return nil, fmt.Errorf("INSTRUMENTS: %s total shares: %w", spec.ID, err)
		}
		if len(parts) >= 3 && parts[2] != "" {
			if spec.LockedShares, err = strconv.ParseInt(parts[2], 10, 64); err != nil {
				return nil, fmt.Errorf("INSTRUMENTS: %s locked shares: %w", spec.ID, err)
			}
		}
		if len(parts) == 4 {
			if spec.Issuer = parts[3]; spec.Issuer == "" {
				return nil, fmt.Errorf("INSTRUMENTS: %s issuer is empty", spec.ID)
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
