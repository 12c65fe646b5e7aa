package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"prop_bot/internal/helper"
	"prop_bot/internal/models"
	"prop_bot/internal/traderr"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
	bridgeTokenENV    = "BRIDGE_TOKEN"
)

// Mode определяет набор пар таймфреймов: SWING = H4/D1, DAY = H1/H4.
type Mode string

const (
	ModeSwing Mode = "SWING"
	ModeDay   Mode = "DAY"
)

// TFPair — пара entry/trend таймфреймов, по которой сканирует детектор.
type TFPair struct {
	Entry models.Timeframe `yaml:"entry"`
	Trend models.Timeframe `yaml:"trend"`
}

func (p TFPair) Label() string { return string(p.Entry) + "/" + string(p.Trend) }

// Config ...
type Config struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	DB string `yaml:"db_dsn"`

	Bridge struct {
		URL     string        `yaml:"url"`
		WSURL   string        `yaml:"ws_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"bridge"`
	BridgeToken string // только из env, в yaml не кладём

	Health struct {
		Addr string `yaml:"addr"`
	} `yaml:"health"`

	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"tracing"`

	// Общие настройки бота
	Magic        int64         `yaml:"magic"`         // скоуп позиций: чужие тикеты не трогаем
	Symbols      []string      `yaml:"symbols"`       // торгуемые символы
	Mode         Mode          `yaml:"mode"`          // SWING | DAY
	PollInterval time.Duration `yaml:"poll_interval"` // период скана баров/аккаунта
	Timezone     string        `yaml:"timezone"`      // зона торгового сервера
	DryRun       bool          `yaml:"dry_run"`       // логируем ордера вместо отправки

	Strategy   StrategyConfig   `yaml:"strategy"`
	Risk       RiskConfig       `yaml:"risk"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	News       NewsConfig       `yaml:"news"`

	loc *time.Location
}

type StrategyConfig struct {
	LiquidityLookback int     `yaml:"liquidity_lookback"` // окно поиска уровня ликвидности
	SwingLookback     int     `yaml:"swing_lookback"`     // окно структурного таргета для TP
	SMAPeriod         int     `yaml:"sma_period"`
	WickRatio         float64 `yaml:"wick_ratio"`          // мин. доля фитиля в range для sweep
	BreakoutBodyRatio float64 `yaml:"breakout_body_ratio"` // мин. доля тела для breakout
	LimitWickRatio    float64 `yaml:"limit_wick_ratio"`    // фитиль больше -> входим лимиткой
	RetraceFrac       float64 `yaml:"retrace_frac"`        // уровень лимитки: доля отката к фитилю
	RSIPeriod         int     `yaml:"rsi_period"`
	RSIBuyMax         float64 `yaml:"rsi_buy_max"`  // BUY только если RSI <= порога
	RSISellMin        float64 `yaml:"rsi_sell_min"` // SELL только если RSI >= порога
	SLBufferPips      float64 `yaml:"sl_buffer_pips"`
	MaxRR             float64 `yaml:"max_rr"`      // потолок тейка в R
	FallbackRR        float64 `yaml:"fallback_rr"` // если структурный таргет не годится
	InfiniteTP        bool    `yaml:"infinite_tp"` // true = без тейка, ведём только стопом
	BarsFetch         int     `yaml:"bars_fetch"`  // сколько баров тянуть за запрос
}

type RiskConfig struct {
	RiskPct         float64 `yaml:"risk_pct"`          // % equity под стопом на сделку
	DailyLimitPct   float64 `yaml:"daily_limit_pct"`   // дневная просадка от начала дня
	OverallLimitPct float64 `yaml:"overall_limit_pct"` // общая просадка от high-water mark
	FlattenOnBreach bool    `yaml:"flatten_on_breach"` // закрывать всё при срабатывании лимита
	MaxSpreadPoints float64 `yaml:"max_spread_points"`
	MinROI          float64 `yaml:"min_roi"` // мин. профит на марже в точке TP
	StateDir        string  `yaml:"state_dir"`
}

type LifecycleConfig struct {
	BreakevenPips      float64       `yaml:"breakeven_pips"`       // ход в плюс для перевода в БУ
	BreakevenCushion   float64       `yaml:"breakeven_cushion"`    // доля хода, на которую SL заходит за вход
	TrailingPips       float64       `yaml:"trailing_pips"`        // ход в плюс для включения трейла
	TrailingOffsetPips float64       `yaml:"trailing_offset_pips"` // дистанция трейла от цены
	TrailingStepPips   float64       `yaml:"trailing_step_pips"`   // мин. улучшение SL, мельче не дёргаем сервер
	MinDuration        time.Duration `yaml:"min_duration"`         // раньше не закрываем (кроме force)
	MaxHold            time.Duration `yaml:"max_hold"`             // потолок жизни позиции
	FridayExitHour     int           `yaml:"friday_exit_hour"`     // закрытие перед выходными, час сервера
	PendingExpiry      time.Duration `yaml:"pending_expiry"`       // снятие невыполненной лимитки
	RefreshInterval    time.Duration `yaml:"refresh_interval"`     // сверка позиций со шлюзом
}

type SupervisorConfig struct {
	RetryBase          time.Duration `yaml:"retry_base"`
	RetryCap           time.Duration `yaml:"retry_cap"`
	RetryAttempts      int           `yaml:"retry_attempts"`
	ProtectiveAttempts int           `yaml:"protective_attempts"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	RecoveryThreshold  int           `yaml:"recovery_threshold"` // подряд успешных heartbeat до CONNECTED
}

type NewsConfig struct {
	Enabled    bool          `yaml:"enabled"`
	URL        string        `yaml:"url"`
	Currencies []string      `yaml:"currencies"`
	Impact     string        `yaml:"impact"`
	Window     time.Duration `yaml:"window"`  // блокируем вход за/после события
	Refresh    time.Duration `yaml:"refresh"` // период перечитывания календаря
	Retry      time.Duration `yaml:"retry"`   // повтор после неудачной загрузки
}

func NewConfig() (*Config, error) {
	// .env опционален: в контейнере всё приходит через окружение
	_ = godotenv.Load()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := yaml.NewDecoder(file)
	config := Config{
		Magic:        int64(intFromEnv("MAGIC", 777001)),
		Mode:         Mode(getenvDefault("MODE", "SWING")),
		PollInterval: durationFromEnv("POLL_INTERVAL", "10s"),
		Timezone:     getenvDefault("SERVER_TIMEZONE", "UTC"),

		Strategy: StrategyConfig{
			LiquidityLookback: 20,
			SwingLookback:     10,
			SMAPeriod:         50,
			WickRatio:         0.35,
			BreakoutBodyRatio: 0.50,
			LimitWickRatio:    0.60,
			RetraceFrac:       0.5,
			RSIPeriod:         14,
			RSIBuyMax:         60,
			RSISellMin:        40,
			SLBufferPips:      5,
			MaxRR:             5.0,
			FallbackRR:        2.0,
			BarsFetch:         100,
		},
		Risk: RiskConfig{
			RiskPct:         floatFromEnv("RISK_PCT", 1.0),
			DailyLimitPct:   floatFromEnv("DAILY_LIMIT_PCT", 5.0),
			OverallLimitPct: floatFromEnv("OVERALL_LIMIT_PCT", 10.0),
			FlattenOnBreach: true,
			MaxSpreadPoints: 40,
			MinROI:          0.30,
			StateDir:        getenvDefault("RISK_STATE_DIR", "."),
		},
		Lifecycle: LifecycleConfig{
			BreakevenPips:      20,
			BreakevenCushion:   0.10,
			TrailingPips:       50,
			TrailingOffsetPips: 25,
			TrailingStepPips:   5,
			MinDuration:        durationFromEnv("MIN_TRADE_DURATION", "4m"),
			MaxHold:            durationFromEnv("MAX_HOLD", "72h"),
			FridayExitHour:     21,
			PendingExpiry:      durationFromEnv("PENDING_EXPIRY", "4h"),
			RefreshInterval:    durationFromEnv("POSITIONS_REFRESH", "30s"),
		},
		Supervisor: SupervisorConfig{
			RetryBase:          durationFromEnv("RETRY_BASE", "1s"),
			RetryCap:           durationFromEnv("RETRY_CAP", "30s"),
			RetryAttempts:      intFromEnv("RETRY_ATTEMPTS", 5),
			ProtectiveAttempts: intFromEnv("PROTECTIVE_ATTEMPTS", 8),
			HeartbeatInterval:  durationFromEnv("HEARTBEAT_INTERVAL", "15s"),
			RecoveryThreshold:  intFromEnv("RECOVERY_THRESHOLD", 3),
		},
		News: NewsConfig{
			Enabled:    boolFromEnv("NEWS_ENABLED", true),
			URL:        "https://nfs.faireconomy.media/ff_calendar_thisweek.json",
			Currencies: []string{"USD"},
			Impact:     "High",
			Window:     30 * time.Minute,
			Refresh:    time.Hour,
			Retry:      5 * time.Minute,
		},
	}
	config.Bridge.URL = getenvDefault("BRIDGE_URL", "http://127.0.0.1:8787")
	config.Bridge.WSURL = getenvDefault("BRIDGE_WS_URL", "ws://127.0.0.1:8787/api/v1/stream")
	config.Bridge.Timeout = durationFromEnv("BRIDGE_TIMEOUT", "10s")
	config.Health.Addr = getenvDefault("HEALTH_ADDR", ":8080")

	err = decoder.Decode(&config)
	if err != nil {
		log.Fatalf("Failed to decode config file: %v", err)
	}

	token := os.Getenv(tokenTelegramENV)
	if token != "" {
		config.Telegram.Token = token
	}

	dsn := os.Getenv(databaseDSN)
	if dsn != "" {
		config.DB = dsn
	}

	config.BridgeToken = os.Getenv(bridgeTokenENV)

	if err := config.normalize(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// normalize подчищает значения после декода: регистры, зона сервера.
func (c *Config) normalize() error {
	c.Mode = Mode(strings.ToUpper(string(c.Mode)))

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return &traderr.ConfigError{Field: "timezone", Msg: fmt.Sprintf("unknown location %q", c.Timezone)}
	}
	c.loc = loc

	for i, s := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return nil
}

// Location — зона торгового сервера (валидируется в normalize).
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Pairs — активные пары таймфреймов по режиму.
func (c *Config) Pairs() []TFPair {
	if c.Mode == ModeDay {
		return []TFPair{{Entry: helper.NormTF("H1"), Trend: helper.NormTF("H4")}}
	}
	return []TFPair{{Entry: helper.NormTF("H4"), Trend: helper.NormTF("D1")}}
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
