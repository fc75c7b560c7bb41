package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Accounts AccountsConfig `mapstructure:"accounts"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Retry    RetryPolicies  `mapstructure:"retry"`
	Paper    PaperConfig    `mapstructure:"paper"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name           string      `mapstructure:"name"`
	UseSandbox     bool        `mapstructure:"use_sandbox"`
	OrderBookLimit int         `mapstructure:"order_book_limit"`
	TimeInForce    string      `mapstructure:"time_in_force"`
	RateLimit      float64     `mapstructure:"rate_limit"`
	RateBurst      int         `mapstructure:"rate_burst"`
	Retry          RetryConfig `mapstructure:"retry"`
}

// AccountsConfig 描述账户与代理文件以及并发数。
type AccountsConfig struct {
	File        string `mapstructure:"file"`
	ProxiesFile string `mapstructure:"proxies_file"`
	Threads     int    `mapstructure:"threads"`
}

// DelayRange 为 [Min, Max] 随机等待区间，Max<=0 表示不等待。
type DelayRange struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// AmountRange 为单笔交易金额区间（计价币单位），[0,0] 表示全仓。
type AmountRange struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// TradingConfig 控制刷量会话。
type TradingConfig struct {
	Pairs             []string         `mapstructure:"pairs"`
	Depth             int              `mapstructure:"depth"`
	TradeDelay        DelayRange       `mapstructure:"trade_delay"`
	DealDelay         DelayRange       `mapstructure:"deal_delay"`
	NeededVolume      float64          `mapstructure:"needed_volume"`
	MinBalanceToLeave float64          `mapstructure:"min_balance_to_leave"`
	TradeAmount       AmountRange      `mapstructure:"trade_amount"`
	ConvertAllToQuote bool             `mapstructure:"convert_all_to_quote"`
	Precision         map[string]int32 `mapstructure:"precision"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// RetryPolicies 为各调用点的重试参数。
type RetryPolicies struct {
	Fok       RetryConfig `mapstructure:"fok"`
	Execution RetryConfig `mapstructure:"execution"`
	Book      RetryConfig `mapstructure:"book"`
}

// PaperConfig 控制本地模拟交易所。
type PaperConfig struct {
	Enabled       bool               `mapstructure:"enabled"`
	Balances      map[string]float64 `mapstructure:"balances"`
	Prices        map[string]float64 `mapstructure:"prices"`
	Levels        int                `mapstructure:"levels"`
	Spread        float64            `mapstructure:"spread"`
	Volatility    float64            `mapstructure:"volatility"`
	FokRejectRate float64            `mapstructure:"fok_reject_rate"`
	Fee           float64            `mapstructure:"fee"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
	File             string   `mapstructure:"file"`
	FileLevel        string   `mapstructure:"file_level"`
}

// MonitorConfig 控制事件查询接口，Port<=0 表示关闭。
type MonitorConfig struct {
	Port int `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if !c.Paper.Enabled {
		switch strings.ToLower(c.Exchange.Name) {
		case "binance", "hyperliquid":
		default:
			err = multierr.Append(err, fmt.Errorf("exchange.name 不支持 %q", c.Exchange.Name))
		}
	}
	if c.Exchange.OrderBookLimit < 0 {
		err = multierr.Append(err, errors.New("exchange.order_book_limit 不能为负"))
	}
	if c.Exchange.RateLimit <= 0 {
		err = multierr.Append(err, errors.New("exchange.rate_limit 必须大于0"))
	}
	if c.Exchange.RateBurst <= 0 {
		err = multierr.Append(err, errors.New("exchange.rate_burst 必须大于0"))
	}
	err = multierr.Append(err, c.Exchange.Retry.validate("exchange.retry"))
	err = multierr.Append(err, c.Retry.Fok.validate("retry.fok"))
	err = multierr.Append(err, c.Retry.Execution.validate("retry.execution"))
	err = multierr.Append(err, c.Retry.Book.validate("retry.book"))

	if c.Accounts.File == "" {
		err = multierr.Append(err, errors.New("accounts.file 不能为空"))
	}
	if c.Accounts.Threads <= 0 {
		err = multierr.Append(err, errors.New("accounts.threads 必须大于0"))
	}

	if len(c.Trading.Pairs) == 0 {
		err = multierr.Append(err, errors.New("trading.pairs 至少包含一个交易对"))
	}
	for _, pair := range c.Trading.Pairs {
		if !strings.Contains(pair, "_") {
			err = multierr.Append(err, fmt.Errorf("trading.pairs 中 %q 应为 BASE_QUOTE", pair))
		}
	}
	if c.Trading.Depth < 1 {
		err = multierr.Append(err, errors.New("trading.depth 必须大于等于1"))
	}
	err = multierr.Append(err, c.Trading.TradeDelay.validate("trading.trade_delay"))
	err = multierr.Append(err, c.Trading.DealDelay.validate("trading.deal_delay"))
	if c.Trading.NeededVolume < 0 {
		err = multierr.Append(err, errors.New("trading.needed_volume 不能为负"))
	}
	if c.Trading.MinBalanceToLeave < 0 {
		err = multierr.Append(err, errors.New("trading.min_balance_to_leave 不能为负"))
	}
	if c.Trading.TradeAmount.Min < 0 || c.Trading.TradeAmount.Max < 0 {
		err = multierr.Append(err, errors.New("trading.trade_amount 不能为负"))
	}
	if c.Trading.TradeAmount.Max > 0 && c.Trading.TradeAmount.Min > c.Trading.TradeAmount.Max {
		err = multierr.Append(err, errors.New("trading.trade_amount.min 不能大于 max"))
	}
	for asset, decimals := range c.Trading.Precision {
		if decimals < 0 {
			err = multierr.Append(err, fmt.Errorf("trading.precision.%s 不能为负", asset))
		}
	}

	if c.Paper.Enabled {
		if c.Paper.Levels < 1 {
			err = multierr.Append(err, errors.New("paper.levels 必须大于0"))
		}
		if c.Paper.Spread <= 0 || c.Paper.Spread >= 0.5 {
			err = multierr.Append(err, errors.New("paper.spread 应位于(0,0.5)"))
		}
		if c.Paper.FokRejectRate < 0 || c.Paper.FokRejectRate >= 1 {
			err = multierr.Append(err, errors.New("paper.fok_reject_rate 应位于[0,1)"))
		}
		if c.Paper.Fee < 0 || c.Paper.Fee > 0.1 {
			err = multierr.Append(err, errors.New("paper.fee 应位于[0,0.1]"))
		}
	}

	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" && !c.Database.InMemory {
			err = multierr.Append(err, errors.New("database.path 不能为空"))
		}
	case "postgres":
		if c.Database.DSN == "" {
			err = multierr.Append(err, errors.New("postgres 需要配置 database.dsn"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("database.driver 不支持 %q", c.Database.Driver))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func (r RetryConfig) validate(key string) error {
	var err error
	if r.MaxAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.max_attempts 必须大于0", key))
	}
	if r.MinDelay < 0 || r.MaxDelay < 0 {
		err = multierr.Append(err, fmt.Errorf("%s.delay 不能为负", key))
	}
	if r.MinDelay > r.MaxDelay {
		err = multierr.Append(err, fmt.Errorf("%s.min_delay 不能大于 max_delay", key))
	}
	return err
}

func (d DelayRange) validate(key string) error {
	if d.Min < 0 || d.Max < 0 {
		return fmt.Errorf("%s 不能为负", key)
	}
	if d.Max > 0 && d.Min > d.Max {
		return fmt.Errorf("%s.min 不能大于 max", key)
	}
	return nil
}
