package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "farm"
)

// Load 读取配置文件并结合 .env 与环境变量返回 Config。
func Load(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.name", "binance")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.order_book_limit", 0)
	v.SetDefault("exchange.time_in_force", "FOK")
	v.SetDefault("exchange.rate_limit", 5)
	v.SetDefault("exchange.rate_burst", 5)
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("accounts.file", "inputs/accounts.txt")
	v.SetDefault("accounts.proxies_file", "inputs/proxies.txt")
	v.SetDefault("accounts.threads", 1)

	v.SetDefault("trading.pairs", []string{"SOL_USDC"})
	v.SetDefault("trading.depth", 3)
	v.SetDefault("trading.trade_delay.min", "1s")
	v.SetDefault("trading.trade_delay.max", "2s")
	v.SetDefault("trading.deal_delay.min", "0s")
	v.SetDefault("trading.deal_delay.max", "0s")
	v.SetDefault("trading.needed_volume", 0)
	v.SetDefault("trading.min_balance_to_leave", 0)
	v.SetDefault("trading.trade_amount.min", 0)
	v.SetDefault("trading.trade_amount.max", 0)
	v.SetDefault("trading.convert_all_to_quote", false)

	v.SetDefault("retry.fok.max_attempts", 10)
	v.SetDefault("retry.fok.min_delay", "5s")
	v.SetDefault("retry.fok.max_delay", "7s")
	v.SetDefault("retry.execution.max_attempts", 9)
	v.SetDefault("retry.execution.min_delay", "2s")
	v.SetDefault("retry.execution.max_delay", "5s")
	v.SetDefault("retry.book.max_attempts", 7)
	v.SetDefault("retry.book.min_delay", "2s")
	v.SetDefault("retry.book.max_delay", "5s")

	v.SetDefault("paper.enabled", false)
	v.SetDefault("paper.balances", map[string]float64{"USDC": 100})
	v.SetDefault("paper.prices", map[string]float64{"SOL": 150})
	v.SetDefault("paper.levels", 20)
	v.SetDefault("paper.spread", 0.0005)
	v.SetDefault("paper.volatility", 0.001)
	v.SetDefault("paper.fok_reject_rate", 0.1)
	v.SetDefault("paper.fee", 0.0008)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "data/volume_farm.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
	v.SetDefault("logging.file", "logs/out.log")
	v.SetDefault("logging.file_level", "debug")

	v.SetDefault("monitor.port", 0)
}

// normalize 统一资产代码大小写：viper 会将 map 的 key 转为小写。
func (c *Config) normalize() {
	c.Trading.Precision = upperKeys(c.Trading.Precision)
	c.Paper.Balances = upperKeys(c.Paper.Balances)
	c.Paper.Prices = upperKeys(c.Paper.Prices)
	for i, pair := range c.Trading.Pairs {
		c.Trading.Pairs[i] = strings.ToUpper(strings.TrimSpace(pair))
	}
}

func upperKeys[V any](in map[string]V) map[string]V {
	if in == nil {
		return nil
	}
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
