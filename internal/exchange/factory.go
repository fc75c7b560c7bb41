package exchange

import (
	"fmt"
	"net/url"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"volume-farm/internal/config"
)

// Credentials 为单个账户的接入凭证与代理。
type Credentials struct {
	APIKey    string
	APISecret string
	// Proxy 为空表示直连。
	Proxy string
}

// New 按配置构造交易所客户端，每个账户独立实例。
func New(cfg config.ExchangeConfig, creds Credentials, logger *zap.Logger) (*Client, error) {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if creds.Proxy != "" {
		key, err := proxyKey(creds.Proxy)
		if err != nil {
			return nil, err
		}
		userConfig[key] = creds.Proxy
	}

	switch strings.ToLower(cfg.Name) {
	case "binance":
		if creds.APIKey != "" {
			userConfig["apiKey"] = creds.APIKey
		}
		if creds.APISecret != "" {
			userConfig["secret"] = creds.APISecret
		}
		userConfig["options"] = map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "spot",
		}
		ex := ccxt.NewBinance(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		return newClient(cfg, ex, func() error {
			_, err := ex.LoadMarkets()
			return err
		}, logger), nil

	case "hyperliquid":
		if creds.APIKey != "" {
			userConfig["walletAddress"] = creds.APIKey
		}
		if creds.APISecret != "" {
			userConfig["privateKey"] = creds.APISecret
		}
		ex := ccxt.NewHyperliquid(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		return newClient(cfg, ex, func() error {
			_, err := ex.LoadMarkets()
			return err
		}, logger), nil

	default:
		return nil, fmt.Errorf("exchange: %q: %w", cfg.Name, ErrUnsupportedExchange)
	}
}

// proxyKey 按代理协议选择 ccxt 的代理配置项。
func proxyKey(proxy string) (string, error) {
	u, err := url.Parse(proxy)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("exchange: 代理地址无效 %q", proxy)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		return "httpProxy", nil
	case "https":
		return "httpsProxy", nil
	case "socks5", "socks5h", "socks4":
		return "socksProxy", nil
	default:
		return "", fmt.Errorf("exchange: 不支持的代理协议 %q", u.Scheme)
	}
}

// timeInForceFor 将 FOK 映射到交易所支持的取值。Hyperliquid 没有 FOK，退化为 Ioc。
func timeInForceFor(exchangeName, tif string) string {
	if tif == "" {
		tif = "FOK"
	}
	if strings.EqualFold(exchangeName, "hyperliquid") && strings.EqualFold(tif, "FOK") {
		return "Ioc"
	}
	return strings.ToUpper(tif)
}
