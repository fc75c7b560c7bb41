package domain

import (
	"fmt"
	"strings"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) String() string {
	return string(s)
}

// Pair 为 BASE_QUOTE 形式的交易对，Quote 固定为稳定币。
type Pair struct {
	Base  string
	Quote string
}

// ParsePair 解析 "SOL_USDC" 形式的交易对。
func ParsePair(symbol string) (Pair, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	base, quote, ok := strings.Cut(s, "_")
	if !ok || base == "" || quote == "" || strings.Contains(quote, "_") {
		return Pair{}, fmt.Errorf("domain: 无效的交易对 %q，应为 BASE_QUOTE", symbol)
	}
	return Pair{Base: base, Quote: quote}, nil
}

// ParsePairs 批量解析交易对，任一失败即返回错误。
func ParsePairs(symbols []string) ([]Pair, error) {
	pairs := make([]Pair, 0, len(symbols))
	for _, symbol := range symbols {
		pair, err := ParsePair(symbol)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func (p Pair) String() string {
	return p.Base + "_" + p.Quote
}

// Asset 返回指定方向需要花费的资产：买入花 Quote，卖出花 Base。
func (p Pair) Asset(side Side) string {
	if side == SideBuy {
		return p.Quote
	}
	return p.Base
}
