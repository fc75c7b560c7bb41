package sizing

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"volume-farm/internal/domain"
)

// guardRatio 可用余额需覆盖最小金额的比例。
var guardRatio = decimal.NewFromFloat(0.8)

// PriceResolver 返回指定深度的盘口价格。
type PriceResolver interface {
	Resolve(ctx context.Context, pair domain.Pair, side domain.Side, depth int) (decimal.Decimal, error)
}

// BalanceSource 返回最新余额。
type BalanceSource interface {
	Balances(ctx context.Context) (domain.Balances, error)
}

// Rand 提供 [0,1) 均匀随机数。
type Rand interface {
	Float64() float64
}

// Trade 为定价与定量结果，Quantity 尚未按精度截断。
type Trade struct {
	Pair     domain.Pair
	Side     domain.Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
	// Notional 为计价资产计的预估成交额。
	Notional decimal.Decimal
}

// Guard 根据实时余额、盘口价格和策略计算每笔交易规模。
type Guard struct {
	prices   PriceResolver
	balances BalanceSource
	policy   Policy
	depth    int
	rnd      Rand
	logger   *zap.Logger
}

// NewGuard 创建规模计算器，rnd 为 nil 时使用全局随机源。
func NewGuard(prices PriceResolver, balances BalanceSource, policy Policy, depth int, rnd Rand, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rnd == nil {
		rnd = globalRand{}
	}
	return &Guard{
		prices:   prices,
		balances: balances,
		policy:   policy,
		depth:    depth,
		rnd:      rnd,
		logger:   logger,
	}
}

// WithPolicy 返回使用另一策略的副本。
func (g *Guard) WithPolicy(policy Policy) *Guard {
	clone := *g
	clone.policy = policy
	return &clone
}

// Policy 返回当前策略。
func (g *Guard) Policy() Policy {
	return g.policy
}

// Size 每次调用都重新拉取价格与余额。
func (g *Guard) Size(ctx context.Context, pair domain.Pair, side domain.Side) (Trade, error) {
	price, err := g.prices.Resolve(ctx, pair, side, g.depth)
	if err != nil {
		return Trade{}, err
	}
	if !price.IsPositive() {
		return Trade{}, fmt.Errorf("sizing: %s 盘口价格非法 %s", pair, price)
	}

	balances, err := g.balances.Balances(ctx)
	if err != nil {
		return Trade{}, fmt.Errorf("sizing: 获取余额失败: %w", err)
	}

	asset := pair.Asset(side)
	available := balances.Available(asset)

	// 买入时可花费额度需扣除保留余额。
	headroom := available
	if side == domain.SideBuy && g.policy.minLeave.IsPositive() {
		if available.LessThanOrEqual(g.policy.minLeave) {
			return Trade{}, fmt.Errorf("sizing: %s 余额 %s 已不高于保留余额 %s: %w",
				asset, available, g.policy.minLeave, domain.ErrInsufficientFunds)
		}
		headroom = available.Sub(g.policy.minLeave)
	}

	trade := Trade{Pair: pair, Side: side, Price: price}

	if g.policy.IsFullBalance() {
		if side == domain.SideBuy {
			trade.Notional = headroom
			trade.Quantity = headroom.Div(price)
		} else {
			trade.Quantity = headroom
			trade.Notional = headroom.Mul(price)
		}
		g.logSized(trade, available)
		return trade, nil
	}

	// 统一换算为计价资产金额比较。
	usd := headroom
	if side == domain.SideSell {
		usd = headroom.Mul(price)
	}

	if g.policy.min.Mul(guardRatio).GreaterThan(usd) {
		return Trade{}, fmt.Errorf("sizing: %s 可用 %s (约 %s %s) 不足最小金额 %s: %w",
			asset, available, usd.StringFixed(2), pair.Quote, g.policy.min, domain.ErrInsufficientFunds)
	}

	upper := decimal.Min(g.policy.max, usd)
	lower := decimal.Min(g.policy.min, upper)
	amount := lower.Add(upper.Sub(lower).Mul(decimal.NewFromFloat(g.rnd.Float64())))

	trade.Notional = amount
	trade.Quantity = amount.Div(price)
	g.logSized(trade, available)
	return trade, nil
}

func (g *Guard) logSized(trade Trade, available decimal.Decimal) {
	g.logger.Debug("计算下单规模",
		zap.Stringer("pair", trade.Pair),
		zap.Stringer("side", trade.Side),
		zap.Stringer("price", trade.Price),
		zap.Stringer("available", available),
		zap.Stringer("quantity", trade.Quantity),
		zap.Stringer("notional", trade.Notional),
		zap.Stringer("policy", g.policy),
	)
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
