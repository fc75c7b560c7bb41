package market

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"volume-farm/internal/domain"
	"volume-farm/internal/retry"
)

// BookSource 提供订单簿快照。
type BookSource interface {
	OrderBook(ctx context.Context, pair domain.Pair) (domain.OrderBook, error)
}

// Resolver 按配置深度从订单簿中取价。
type Resolver struct {
	books  BookSource
	policy retry.Policy
	logger *zap.Logger
}

// NewResolver 创建取价器，policy 控制订单簿过浅等情况的重试。
func NewResolver(books BookSource, policy retry.Policy, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &Resolver{
		books:  books,
		policy: policy,
		logger: logger,
	}
}

// Resolve 每次都拉取最新订单簿并返回指定深度的价格。
func (r *Resolver) Resolve(ctx context.Context, pair domain.Pair, side domain.Side, depth int) (decimal.Decimal, error) {
	return retry.Do(ctx, r.policy, func() (decimal.Decimal, error) {
		book, err := r.books.OrderBook(ctx, pair)
		if err != nil {
			return decimal.Zero, fmt.Errorf("market: 获取 %s 订单簿失败: %w", pair, err)
		}

		price, err := PriceAtDepth(book, side, depth)
		if err != nil {
			return decimal.Zero, err
		}

		r.logger.Debug("获取盘口价格",
			zap.Stringer("pair", pair),
			zap.Stringer("side", side),
			zap.Int("depth", depth),
			zap.Stringer("price", price),
		)
		return price, nil
	})
}

// PriceAtDepth 买入取 asks[depth]，卖出取 bids[len-depth]，即从最差一端向内数。
// 两侧档位都需满足深度要求，否则返回 ErrBookTooShallow。
func PriceAtDepth(book domain.OrderBook, side domain.Side, depth int) (decimal.Decimal, error) {
	if depth < 1 {
		return decimal.Zero, fmt.Errorf("market: 深度必须大于等于1，当前 %d", depth)
	}
	if len(book.Asks) <= depth || len(book.Bids) < depth {
		return decimal.Zero, fmt.Errorf("market: %s asks=%d bids=%d depth=%d: %w",
			book.Pair, len(book.Asks), len(book.Bids), depth, domain.ErrBookTooShallow)
	}

	switch side {
	case domain.SideBuy:
		return book.Asks[depth].Price, nil
	case domain.SideSell:
		return book.Bids[len(book.Bids)-depth].Price, nil
	default:
		return decimal.Zero, fmt.Errorf("market: 未知方向 %q", side)
	}
}
