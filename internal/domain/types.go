package domain

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// OrderTypeLimit 为唯一使用的委托类型。
	OrderTypeLimit = "limit"
	// TimeInForceFOK 全部成交或立即撤销。
	TimeInForceFOK = "FOK"
)

// Balances 记录各资产可用余额。
type Balances map[string]decimal.Decimal

// Available 返回资产可用余额，缺失视为 0。
func (b Balances) Available(asset string) decimal.Decimal {
	if v, ok := b[strings.ToUpper(asset)]; ok {
		return v
	}
	return decimal.Zero
}

// Level 表示盘口档位。
type Level struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// OrderBook 为订单簿快照，Asks 价格升序，Bids 价格降序。
type OrderBook struct {
	Pair      Pair
	Asks      []Level
	Bids      []Level
	Timestamp time.Time
}

// OrderIntent 描述一笔待提交的委托，Quantity 已按精度截断。
type OrderIntent struct {
	Pair        Pair
	Side        Side
	Type        string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	TimeInForce string
}

// OrderAck 为交易所对下单请求的回执。CreatedAt 为零值表示交易所未确认创建。
type OrderAck struct {
	ID        string
	Status    string
	CreatedAt time.Time
}

// Venue 是引擎依赖的交易所能力。
type Venue interface {
	Balances(ctx context.Context) (Balances, error)
	OrderBook(ctx context.Context, pair Pair) (OrderBook, error)
	PlaceOrder(ctx context.Context, intent OrderIntent) (OrderAck, error)
}
