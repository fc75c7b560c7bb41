package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"volume-farm/internal/domain"
)

// Options 控制下单参数。
type Options struct {
	TimeInForce string
}

// Fill 为交易所确认创建的委托，Notional 计入会话成交量。
type Fill struct {
	OrderID   string
	Pair      domain.Pair
	Side      domain.Side
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Notional  decimal.Decimal
	Status    string
	CreatedAt time.Time
	Attempts  int
}
