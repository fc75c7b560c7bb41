package execution

import (
	"context"

	"volume-farm/internal/sizing"
)

// Trader 抽象执行器接口，方便切换真实或模拟下单。
type Trader interface {
	Execute(ctx context.Context, trade sizing.Trade) (Fill, error)
}

var _ Trader = (*Executor)(nil)
