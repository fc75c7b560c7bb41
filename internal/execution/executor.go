package execution

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"volume-farm/internal/domain"
	"volume-farm/internal/market"
	"volume-farm/internal/retry"
	"volume-farm/internal/sizing"
)

type orderClient interface {
	PlaceOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderAck, error)
}

// Executor 将定量结果转化为 FOK 限价委托并解析回执。
type Executor struct {
	client    orderClient
	precision *market.PrecisionTable
	policy    retry.Policy
	logger    *zap.Logger
	opts      Options
}

// NewExecutor 创建执行器。policy 只应重试 ErrExecutionFailed，FOK 拒单交由上层重新定价。
func NewExecutor(client orderClient, precision *market.PrecisionTable, policy retry.Policy, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	if policy.Retryable == nil {
		policy.Retryable = retry.On(domain.ErrExecutionFailed)
	}
	if opts.TimeInForce == "" {
		opts.TimeInForce = domain.TimeInForceFOK
	}
	return &Executor{
		client:    client,
		precision: precision,
		policy:    policy,
		logger:    logger,
		opts:      opts,
	}
}

// Execute 截断数量后提交委托。截断为 0 时返回 ErrInsufficientFunds 且不下单。
func (e *Executor) Execute(ctx context.Context, trade sizing.Trade) (Fill, error) {
	decimals := e.precision.Decimals(trade.Pair.Base)
	qty := market.FixDecimal(trade.Quantity, decimals)
	if !qty.IsPositive() {
		return Fill{}, fmt.Errorf("execution: %s %s 数量 %s 按 %d 位截断后为 0: %w",
			trade.Side, trade.Pair, trade.Quantity, decimals, domain.ErrInsufficientFunds)
	}

	intent := domain.OrderIntent{
		Pair:        trade.Pair,
		Side:        trade.Side,
		Type:        domain.OrderTypeLimit,
		Quantity:    qty,
		Price:       trade.Price,
		TimeInForce: e.opts.TimeInForce,
	}

	attempts := 0
	ack, err := retry.Do(ctx, e.policy, func() (domain.OrderAck, error) {
		attempts++
		return e.submitOrder(ctx, intent)
	})
	if err != nil {
		return Fill{}, err
	}

	fill := Fill{
		OrderID:   ack.ID,
		Pair:      trade.Pair,
		Side:      trade.Side,
		Quantity:  qty,
		Price:     trade.Price,
		Notional:  qty.Mul(trade.Price),
		Status:    ack.Status,
		CreatedAt: ack.CreatedAt,
		Attempts:  attempts,
	}

	e.logger.Info("委托已成交",
		zap.String("order_id", fill.OrderID),
		zap.Stringer("pair", fill.Pair),
		zap.Stringer("side", fill.Side),
		zap.String("quantity", market.FixAmount(qty, decimals)),
		zap.Stringer("price", fill.Price),
		zap.Stringer("notional", fill.Notional),
		zap.Int("attempts", attempts),
	)
	return fill, nil
}

func (e *Executor) submitOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	ack, err := e.client.PlaceOrder(ctx, intent)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return domain.OrderAck{}, err
		case errors.Is(err, domain.ErrFokRejected), errors.Is(err, domain.ErrInsufficientFunds):
			e.logger.Debug("委托被拒绝",
				zap.Stringer("pair", intent.Pair),
				zap.Stringer("side", intent.Side),
				zap.Error(err),
			)
			return domain.OrderAck{}, err
		case errors.Is(err, domain.ErrExecutionFailed):
			return domain.OrderAck{}, err
		default:
			return domain.OrderAck{}, fmt.Errorf("execution: %w: %w", domain.ErrExecutionFailed, err)
		}
	}

	if ack.CreatedAt.IsZero() {
		return domain.OrderAck{}, fmt.Errorf("execution: 回执缺少创建时间 order_id=%q status=%q: %w",
			ack.ID, ack.Status, domain.ErrExecutionFailed)
	}
	return ack, nil
}
