package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"volume-farm/internal/config"
	"volume-farm/internal/domain"
	"volume-farm/internal/retry"
)

// api 为客户端用到的 ccxt 能力子集。
type api interface {
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchOrderBook(symbol string, options ...ccxt.FetchOrderBookOptions) (ccxt.OrderBook, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
}

// Client 负责与交易所交互，读取类调用带限流与重试，下单只提交一次。
type Client struct {
	cfg     config.ExchangeConfig
	logger  *zap.Logger
	api     api
	limiter *rate.Limiter
	policy  retry.Policy
	tif     string

	loadMarkets   func() error
	marketsMu     sync.Mutex
	marketsLoaded bool
}

func newClient(cfg config.ExchangeConfig, ex api, loadMarkets func() error, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	policy := retry.FromConfig("exchange", cfg.Retry, IsRetryable).WithLogger(logger)

	return &Client{
		cfg:         cfg,
		logger:      logger,
		api:         ex,
		limiter:     rate.NewLimiter(limit, burst),
		policy:      policy,
		tif:         timeInForceFor(cfg.Name, cfg.TimeInForce),
		loadMarkets: loadMarkets,
	}
}

// Symbol 将 SOL_USDC 形式的交易对转换为 ccxt 的 SOL/USDC。
func Symbol(pair domain.Pair) string {
	return pair.Base + "/" + pair.Quote
}

// Balances 获取各资产可用余额。
func (c *Client) Balances(ctx context.Context) (domain.Balances, error) {
	raw, err := call(ctx, c, "fetch_balance", func() (ccxt.Balances, error) {
		return c.api.FetchBalance()
	})
	if err != nil {
		return nil, err
	}
	return convertBalances(raw), nil
}

// OrderBook 获取订单簿快照。
func (c *Client) OrderBook(ctx context.Context, pair domain.Pair) (domain.OrderBook, error) {
	symbol := Symbol(pair)
	raw, err := call(ctx, c, "fetch_order_book", func() (ccxt.OrderBook, error) {
		if c.cfg.OrderBookLimit > 0 {
			return c.api.FetchOrderBook(symbol, ccxt.WithFetchOrderBookLimit(int64(c.cfg.OrderBookLimit)))
		}
		return c.api.FetchOrderBook(symbol)
	})
	if err != nil {
		return domain.OrderBook{}, err
	}
	return convertOrderBook(pair, raw), nil
}

// PlaceOrder 提交限价委托。下单不在此处重试，交由执行器根据错误类型决定。
func (c *Client) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return domain.OrderAck{}, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.OrderAck{}, err
	}

	symbol := Symbol(intent.Pair)
	tif := c.tif
	if intent.TimeInForce != "" && !strings.EqualFold(intent.TimeInForce, domain.TimeInForceFOK) {
		tif = intent.TimeInForce
	}
	params := map[string]interface{}{"timeInForce": tif}

	order, err := safeCall(func() (ccxt.Order, error) {
		return c.api.CreateLimitOrder(
			symbol,
			intent.Side.String(),
			intent.Quantity.InexactFloat64(),
			intent.Price.InexactFloat64(),
			ccxt.WithCreateLimitOrderParams(params),
		)
	})
	if err != nil {
		normalized, _ := classifyError(err)
		c.logger.Warn("下单失败",
			zap.String("symbol", symbol),
			zap.Stringer("side", intent.Side),
			zap.Stringer("quantity", intent.Quantity),
			zap.Stringer("price", intent.Price),
			zap.Error(normalized),
		)
		return domain.OrderAck{}, normalized
	}

	ack := convertOrder(order, time.Now().UTC())
	if isFokExpired(order) {
		return ack, fmt.Errorf("exchange: %s 委托 %s 状态 %s 未成交: %w", symbol, ack.ID, ack.Status, domain.ErrFokRejected)
	}
	return ack, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.loadMarkets == nil {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	_, err := retry.Do(ctx, c.policy, func() (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, err
		}
		_, err := safeCall(func() (struct{}, error) {
			return struct{}{}, c.loadMarkets()
		})
		normalized, _ := classifyError(err)
		return struct{}{}, normalized
	})
	if err != nil {
		return fmt.Errorf("exchange: 加载市场元数据失败: %w", err)
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("exchange", c.cfg.Name))
	return nil
}

// call 为读取类调用加上限流、市场加载与重试。
func call[T any](ctx context.Context, c *Client, operation string, fn func() (T, error)) (T, error) {
	var zero T
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return zero, err
	}

	policy := c.policy
	policy.Name = operation

	attempt := 0
	start := time.Now()
	value, err := retry.Do(ctx, policy, func() (T, error) {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, err
		}
		value, err := safeCall(fn)
		if err != nil {
			normalized, _ := classifyError(err)
			return zero, normalized
		}
		return value, nil
	})
	if err != nil {
		if errors.Is(err, ErrMaintenance) {
			c.logger.Warn("交易所维护中", zap.String("operation", operation), zap.Error(err))
		} else {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", time.Since(start)),
				zap.Error(err),
			)
		}
		return zero, fmt.Errorf("exchange: %s: %w", operation, err)
	}

	if attempt > 1 {
		c.logger.Info("交易所调用重试后成功",
			zap.String("operation", operation),
			zap.Int("attempts", attempt),
			zap.Duration("latency", time.Since(start)),
		)
	}
	return value, nil
}

// safeCall 将 ccxt 内部的 panic 转为错误。
func safeCall[T any](fn func() (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exchange: ccxt panic: %v", r)
		}
	}()
	return fn()
}

// classifyError 归一化错误，返回是否可重试。
func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	if isFokMessage(err.Error()) {
		return fmt.Errorf("%w: %s", domain.ErrFokRejected, err.Error()), false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		case ccxt.InsufficientFundsErrType:
			return fmt.Errorf("%w: %s", domain.ErrInsufficientFunds, ccxtErr.Message), false
		}
		return err, IsRetryable(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}

func isFokMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "fill or kill") ||
		strings.Contains(lower, "would not complete fill immediately")
}

// isFokExpired 交易所以过期/撤销状态返回未成交的 FOK 委托时视为拒单。
func isFokExpired(order ccxt.Order) bool {
	if order.Status == nil || !isDeadStatus(*order.Status) {
		return false
	}
	return order.Filled == nil || *order.Filled == 0
}

func isDeadStatus(status string) bool {
	switch strings.ToLower(status) {
	case "expired", "canceled", "cancelled", "rejected":
		return true
	}
	return false
}

// convertOrder 解析下单回执。部分交易所（如 hyperliquid）的下单响应不带时间戳，
// 此时有订单号且状态未失效即视为已创建，以收到回执的时间作为创建时间。
func convertOrder(order ccxt.Order, receivedAt time.Time) domain.OrderAck {
	var ack domain.OrderAck
	if order.Id != nil {
		ack.ID = *order.Id
	}
	if order.Status != nil {
		ack.Status = *order.Status
	}
	switch {
	case order.Timestamp != nil && *order.Timestamp > 0:
		ack.CreatedAt = time.UnixMilli(*order.Timestamp).UTC()
	case ack.ID != "" && !isDeadStatus(ack.Status):
		ack.CreatedAt = receivedAt
	}
	return ack
}

func convertBalances(raw ccxt.Balances) domain.Balances {
	out := make(domain.Balances, len(raw.Free))
	for asset, free := range raw.Free {
		if free == nil {
			continue
		}
		out[strings.ToUpper(asset)] = decimal.NewFromFloat(*free)
	}
	return out
}

func convertOrderBook(pair domain.Pair, ob ccxt.OrderBook) domain.OrderBook {
	var ts time.Time
	if ob.Timestamp != nil {
		ts = time.UnixMilli(*ob.Timestamp).UTC()
	} else {
		ts = time.Now().UTC()
	}

	return domain.OrderBook{
		Pair:      pair,
		Asks:      convertLevels(ob.Asks),
		Bids:      convertLevels(ob.Bids),
		Timestamp: ts,
	}
}

func convertLevels(raw [][]float64) []domain.Level {
	levels := make([]domain.Level, 0, len(raw))
	for _, level := range raw {
		if len(level) < 2 {
			continue
		}
		levels = append(levels, domain.Level{
			Price:  decimal.NewFromFloat(level[0]),
			Amount: decimal.NewFromFloat(level[1]),
		})
	}
	return levels
}
