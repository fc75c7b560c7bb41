package paper

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"volume-farm/internal/config"
	"volume-farm/internal/domain"
)

// FokRejectMessage 与真实交易所的 FOK 拒单提示保持一致。
const FokRejectMessage = "Fill or kill order would not complete fill immediately"

// Rand 为价格游走与拒单提供随机数。
type Rand interface {
	Float64() float64
	NormFloat64() float64
}

// Options 控制模拟交易所。
type Options struct {
	Balances      map[string]float64
	Prices        map[string]float64
	Levels        int
	Spread        float64
	Volatility    float64
	FokRejectRate float64
	Fee           float64
	Rand          Rand
	Now           func() time.Time
}

// Fill 为一笔模拟成交。
type Fill struct {
	OrderID  string
	Pair     domain.Pair
	Side     domain.Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Notional decimal.Decimal
	Fee      decimal.Decimal
	FilledAt time.Time
}

// Stats 汇总模拟交易所的运行情况。
type Stats struct {
	Fills    int
	Rejects  int
	Notional decimal.Decimal
	Fees     decimal.Decimal
}

// Venue 在内存中模拟单个账户的现货交易所。
type Venue struct {
	mu sync.Mutex

	balances map[string]decimal.Decimal
	mids     map[string]decimal.Decimal
	levels   int
	spread   decimal.Decimal
	vol      float64
	reject   float64
	fee      decimal.Decimal
	rnd      Rand
	now      func() time.Time
	logger   *zap.Logger

	fills   []Fill
	rejects int
	volume  decimal.Decimal
	fees    decimal.Decimal
}

// FromConfig 根据配置构造模拟交易所。
func FromConfig(cfg config.PaperConfig, logger *zap.Logger) *Venue {
	return NewVenue(Options{
		Balances:      cfg.Balances,
		Prices:        cfg.Prices,
		Levels:        cfg.Levels,
		Spread:        cfg.Spread,
		Volatility:    cfg.Volatility,
		FokRejectRate: cfg.FokRejectRate,
		Fee:           cfg.Fee,
	}, logger)
}

// NewVenue 创建模拟交易所，Prices 以基础资产为键、以计价资产计价。
func NewVenue(opts Options, logger *zap.Logger) *Venue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Levels <= 0 {
		opts.Levels = 20
	}
	if opts.Spread <= 0 {
		opts.Spread = 0.0005
	}
	if opts.Rand == nil {
		opts.Rand = globalRand{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	balances := make(map[string]decimal.Decimal, len(opts.Balances))
	for asset, amount := range opts.Balances {
		balances[strings.ToUpper(asset)] = decimal.NewFromFloat(amount)
	}
	mids := make(map[string]decimal.Decimal, len(opts.Prices))
	for asset, price := range opts.Prices {
		mids[strings.ToUpper(asset)] = decimal.NewFromFloat(price)
	}

	return &Venue{
		balances: balances,
		mids:     mids,
		levels:   opts.Levels,
		spread:   decimal.NewFromFloat(opts.Spread),
		vol:      opts.Volatility,
		reject:   opts.FokRejectRate,
		fee:      decimal.NewFromFloat(opts.Fee),
		rnd:      opts.Rand,
		now:      opts.Now,
		logger:   logger,
		volume:   decimal.Zero,
		fees:     decimal.Zero,
	}
}

// Balances 返回余额副本。
func (v *Venue) Balances(ctx context.Context) (domain.Balances, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	out := make(domain.Balances, len(v.balances))
	for asset, amount := range v.balances {
		out[asset] = amount
	}
	return out, nil
}

// OrderBook 在随机游走后的中间价两侧生成对称盘口。
func (v *Venue) OrderBook(ctx context.Context, pair domain.Pair) (domain.OrderBook, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderBook{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	mid, err := v.advance(pair)
	if err != nil {
		return domain.OrderBook{}, err
	}

	book := domain.OrderBook{
		Pair:      pair,
		Asks:      make([]domain.Level, 0, v.levels),
		Bids:      make([]domain.Level, 0, v.levels),
		Timestamp: v.now(),
	}
	one := decimal.NewFromInt(1)
	for i := 1; i <= v.levels; i++ {
		offset := v.spread.Mul(decimal.NewFromInt(int64(i)))
		amount := decimal.NewFromFloat(1 + v.rnd.Float64()*10).Round(4)
		book.Asks = append(book.Asks, domain.Level{Price: mid.Mul(one.Add(offset)).Round(8), Amount: amount})
		book.Bids = append(book.Bids, domain.Level{Price: mid.Mul(one.Sub(offset)).Round(8), Amount: amount})
	}
	return book, nil
}

// PlaceOrder 模拟 FOK 限价单：价格可成交且未随机拒单时全部成交，否则整单拒绝。
func (v *Venue) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderAck{}, err
	}
	if !intent.Quantity.IsPositive() || !intent.Price.IsPositive() {
		return domain.OrderAck{}, fmt.Errorf("paper: 委托数量或价格非法 qty=%s price=%s", intent.Quantity, intent.Price)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	mid, ok := v.mids[intent.Pair.Base]
	if !ok {
		return domain.OrderAck{}, fmt.Errorf("paper: 未配置 %s 的价格", intent.Pair.Base)
	}

	id := uuid.NewString()
	one := decimal.NewFromInt(1)
	bestAsk := mid.Mul(one.Add(v.spread)).Round(8)
	bestBid := mid.Mul(one.Sub(v.spread)).Round(8)

	marketable := intent.Price.GreaterThanOrEqual(bestAsk)
	if intent.Side == domain.SideSell {
		marketable = intent.Price.LessThanOrEqual(bestBid)
	}
	if !marketable || v.rnd.Float64() < v.reject {
		v.rejects++
		v.logger.Debug("模拟 FOK 拒单",
			zap.String("order_id", id),
			zap.Stringer("pair", intent.Pair),
			zap.Stringer("side", intent.Side),
			zap.Stringer("price", intent.Price),
			zap.Bool("marketable", marketable),
		)
		return domain.OrderAck{ID: id, Status: "expired"}, fmt.Errorf("paper: %s: %w", FokRejectMessage, domain.ErrFokRejected)
	}

	base := intent.Pair.Base
	quote := intent.Pair.Quote
	notional := intent.Quantity.Mul(intent.Price)

	var fee decimal.Decimal
	switch intent.Side {
	case domain.SideBuy:
		if v.balances[quote].LessThan(notional) {
			return domain.OrderAck{}, fmt.Errorf("paper: %s 余额 %s 不足 %s: %w", quote, v.balances[quote], notional, domain.ErrInsufficientFunds)
		}
		fee = intent.Quantity.Mul(v.fee)
		v.balances[quote] = v.balances[quote].Sub(notional)
		v.balances[base] = v.balances[base].Add(intent.Quantity.Sub(fee))
		fee = fee.Mul(intent.Price)
	case domain.SideSell:
		if v.balances[base].LessThan(intent.Quantity) {
			return domain.OrderAck{}, fmt.Errorf("paper: %s 余额 %s 不足 %s: %w", base, v.balances[base], intent.Quantity, domain.ErrInsufficientFunds)
		}
		fee = notional.Mul(v.fee)
		v.balances[base] = v.balances[base].Sub(intent.Quantity)
		v.balances[quote] = v.balances[quote].Add(notional.Sub(fee))
	default:
		return domain.OrderAck{}, fmt.Errorf("paper: 未知方向 %q", intent.Side)
	}

	now := v.now()
	v.fills = append(v.fills, Fill{
		OrderID:  id,
		Pair:     intent.Pair,
		Side:     intent.Side,
		Quantity: intent.Quantity,
		Price:    intent.Price,
		Notional: notional,
		Fee:      fee,
		FilledAt: now,
	})
	v.volume = v.volume.Add(notional)
	v.fees = v.fees.Add(fee)

	return domain.OrderAck{ID: id, Status: "closed", CreatedAt: now}, nil
}

// Fills 返回成交记录副本。
func (v *Venue) Fills() []Fill {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Fill(nil), v.fills...)
}

// Stats 返回汇总统计。
func (v *Venue) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Stats{
		Fills:    len(v.fills),
		Rejects:  v.rejects,
		Notional: v.volume,
		Fees:     v.fees,
	}
}

// advance 让中间价随机游走一步，调用方需持有锁。
func (v *Venue) advance(pair domain.Pair) (decimal.Decimal, error) {
	mid, ok := v.mids[pair.Base]
	if !ok {
		return decimal.Zero, fmt.Errorf("paper: 未配置 %s 的价格", pair.Base)
	}
	if v.vol > 0 {
		step := 1 + v.vol*v.rnd.NormFloat64()
		if step > 0 {
			mid = mid.Mul(decimal.NewFromFloat(step)).Round(8)
			v.mids[pair.Base] = mid
		}
	}
	return mid, nil
}

type globalRand struct{}

func (globalRand) Float64() float64     { return rand.Float64() }
func (globalRand) NormFloat64() float64 { return rand.NormFloat64() }
