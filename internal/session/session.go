package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"volume-farm/internal/config"
	"volume-farm/internal/domain"
	"volume-farm/internal/execution"
	"volume-farm/internal/journal"
	"volume-farm/internal/retry"
	"volume-farm/internal/sizing"
)

// Sizer 计算单笔交易的价格与数量。
type Sizer interface {
	Size(ctx context.Context, pair domain.Pair, side domain.Side) (sizing.Trade, error)
}

// policySource 由 *sizing.Guard 实现，用于记录会话使用的定量策略。
type policySource interface {
	Policy() sizing.Policy
}

// BalanceSource 提供账户余额。
type BalanceSource interface {
	Balances(ctx context.Context) (domain.Balances, error)
}

// Recorder 持久化会话事件，*journal.Journal 实现该接口。
type Recorder interface {
	RecordSessionStarted(ctx context.Context, payload journal.SessionStartedPayload)
	RecordTrade(ctx context.Context, payload journal.TradePayload)
	RecordSessionFinished(ctx context.Context, payload journal.SessionFinishedPayload)
	RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{})
}

// Rand 为选币、延时与重试抖动提供随机数。
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Config 为单个会话的参数。
type Config struct {
	Account      string
	Pairs        []domain.Pair
	TradeDelay   config.DelayRange
	DealDelay    config.DelayRange
	NeededVolume decimal.Decimal
	// FokPolicy 控制 FOK 拒单后重新定价的次数与间隔。
	FokPolicy retry.Policy
}

// Deps 为会话依赖，Liquidator 为按全部余额定量的 Sizer，仅清仓模式使用。
type Deps struct {
	Balances   BalanceSource
	Sizer      Sizer
	Liquidator Sizer
	Trader     execution.Trader
	Recorder   Recorder
	Rand       Rand
	Sleep      func(ctx context.Context, d time.Duration) error
	Logger     *zap.Logger
}

// Session 驱动单个账户的 买入 → 卖出 → 等待 循环，所有步骤严格串行。
type Session struct {
	id     string
	cfg    Config
	deps   Deps
	policy retry.Policy
	logger *zap.Logger

	state  State
	volume decimal.Decimal
	deals  int
	trades int
}

// New 创建会话。
func New(cfg Config, deps Deps) (*Session, error) {
	if len(cfg.Pairs) == 0 {
		return nil, errors.New("session: 交易对列表不能为空")
	}
	if deps.Sizer == nil || deps.Trader == nil {
		return nil, errors.New("session: sizer 与 trader 不能为空")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Liquidator == nil {
		deps.Liquidator = deps.Sizer
	}

	id := uuid.NewString()
	logger := deps.Logger.With(
		zap.String("account", cfg.Account),
		zap.String("session_id", id),
	)

	policy := cfg.FokPolicy
	if policy.Name == "" {
		policy.Name = "fok_reprice"
	}
	policy.Retryable = retry.On(domain.ErrFokRejected)
	policy.Rand = deps.Rand
	policy.Logger = logger

	return &Session{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		policy: policy,
		logger: logger,
		state:  StateSelectingPair,
		volume: decimal.Zero,
	}, nil
}

// ID 返回会话标识。
func (s *Session) ID() string { return s.id }

// State 返回当前状态。
func (s *Session) State() State { return s.state }

// Run 循环交易直至达到目标成交量或遇到终止条件。任何错误与 panic 都只结束本会话。
func (s *Session) Run(ctx context.Context) (res Result) {
	start := time.Now()
	s.recordStarted(ctx, "farm")

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("session: panic: %v", r)
			s.logger.Error("会话异常终止", zap.Any("panic", r), zap.Stack("stack"))
			s.deps.Recorder.RecordError(ctx, "会话异常终止", err, map[string]interface{}{"session_id": s.id})
			res.Reason = ReasonError
			res.Err = err
		}
		s.state = StateDone
		res = s.finish(ctx, res, start)
	}()

	var pair domain.Pair
	for s.state != StateDone {
		switch s.state {
		case StateSelectingPair:
			pair = s.cfg.Pairs[s.deps.Rand.IntN(len(s.cfg.Pairs))]
			s.logger.Debug("选择交易对", zap.Stringer("pair", pair))
			s.state = StateBuying

		case StateBuying:
			if err := s.delay(ctx, s.cfg.TradeDelay); err != nil {
				return s.stop(ctx, err)
			}
			if err := s.trade(ctx, s.deps.Sizer, pair, domain.SideBuy); err != nil {
				return s.stop(ctx, err)
			}
			s.state = StateSelling

		case StateSelling:
			if err := s.delay(ctx, s.cfg.TradeDelay); err != nil {
				return s.stop(ctx, err)
			}
			if err := s.trade(ctx, s.deps.Sizer, pair, domain.SideSell); err != nil {
				return s.stop(ctx, err)
			}
			s.deals++
			s.state = StateDealDelay

		case StateDealDelay:
			if err := s.delay(ctx, s.cfg.DealDelay); err != nil {
				return s.stop(ctx, err)
			}
			if s.cfg.NeededVolume.IsPositive() && s.volume.GreaterThan(s.cfg.NeededVolume) {
				s.logger.Info("已达到目标成交量",
					zap.String("volume", s.volume.StringFixed(2)),
					zap.Stringer("needed", s.cfg.NeededVolume),
				)
				s.state = StateDone
				return Result{Reason: ReasonNeededVolume}
			}
			s.state = StateSelectingPair
		}
	}
	return Result{Reason: ReasonNeededVolume}
}

// SellAll 将每个交易对的基础资产按全部余额卖出为计价资产。
func (s *Session) SellAll(ctx context.Context) (res Result) {
	start := time.Now()
	s.recordStarted(ctx, "sell_all")

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("session: panic: %v", r)
			s.logger.Error("清仓异常终止", zap.Any("panic", r), zap.Stack("stack"))
			s.deps.Recorder.RecordError(ctx, "清仓异常终止", err, map[string]interface{}{"session_id": s.id})
			res.Reason = ReasonError
			res.Err = err
		}
		s.state = StateDone
		res = s.finish(ctx, res, start)
	}()

	seen := make(map[string]struct{}, len(s.cfg.Pairs))
	for _, pair := range s.cfg.Pairs {
		if _, ok := seen[pair.Base]; ok {
			continue
		}
		seen[pair.Base] = struct{}{}

		s.state = StateSelling
		err := s.trade(ctx, s.deps.Liquidator, pair, domain.SideSell)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrInsufficientFunds):
			s.logger.Info("无可卖出余额，跳过", zap.Stringer("pair", pair), zap.Error(err))
		case domain.IsTradeStop(err):
			s.logger.Warn("卖出重试耗尽，跳过", zap.Stringer("pair", pair), zap.Error(err))
		default:
			return s.stop(ctx, err)
		}
	}
	return Result{Reason: ReasonSoldAll}
}

// ShowBalances 打印非零余额。
func (s *Session) ShowBalances(ctx context.Context) (domain.Balances, error) {
	if s.deps.Balances == nil {
		return nil, errors.New("session: 未配置余额来源")
	}
	balances, err := s.deps.Balances.Balances(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: 获取余额失败: %w", err)
	}

	assets := make([]string, 0, len(balances))
	for asset, amount := range balances {
		if amount.IsPositive() {
			assets = append(assets, asset)
		}
	}
	sort.Strings(assets)

	fields := make([]zap.Field, 0, len(assets))
	for _, asset := range assets {
		fields = append(fields, zap.Stringer(asset, balances[asset]))
	}
	s.logger.Info("账户余额", fields...)
	return balances, nil
}

// trade 在 FOK 拒单时重新定价定量后再次下单。
func (s *Session) trade(ctx context.Context, sizer Sizer, pair domain.Pair, side domain.Side) error {
	s.logger.Info("尝试交易", zap.Stringer("side", side), zap.Stringer("pair", pair))

	fill, err := retry.Do(ctx, s.policy, func() (execution.Fill, error) {
		trade, err := sizer.Size(ctx, pair, side)
		if err != nil {
			return execution.Fill{}, err
		}
		return s.deps.Trader.Execute(ctx, trade)
	})
	if err != nil {
		return err
	}

	if fill.Notional.IsPositive() {
		s.volume = s.volume.Add(fill.Notional)
	}
	s.trades++

	s.logger.Info("交易完成",
		zap.Stringer("side", side),
		zap.Stringer("pair", pair),
		zap.Stringer("quantity", fill.Quantity),
		zap.Stringer("price", fill.Price),
		zap.String("volume", s.volume.StringFixed(2)),
	)
	s.deps.Recorder.RecordTrade(ctx, journal.TradePayload{
		SessionID: s.id,
		Account:   s.cfg.Account,
		OrderID:   fill.OrderID,
		Pair:      pair.String(),
		Side:      side.String(),
		Quantity:  fill.Quantity.String(),
		Price:     fill.Price.String(),
		Notional:  fill.Notional.String(),
		Volume:    s.volume.String(),
		Attempts:  fill.Attempts,
	})
	return nil
}

// stop 将终止错误归类为结束原因。
func (s *Session) stop(ctx context.Context, err error) Result {
	state := s.state
	s.state = StateDone
	res := Result{Err: err}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		res.Reason = ReasonCanceled
		s.logger.Info("会话已取消", zap.Error(err))
	case errors.Is(err, domain.ErrInsufficientFunds):
		res.Reason = ReasonInsufficientFunds
		s.logger.Info("余额不足，停止交易", zap.Error(err))
	case domain.IsTradeStop(err):
		res.Reason = ReasonRetriesExhausted
		s.logger.Info("重试次数耗尽，停止交易", zap.Error(err))
	default:
		res.Reason = ReasonError
		s.logger.Error("会话出现未预期错误，详情见日志文件", zap.Error(err), zap.Stack("stack"))
		s.deps.Recorder.RecordError(ctx, "会话出现未预期错误", err, map[string]interface{}{
			"session_id": s.id,
			"state":      state.String(),
		})
	}
	return res
}

func (s *Session) finish(ctx context.Context, res Result, start time.Time) Result {
	res.SessionID = s.id
	res.Account = s.cfg.Account
	res.Deals = s.deals
	res.Trades = s.trades
	res.Volume = s.volume
	res.Duration = time.Since(start)

	s.logger.Info("刷量结束",
		zap.String("volume", s.volume.StringFixed(2)),
		zap.Int("deals", s.deals),
		zap.String("reason", string(res.Reason)),
	)
	s.deps.Recorder.RecordSessionFinished(ctx, journal.SessionFinishedPayload{
		SessionID: s.id,
		Account:   s.cfg.Account,
		Deals:     s.deals,
		Trades:    s.trades,
		Volume:    s.volume.String(),
		Reason:    string(res.Reason),
		Duration:  res.Duration.Round(time.Millisecond).String(),
	})
	return res
}

func (s *Session) recordStarted(ctx context.Context, mode string) {
	pairs := make([]string, 0, len(s.cfg.Pairs))
	for _, p := range s.cfg.Pairs {
		pairs = append(pairs, p.String())
	}
	s.logger.Info("会话开始", zap.String("mode", mode), zap.Strings("pairs", pairs))
	sizer := s.deps.Sizer
	if mode == "sell_all" {
		sizer = s.deps.Liquidator
	}
	var policy string
	if p, ok := sizer.(policySource); ok {
		policy = p.Policy().String()
	}
	s.deps.Recorder.RecordSessionStarted(ctx, journal.SessionStartedPayload{
		SessionID:    s.id,
		Account:      s.cfg.Account,
		Mode:         mode,
		Pairs:        pairs,
		Policy:       policy,
		NeededVolume: s.cfg.NeededVolume.String(),
	})
}

// delay 在 [Min, Max] 内随机等待，Max<=0 时不等待。
func (s *Session) delay(ctx context.Context, r config.DelayRange) error {
	if r.Max <= 0 {
		return nil
	}
	d := r.Min
	if span := r.Max - r.Min; span > 0 {
		d += time.Duration(s.deps.Rand.Float64() * float64(span))
	}
	s.logger.Info("等待", zap.Duration("sleep", d))
	return s.deps.Sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordSessionStarted(context.Context, journal.SessionStartedPayload)   {}
func (nopRecorder) RecordTrade(context.Context, journal.TradePayload)                     {}
func (nopRecorder) RecordSessionFinished(context.Context, journal.SessionFinishedPayload) {}
func (nopRecorder) RecordError(context.Context, string, error, map[string]interface{})    {}
