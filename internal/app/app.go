package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"volume-farm/internal/accounts"
	"volume-farm/internal/config"
	"volume-farm/internal/domain"
	"volume-farm/internal/exchange"
	"volume-farm/internal/execution"
	"volume-farm/internal/journal"
	"volume-farm/internal/market"
	"volume-farm/internal/paper"
	"volume-farm/internal/retry"
	"volume-farm/internal/session"
	"volume-farm/internal/sizing"
	"volume-farm/internal/store"
)

const (
	modeFarm    = "farm"
	modeSellAll = "sell_all"
)

// App 聚合核心依赖并驱动全部账户的会话。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	out    io.Writer

	newVenue func(acct accounts.Account, logger *zap.Logger) (domain.Venue, error)
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		out:    os.Stdout,
	}
	a.newVenue = a.buildVenue
	return a
}

// Run 按 accounts.threads 并发执行每个账户的会话，单个账户失败不影响其他账户。
func (a *App) Run(ctx context.Context) error {
	mode := modeFarm
	if a.cfg.Trading.ConvertAllToQuote {
		mode = modeSellAll
	}
	a.logger.Info("刷量系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.venueName()),
		zap.Strings("pairs", a.cfg.Trading.Pairs),
		zap.String("mode", mode),
	)

	accts, err := a.loadAccounts()
	if err != nil {
		return err
	}

	jr, err := journal.New(a.store, a.logger)
	if err != nil {
		return err
	}

	if a.cfg.Monitor.Port > 0 {
		if err := startMonitorServer(ctx, jr, a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	started := time.Now()
	results := make([]accountResult, len(accts))

	g := new(errgroup.Group)
	g.SetLimit(a.cfg.Accounts.Threads)
	for i, acct := range accts {
		g.Go(func() error {
			results[i] = accountResult{
				Index:  acct.Index,
				Mode:   mode,
				Result: a.runAccount(ctx, acct, mode, jr),
			}
			return nil
		})
	}
	_ = g.Wait()

	printReport(a.out, results)

	total := decimal.Zero
	failed := 0
	for _, r := range results {
		total = total.Add(r.Volume)
		if r.Reason == session.ReasonError {
			failed++
		}
	}
	a.logger.Info("全部账户执行完毕",
		zap.Int("accounts", len(results)),
		zap.Int("failed", failed),
		zap.String("volume", total.StringFixed(2)),
		zap.Duration("elapsed", time.Since(started)),
	)

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	return nil
}

func (a *App) loadAccounts() ([]accounts.Account, error) {
	accts, err := accounts.Load(a.cfg.Accounts.File, a.cfg.Accounts.ProxiesFile)
	if err == nil {
		return accts, nil
	}
	if a.cfg.Paper.Enabled && errors.Is(err, os.ErrNotExist) {
		a.logger.Warn("未找到账户文件，模拟模式使用单个虚拟账户", zap.String("file", a.cfg.Accounts.File))
		return []accounts.Account{{Index: 1, APIKey: "paper-account"}}, nil
	}
	return nil, err
}

func (a *App) runAccount(ctx context.Context, acct accounts.Account, mode string, rec session.Recorder) session.Result {
	logger := a.logger.With(zap.Int("index", acct.Index), zap.String("account", acct.Masked()))
	failed := func(msg string, err error) session.Result {
		logger.Error(msg, zap.Error(err))
		rec.RecordError(ctx, msg, err, map[string]interface{}{"account": acct.Masked()})
		return session.Result{Account: acct.Masked(), Reason: session.ReasonError, Err: err}
	}

	venue, err := a.newVenue(acct, logger)
	if err != nil {
		return failed("创建交易所客户端失败", err)
	}

	sess, err := BuildSession(a.cfg, venue, acct.Masked(), rec, logger)
	if err != nil {
		return failed("创建会话失败", err)
	}

	if _, err := sess.ShowBalances(ctx); err != nil {
		if errors.Is(err, exchange.ErrMaintenance) {
			return failed("交易所维护中", err)
		}
		logger.Warn("查询初始余额失败", zap.Error(err))
	}

	var res session.Result
	if mode == modeSellAll {
		res = sess.SellAll(ctx)
	} else {
		res = sess.Run(ctx)
	}

	if ctx.Err() == nil {
		if _, err := sess.ShowBalances(ctx); err != nil {
			logger.Warn("查询结束余额失败", zap.Error(err))
		}
	}

	if pv, ok := venue.(*paper.Venue); ok {
		stats := pv.Stats()
		logger.Info("模拟交易所统计",
			zap.Int("fills", stats.Fills),
			zap.Int("rejects", stats.Rejects),
			zap.String("notional", stats.Notional.StringFixed(2)),
			zap.String("fees", stats.Fees.String()),
		)
	}
	return res
}

func (a *App) buildVenue(acct accounts.Account, logger *zap.Logger) (domain.Venue, error) {
	if a.cfg.Paper.Enabled {
		return paper.FromConfig(a.cfg.Paper, logger), nil
	}
	client, err := exchange.New(a.cfg.Exchange, exchange.Credentials{
		APIKey:    acct.APIKey,
		APISecret: acct.APISecret,
		Proxy:     acct.Proxy,
	}, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (a *App) venueName() string {
	if a.cfg.Paper.Enabled {
		return "paper"
	}
	return a.cfg.Exchange.Name
}

// BuildSession 按配置为单个账户组装 定价 → 定量 → 下单 → 会话 链路。
func BuildSession(cfg *config.Config, venue domain.Venue, account string, rec session.Recorder, logger *zap.Logger) (*session.Session, error) {
	pairs, err := domain.ParsePairs(cfg.Trading.Pairs)
	if err != nil {
		return nil, err
	}

	policy, err := sizing.FromFloats(
		cfg.Trading.TradeAmount.Min,
		cfg.Trading.TradeAmount.Max,
		cfg.Trading.MinBalanceToLeave,
	)
	if err != nil {
		return nil, err
	}

	// 每个会话独享随机源，互不加锁。
	rnd := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	resolver := market.NewResolver(venue,
		retry.FromConfig("market_price", cfg.Retry.Book, retry.On(domain.ErrBookTooShallow)).WithRand(rnd),
		logger,
	)
	guard := sizing.NewGuard(resolver, venue, policy, cfg.Trading.Depth, rnd, logger)

	executor := execution.NewExecutor(venue,
		market.NewPrecisionTable(cfg.Trading.Precision),
		retry.FromConfig("execute_order", cfg.Retry.Execution, retry.On(domain.ErrExecutionFailed)).WithRand(rnd),
		execution.Options{TimeInForce: cfg.Exchange.TimeInForce},
		logger,
	)

	return session.New(session.Config{
		Account:      account,
		Pairs:        pairs,
		TradeDelay:   cfg.Trading.TradeDelay,
		DealDelay:    cfg.Trading.DealDelay,
		NeededVolume: decimal.NewFromFloat(cfg.Trading.NeededVolume),
		FokPolicy:    retry.FromConfig("fok_reprice", cfg.Retry.Fok, nil),
	}, session.Deps{
		Balances:   venue,
		Sizer:      guard,
		Liquidator: guard.WithPolicy(policy.FullBalance()),
		Trader:     executor,
		Recorder:   rec,
		Rand:       rnd,
		Logger:     logger,
	})
}
