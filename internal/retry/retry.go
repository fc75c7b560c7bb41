package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"volume-farm/internal/config"
)

// Rand 为抖动等待提供随机数，便于测试注入确定序列。
type Rand interface {
	Float64() float64
}

// Policy 描述一个调用点的重试上限、等待区间与可重试错误集合。
type Policy struct {
	Name        string
	MaxAttempts uint
	MinWait     time.Duration
	MaxWait     time.Duration
	// Retryable 返回 false 的错误立即返回；为 nil 时全部重试。
	Retryable func(error) bool
	Rand      Rand
	Logger    *zap.Logger
}

// FromConfig 根据配置构造策略。
func FromConfig(name string, cfg config.RetryConfig, retryable func(error) bool) Policy {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return Policy{
		Name:        name,
		MaxAttempts: uint(attempts),
		MinWait:     cfg.MinDelay,
		MaxWait:     cfg.MaxDelay,
		Retryable:   retryable,
	}
}

// On 仅对匹配任一目标的错误重试。
func On(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// WithLogger 返回带日志器的策略副本。
func (p Policy) WithLogger(logger *zap.Logger) Policy {
	p.Logger = logger
	return p
}

// WithRand 返回使用指定随机源的策略副本。
func (p Policy) WithRand(rnd Rand) Policy {
	p.Rand = rnd
	return p
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Do 在策略约束下执行 op，直至成功、遇到不可重试错误或耗尽次数。
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		value, err := op()
		if err != nil && !p.retryable(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}

	value, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(newJitter(p.MinWait, p.MaxWait, p.Rand)),
		backoff.WithMaxTries(attempts),
		// 次数由 MaxAttempts 唯一约束，不叠加总耗时上限。
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Info("调用失败，等待重试",
				zap.String("operation", p.Name),
				zap.Int("attempt", attempt),
				zap.Uint("max_attempts", attempts),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
	}
	return value, err
}

// Run 为无返回值操作提供的便捷封装。
func Run(ctx context.Context, p Policy, op func() error) error {
	_, err := Do(ctx, p, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// jitter 在 [min, max] 内均匀取等待时间。
type jitter struct {
	min time.Duration
	max time.Duration
	rnd Rand
}

func newJitter(min, max time.Duration, rnd Rand) *jitter {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	if rnd == nil {
		rnd = globalRand{}
	}
	return &jitter{min: min, max: max, rnd: rnd}
}

func (j *jitter) NextBackOff() time.Duration {
	span := j.max - j.min
	if span <= 0 {
		return j.min
	}
	return j.min + time.Duration(j.rnd.Float64()*float64(span))
}

func (j *jitter) Reset() {}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
