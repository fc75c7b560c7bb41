package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinTradeAmount 为交易所最小下单金额（计价资产单位），非零区间的上下界都不低于该值。
var MinTradeAmount = decimal.NewFromInt(5)

// Policy 为会话开始时计算一次的不可变下单规模策略。
type Policy struct {
	min      decimal.Decimal
	max      decimal.Decimal
	minLeave decimal.Decimal
}

// NewPolicy 规范化金额区间：max 为 0 表示使用全部余额（忽略 min），
// 否则低于最小下单金额的边界各自提升到该值。
func NewPolicy(min, max, minLeave decimal.Decimal) (Policy, error) {
	if min.IsNegative() || max.IsNegative() {
		return Policy{}, fmt.Errorf("sizing: 金额区间不能为负 [%s, %s]", min, max)
	}
	if minLeave.IsNegative() {
		return Policy{}, fmt.Errorf("sizing: 保留余额不能为负 %s", minLeave)
	}

	if max.IsZero() {
		return Policy{minLeave: minLeave}, nil
	}
	min = decimal.Max(min, MinTradeAmount)
	max = decimal.Max(max, MinTradeAmount)
	return Policy{min: min, max: max, minLeave: minLeave}, nil
}

// FromFloats 为配置中的浮点数值提供的便捷构造。
func FromFloats(min, max, minLeave float64) (Policy, error) {
	return NewPolicy(decimal.NewFromFloat(min), decimal.NewFromFloat(max), decimal.NewFromFloat(minLeave))
}

// FullBalance 返回使用同一保留余额、但交易全部余额的策略。
func (p Policy) FullBalance() Policy {
	return Policy{minLeave: p.minLeave}
}

// IsFullBalance 表示按全部可用余额下单。
func (p Policy) IsFullBalance() bool {
	return p.max.IsZero()
}

func (p Policy) Min() decimal.Decimal      { return p.min }
func (p Policy) Max() decimal.Decimal      { return p.max }
func (p Policy) MinLeave() decimal.Decimal { return p.minLeave }

func (p Policy) String() string {
	if p.IsFullBalance() {
		return fmt.Sprintf("full balance, leave %s", p.minLeave)
	}
	return fmt.Sprintf("[%s, %s], leave %s", p.min, p.max, p.minLeave)
}
