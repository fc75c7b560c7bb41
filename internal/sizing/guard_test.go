package sizing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volume-farm/internal/domain"
)

var solUSDC = domain.Pair{Base: "SOL", Quote: "USDC"}

type fakePrices struct {
	price decimal.Decimal
	calls int
}

func (f *fakePrices) Resolve(context.Context, domain.Pair, domain.Side, int) (decimal.Decimal, error) {
	f.calls++
	return f.price, nil
}

type fakeBalances struct {
	balances domain.Balances
	calls    int
}

func (f *fakeBalances) Balances(context.Context) (domain.Balances, error) {
	f.calls++
	return f.balances, nil
}

type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mustPolicy(t *testing.T, min, max, leave float64) Policy {
	t.Helper()
	p, err := FromFloats(min, max, leave)
	require.NoError(t, err)
	return p
}

func TestNewPolicy_Normalizes(t *testing.T) {
	p := mustPolicy(t, 3, 4, 0)
	assert.Equal(t, "5", p.Min().String())
	assert.Equal(t, "5", p.Max().String())
	assert.False(t, p.IsFullBalance())

	p = mustPolicy(t, 3, 10, 0)
	assert.Equal(t, "5", p.Min().String())
	assert.Equal(t, "10", p.Max().String())

	p = mustPolicy(t, 10, 0, 1)
	assert.True(t, p.IsFullBalance())
	assert.True(t, p.Min().IsZero())
	assert.Equal(t, "1", p.MinLeave().String())

	p = mustPolicy(t, 0, 0, 1)
	assert.True(t, p.IsFullBalance())
	assert.Equal(t, "1", p.MinLeave().String())

	full := mustPolicy(t, 10, 20, 2).FullBalance()
	assert.True(t, full.IsFullBalance())
	assert.Equal(t, "2", full.MinLeave().String())

	_, err := FromFloats(-1, 5, 0)
	require.Error(t, err)
	_, err = FromFloats(1, 5, -1)
	require.Error(t, err)
}

func TestGuard_FullBalanceBuy(t *testing.T) {
	prices := &fakePrices{price: dec("20.0")}
	balances := &fakeBalances{balances: domain.Balances{"USDC": dec("100")}}
	guard := NewGuard(prices, balances, mustPolicy(t, 0, 0, 0), 1, fixedRand(0.5), nil)

	trade, err := guard.Size(context.Background(), solUSDC, domain.SideBuy)
	require.NoError(t, err)
	assert.Equal(t, "5", trade.Quantity.String())
	assert.Equal(t, "100", trade.Notional.String())
	assert.Equal(t, "20", trade.Price.String())
}

func TestGuard_ZeroMaxTradesFullBalance(t *testing.T) {
	prices := &fakePrices{price: dec("20")}
	balances := &fakeBalances{balances: domain.Balances{"USDC": dec("100")}}
	guard := NewGuard(prices, balances, mustPolicy(t, 10, 0, 0), 1, fixedRand(0.5), nil)

	trade, err := guard.Size(context.Background(), solUSDC, domain.SideBuy)
	require.NoError(t, err)
	assert.Equal(t, "5", trade.Quantity.String())
	assert.Equal(t, "100", trade.Notional.String())
}

func TestGuard_FullBalanceSell(t *testing.T) {
	prices := &fakePrices{price: dec("20")}
	balances := &fakeBalances{balances: domain.Balances{"SOL": dec("2.5"), "USDC": dec("1")}}
	guard := NewGuard(prices, balances, mustPolicy(t, 0, 0, 0), 1, fixedRand(0.5), nil)

	trade, err := guard.Size(context.Background(), solUSDC, domain.SideSell)
	require.NoError(t, err)
	assert.Equal(t, "2.5", trade.Quantity.String())
	assert.Equal(t, "50", trade.Notional.String())
}

func TestGuard_MinBalanceToLeave(t *testing.T) {
	prices := &fakePrices{price: dec("20")}
	balances := &fakeBalances{balances: domain.Balances{"USDC": dec("10")}}
	guard := NewGuard(prices, balances, mustPolicy(t, 0, 0, 10), 1, fixedRand(0.5), nil)

	_, err := guard.Size(context.Background(), solUSDC, domain.SideBuy)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	balances.balances["USDC"] = dec("30")
	trade, err := guard.Size(context.Background(), solUSDC, domain.SideBuy)
	require.NoError(t, err)
	assert.Equal(t, "20", trade.Notional.String())
	assert.Equal(t, "1", trade.Quantity.String())
}

func TestGuard_MinBalanceToLeaveIgnoredOnSell(t *testing.T) {
	prices := &fakePrices{price: dec("20")}
	balances := &fakeBalances{balances: domain.Balances{"SOL": dec("1"), "USDC": dec("0")}}
	guard := NewGuard(prices, balances, mustPolicy(t, 0, 0, 10), 1, fixedRand(0.5), nil)

	trade, err := guard.Size(context.Background(), solUSDC, domain.SideSell)
	require.NoError(t, err)
	assert.Equal(t, "1", trade.Quantity.String())
}

func TestGuard_BoundedDraw(t *testing.T) {
	prices := &fakePrices{price: dec("10")}
	balances := &fakeBalances{balances: domain.Balances{"USDC": dec("100")}}
	guard := NewGuard(prices, balances, mustPolicy(t, 10, 30, 0), 1, fixedRand(0.5), nil)

	trade, err := guard.Size(context.Background(), solUSDC, domain.SideBuy)
	require.NoError(t, err)
	assert.Equal(t, "20", trade.Notional.String())
	assert.Equal(t, "2", trade.Quantity.String())
}

func TestGuard_BoundedClampsToAvailable(t *testing.T) {
	prices := &fakePrices{price: dec("10")}
	balances := &fakeBalances{balances: domain.Balances{"USDC": dec("20")}}
	guard := NewGuard(prices, balances, mustPolicy(t, 10, 100, 0), 1, fixedRand(0.999), nil)

	trade, err := guard.Size(context.Background(), solUSDC, domain.SideBuy)
	require.NoError(t, err)
	assert.True(t, trade.Notional.LessThanOrEqual(dec("20")), "notional %s", trade.Notional)
	assert.True(t, trade.Notional.GreaterThanOrEqual(dec("10")), "notional %s", trade.Notional)
}

func TestGuard_BoundedSellConvertsToBase(t *testing.T) {
	prices := &fakePrices{price: dec("20")}
	balances := &fakeBalances{balances: domain.Balances{"SOL": dec("10")}}
	guard := NewGuard(prices, balances, mustPolicy(t, 40, 40, 0), 1, fixedRand(0.3), nil)

	trade, err := guard.Size(context.Background(), solUSDC, domain.SideSell)
	require.NoError(t, err)
	assert.Equal(t, "2", trade.Quantity.String())
	assert.Equal(t, "40", trade.Notional.String())
}

func TestGuard_BelowEightyPercentOfMin(t *testing.T) {
	prices := &fakePrices{price: dec("10")}
	balances := &fakeBalances{balances: domain.Balances{"USDC": dec("7.9")}}
	guard := NewGuard(prices, balances, mustPolicy(t, 10, 20, 0), 1, fixedRand(0.5), nil)

	_, err := guard.Size(context.Background(), solUSDC, domain.SideBuy)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestGuard_MinAboveClampedMaxTradesAtClampedMax(t *testing.T) {
	prices := &fakePrices{price: dec("1")}
	balances := &fakeBalances{balances: domain.Balances{"USDC": dec("8")}}
	guard := NewGuard(prices, balances, mustPolicy(t, 10, 20, 0), 1, fixedRand(0.7), nil)

	trade, err := guard.Size(context.Background(), solUSDC, domain.SideBuy)
	require.NoError(t, err)
	assert.Equal(t, "8", trade.Notional.String())
}

func TestGuard_RefetchesEveryCall(t *testing.T) {
	prices := &fakePrices{price: dec("20")}
	balances := &fakeBalances{balances: domain.Balances{"USDC": dec("100")}}
	guard := NewGuard(prices, balances, mustPolicy(t, 0, 0, 0), 1, nil, nil)

	_, err := guard.Size(context.Background(), solUSDC, domain.SideBuy)
	require.NoError(t, err)
	prices.price = dec("25")
	trade, err := guard.Size(context.Background(), solUSDC, domain.SideBuy)
	require.NoError(t, err)

	assert.Equal(t, 2, prices.calls)
	assert.Equal(t, 2, balances.calls)
	assert.Equal(t, "4", trade.Quantity.String())
}
