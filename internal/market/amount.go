package market

import "github.com/shopspring/decimal"

// FixAmount 将数量向零截断到 decimals 位小数，返回去掉多余尾零的字符串。
// 只截断不四舍五入，避免下单数量超过可用余额。
func FixAmount(qty decimal.Decimal, decimals int32) string {
	return FixDecimal(qty, decimals).String()
}

// FixDecimal 与 FixAmount 相同，但返回 decimal 以便继续计算。
func FixDecimal(qty decimal.Decimal, decimals int32) decimal.Decimal {
	if decimals < 0 {
		decimals = 0
	}
	return qty.Truncate(decimals)
}
