package market

import "strings"

// defaultPrecision 为常见资产的下单数量精度（小数位数）。
var defaultPrecision = map[string]int32{
	"SOL":    2,
	"USDC":   2,
	"PYTH":   1,
	"JTO":    1,
	"HNT":    1,
	"MOBILE": 0,
	"BONK":   0,
	"WIF":    0,
	"USDT":   0,
	"JUP":    2,
}

// PrecisionTable 维护资产到数量精度的静态映射，未知资产按 0 位处理。
type PrecisionTable struct {
	decimals map[string]int32
}

// NewPrecisionTable 在默认精度基础上叠加配置覆盖项。
func NewPrecisionTable(overrides map[string]int32) *PrecisionTable {
	decimals := make(map[string]int32, len(defaultPrecision)+len(overrides))
	for asset, d := range defaultPrecision {
		decimals[asset] = d
	}
	for asset, d := range overrides {
		decimals[strings.ToUpper(asset)] = d
	}
	return &PrecisionTable{decimals: decimals}
}

// Decimals 返回资产允许的小数位数。
func (t *PrecisionTable) Decimals(asset string) int32 {
	if t == nil {
		return 0
	}
	return t.decimals[strings.ToUpper(asset)]
}
