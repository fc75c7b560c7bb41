package domain

import "errors"

var (
	// ErrInsufficientFunds 余额不足或触及保留余额，本账户会话终止，不重试。
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrFokRejected FOK 委托无法立即全部成交，需重新定价后重试。
	ErrFokRejected = errors.New("fill or kill order rejected")
	// ErrExecutionFailed 交易所返回失败或回执缺少创建时间，按原参数重试。
	ErrExecutionFailed = errors.New("order execution failed")
	// ErrBookTooShallow 订单簿档位少于配置深度。
	ErrBookTooShallow = errors.New("order book too shallow")
)

// IsTradeStop 判断错误是否属于预期内的会话终止条件。
func IsTradeStop(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrFokRejected) ||
		errors.Is(err, ErrExecutionFailed) ||
		errors.Is(err, ErrBookTooShallow)
}
