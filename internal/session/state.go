package session

import (
	"time"

	"github.com/shopspring/decimal"
)

// State 为会话状态机的状态。
type State int

const (
	StateSelectingPair State = iota
	StateBuying
	StateSelling
	StateDealDelay
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSelectingPair:
		return "selecting_pair"
	case StateBuying:
		return "buying"
	case StateSelling:
		return "selling"
	case StateDealDelay:
		return "deal_delay"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// StopReason 说明会话结束的原因。
type StopReason string

const (
	ReasonNeededVolume      StopReason = "needed_volume"
	ReasonInsufficientFunds StopReason = "insufficient_funds"
	ReasonRetriesExhausted  StopReason = "retries_exhausted"
	ReasonCanceled          StopReason = "canceled"
	ReasonSoldAll           StopReason = "sold_all"
	ReasonError             StopReason = "error"
)

// Result 汇总一次会话。
type Result struct {
	SessionID string
	Account   string
	Deals     int
	Trades    int
	Volume    decimal.Decimal
	Reason    StopReason
	Err       error
	Duration  time.Duration
}
