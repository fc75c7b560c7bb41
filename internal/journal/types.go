package journal

import "time"

// EventType 表示日志事件类型。
type EventType string

const (
	EventSessionStarted  EventType = "session_started"
	EventTrade           EventType = "trade"
	EventSessionFinished EventType = "session_finished"
	EventError           EventType = "error"
)

// Event 封装通用事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SessionStartedPayload 记录会话参数。
type SessionStartedPayload struct {
	SessionID    string   `json:"session_id"`
	Account      string   `json:"account"`
	Mode         string   `json:"mode"`
	Pairs        []string `json:"pairs"`
	Policy       string   `json:"policy"`
	NeededVolume string   `json:"needed_volume"`
}

// TradePayload 记录一笔确认成交的委托。
type TradePayload struct {
	SessionID string `json:"session_id"`
	Account   string `json:"account"`
	OrderID   string `json:"order_id"`
	Pair      string `json:"pair"`
	Side      string `json:"side"`
	Quantity  string `json:"quantity"`
	Price     string `json:"price"`
	Notional  string `json:"notional"`
	Volume    string `json:"volume"`
	Attempts  int    `json:"attempts"`
}

// SessionFinishedPayload 汇总会话结果。
type SessionFinishedPayload struct {
	SessionID string `json:"session_id"`
	Account   string `json:"account"`
	Deals     int    `json:"deals"`
	Trades    int    `json:"trades"`
	Volume    string `json:"volume"`
	Reason    string `json:"reason"`
	Duration  string `json:"duration"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
