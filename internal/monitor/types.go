package monitor

import "time"

// EventType 表示监控事件类型。
type EventType string

const (
	EventAlertTriggered EventType = "alert_triggered"
	EventDCAExecution   EventType = "dca_execution"
	EventLimitTriggered EventType = "limit_triggered"
	EventLimitExecution EventType = "limit_execution"
	EventShiftStatus    EventType = "shift_status"
	EventEngineError    EventType = "engine_error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// AlertTriggeredPayload 记录一次警报触发。
type AlertTriggeredPayload struct {
	AlertID    string  `json:"alertId"`
	Owner      string  `json:"owner"`
	Symbol     string  `json:"symbol"`
	TargetRate float64 `json:"targetRate"`
	Rate       float64 `json:"rate"`
	Direction  string  `json:"direction"`
}

// DCAExecutionPayload 记录一次定投执行（成功或失败）。
type DCAExecutionPayload struct {
	OrderID string  `json:"orderId"`
	Owner   string  `json:"owner"`
	Symbol  string  `json:"symbol"`
	Amount  float64 `json:"amount"`
	ShiftID string  `json:"shiftId,omitempty"`
	Error   string  `json:"error,omitempty"`
	Success bool    `json:"success"`
}

// LimitTriggeredPayload 记录限价单触发。
type LimitTriggeredPayload struct {
	OrderID    string  `json:"orderId"`
	Owner      string  `json:"owner"`
	Symbol     string  `json:"symbol"`
	TargetRate float64 `json:"targetRate"`
	Rate       float64 `json:"rate"`
}

// LimitExecutionPayload 记录限价单触发后的执行结果。
type LimitExecutionPayload struct {
	OrderID string `json:"orderId"`
	Owner   string `json:"owner"`
	ShiftID string `json:"shiftId,omitempty"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// ShiftStatusPayload 记录手动兑换单的状态变化。
type ShiftStatusPayload struct {
	Owner      string `json:"owner"`
	ShiftID    string `json:"shiftId"`
	PrevStatus string `json:"prevStatus"`
	Status     string `json:"status"`
}

// EngineErrorPayload 记录引擎内部错误。
type EngineErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
