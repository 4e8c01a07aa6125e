package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"swapbot/internal/store"
)

// Service 负责持久化监控事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。nil Service 上的调用为空操作，方便测试场景省略监控。
func (s *Service) Record(ctx context.Context, event Event) error {
	if s == nil {
		return nil
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordAlertTriggered 记录警报触发。
func (s *Service) RecordAlertTriggered(ctx context.Context, payload AlertTriggeredPayload) {
	s.record(ctx, EventAlertTriggered, payload)
}

// RecordDCAExecution 记录定投执行。
func (s *Service) RecordDCAExecution(ctx context.Context, payload DCAExecutionPayload) {
	s.record(ctx, EventDCAExecution, payload)
}

// RecordLimitTriggered 记录限价单触发。
func (s *Service) RecordLimitTriggered(ctx context.Context, payload LimitTriggeredPayload) {
	s.record(ctx, EventLimitTriggered, payload)
}

// RecordLimitExecution 记录限价单执行结果。
func (s *Service) RecordLimitExecution(ctx context.Context, payload LimitExecutionPayload) {
	s.record(ctx, EventLimitExecution, payload)
}

// RecordShiftStatus 记录兑换单状态变化。
func (s *Service) RecordShiftStatus(ctx context.Context, payload ShiftStatusPayload) {
	s.record(ctx, EventShiftStatus, payload)
}

// RecordError 记录引擎内部错误。
func (s *Service) RecordError(ctx context.Context, message string, err error, extra map[string]interface{}) {
	payload := EngineErrorPayload{
		Message: message,
		Context: extra,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	s.record(ctx, EventEngineError, payload)
}

func (s *Service) record(ctx context.Context, typ EventType, payload interface{}) {
	if s == nil {
		return
	}
	if err := s.Record(ctx, Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("记录监控事件失败", zap.String("type", string(typ)), zap.Error(err))
	}
}
