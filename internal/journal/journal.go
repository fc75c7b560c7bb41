package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"volume-farm/internal/store"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS journal_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_events_type ON journal_events(event_type);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS journal_events (
	id BIGSERIAL PRIMARY KEY,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_events_type ON journal_events(event_type);
`

// Journal 负责持久化会话事件，只追加不修改。
type Journal struct {
	db     *sqlx.DB
	logger *zap.Logger
}

type eventRow struct {
	Type      string `db:"event_type"`
	Payload   string `db:"payload"`
	CreatedAt string `db:"created_at"`
}

// New 初始化事件日志，创建所需表结构。
func New(st *store.Store, logger *zap.Logger) (*Journal, error) {
	if st == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &Journal{
		db:     st.DB(),
		logger: logger,
	}

	if err := j.initSchema(); err != nil {
		return nil, err
	}

	return j, nil
}

func (j *Journal) initSchema() error {
	stmt := sqliteSchema
	if j.db.DriverName() == store.DriverPostgres {
		stmt = postgresSchema
	}
	if _, err := j.db.Exec(stmt); err != nil {
		return fmt.Errorf("journal: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (j *Journal) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("journal: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = j.db.ExecContext(ctx,
		j.db.Rebind(`INSERT INTO journal_events (event_type, payload, created_at) VALUES (?, ?, ?)`),
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal: 写入事件失败: %w", err)
	}

	return nil
}

// RecordSessionStarted 记录会话开始。
func (j *Journal) RecordSessionStarted(ctx context.Context, payload SessionStartedPayload) {
	j.recordQuietly(ctx, EventSessionStarted, payload, "记录会话开始事件失败")
}

// RecordTrade 记录成交。
func (j *Journal) RecordTrade(ctx context.Context, payload TradePayload) {
	j.recordQuietly(ctx, EventTrade, payload, "记录成交事件失败")
}

// RecordSessionFinished 记录会话结束。
func (j *Journal) RecordSessionFinished(ctx context.Context, payload SessionFinishedPayload) {
	j.recordQuietly(ctx, EventSessionFinished, payload, "记录会话结束事件失败")
}

// RecordError 记录异常。
func (j *Journal) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Context: ctxMap,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	j.recordQuietly(ctx, EventError, payload, "记录异常事件失败")
}

// recordQuietly 写入失败只记日志，不影响交易流程。会话结束时 ctx 可能已取消，因此脱离取消信号写入。
func (j *Journal) recordQuietly(ctx context.Context, typ EventType, payload interface{}, failMsg string) {
	if err := j.Record(context.WithoutCancel(ctx), Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		j.logger.Warn(failMsg, zap.Error(err))
	}
}

// ListEvents 按类型检索最近事件。
func (j *Journal) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM journal_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var rows []eventRow
	if err := j.db.SelectContext(ctx, &rows, j.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("journal: 查询事件失败: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		ts, parseErr := time.Parse(time.RFC3339Nano, row.CreatedAt)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(row.Type),
			Timestamp: ts,
			Payload:   json.RawMessage(row.Payload),
		})
	}

	return events, nil
}
