package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"swapbot/internal/exchange"
	"swapbot/internal/store"
)

// ErrNotFound 表示警报不存在或不属于该用户。
var ErrNotFound = errors.New("alert: 警报不存在")

// Repo 管理警报表。
type Repo struct {
	db *sql.DB
}

// NewRepo 初始化警报存储，创建所需表结构。
func NewRepo(store *store.Store) (*Repo, error) {
	if store == nil {
		return nil, errors.New("alert: store 不能为空")
	}

	r := &Repo{db: store.DB()}
	if err := r.initSchema(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repo) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	from_coin TEXT NOT NULL,
	to_coin TEXT NOT NULL,
	target_rate REAL NOT NULL,
	direction TEXT NOT NULL,
	active INTEGER NOT NULL,
	triggered INTEGER NOT NULL,
	triggered_at TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_owner ON alerts(owner);
CREATE INDEX IF NOT EXISTS idx_alerts_active ON alerts(active);
`
	if _, err := r.db.Exec(stmt); err != nil {
		return fmt.Errorf("alert: 初始化表失败: %w", err)
	}
	return nil
}

// Insert 写入新警报。
func (r *Repo) Insert(ctx context.Context, a Alert) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alerts (id, owner, from_coin, to_coin, target_rate, direction, active, triggered, triggered_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Owner, a.Pair.FromCoin, a.Pair.ToCoin, a.TargetRate, string(a.Direction),
		boolToInt(a.Active), boolToInt(a.Triggered), formatTimePtr(a.TriggeredAt), a.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("alert: 写入警报失败: %w", err)
	}
	return nil
}

// Update 覆盖写警报的可变字段。
func (r *Repo) Update(ctx context.Context, a Alert) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET active = ?, triggered = ?, triggered_at = ? WHERE id = ?`,
		boolToInt(a.Active), boolToInt(a.Triggered), formatTimePtr(a.TriggeredAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("alert: 更新警报失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("alert: 获取更新行数失败: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive 返回全部活跃警报，供一次评估周期使用。
func (r *Repo) ListActive(ctx context.Context) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner, from_coin, to_coin, target_rate, direction, active, triggered, triggered_at, created_at
		 FROM alerts WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("alert: 查询活跃警报失败: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// ListActiveByOwner 返回指定用户的活跃警报。
func (r *Repo) ListActiveByOwner(ctx context.Context, owner string) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner, from_coin, to_coin, target_rate, direction, active, triggered, triggered_at, created_at
		 FROM alerts WHERE active = 1 AND owner = ? ORDER BY created_at`, owner)
	if err != nil {
		return nil, fmt.Errorf("alert: 查询用户警报失败: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// Delete 删除属于该用户的警报。
func (r *Repo) Delete(ctx context.Context, owner, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("alert: 删除警报失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("alert: 获取删除行数失败: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAlerts(rows *sql.Rows) ([]Alert, error) {
	var alerts []Alert
	for rows.Next() {
		var (
			a           Alert
			direction   string
			active      int
			triggered   int
			triggeredAt sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&a.ID, &a.Owner, &a.Pair.FromCoin, &a.Pair.ToCoin, &a.TargetRate,
			&direction, &active, &triggered, &triggeredAt, &createdAt); err != nil {
			return nil, fmt.Errorf("alert: 读取警报失败: %w", err)
		}
		a.Direction = exchange.Direction(direction)
		a.Active = active != 0
		a.Triggered = triggered != 0
		a.TriggeredAt = parseTimePtr(triggeredAt)
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			a.CreatedAt = ts
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("alert: 遍历警报失败: %w", err)
	}
	return alerts, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTimePtr(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil
	}
	return &ts
}
