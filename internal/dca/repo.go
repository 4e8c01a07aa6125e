package dca

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"swapbot/internal/store"
)

// ErrNotFound 表示定投订单不存在或不属于该用户。
var ErrNotFound = errors.New("dca: 订单不存在")

// Repo 管理定投订单及其执行历史。
type Repo struct {
	db *sql.DB
}

// NewRepo 初始化定投存储，创建所需表结构。
func NewRepo(store *store.Store) (*Repo, error) {
	if store == nil {
		return nil, errors.New("dca: store 不能为空")
	}

	r := &Repo{db: store.DB()}
	if err := r.initSchema(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repo) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS dca_orders (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	from_coin TEXT NOT NULL,
	to_coin TEXT NOT NULL,
	amount REAL NOT NULL,
	frequency TEXT NOT NULL,
	settle_address TEXT NOT NULL,
	refund_address TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL,
	total_executions INTEGER NOT NULL DEFAULT 0,
	max_executions INTEGER NOT NULL DEFAULT 0,
	last_executed_at TEXT,
	next_execution_at TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dca_orders_owner ON dca_orders(owner);
CREATE INDEX IF NOT EXISTS idx_dca_orders_due ON dca_orders(active, next_execution_at);

CREATE TABLE IF NOT EXISTS dca_executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id TEXT NOT NULL,
	executed_at TEXT NOT NULL,
	shift_id TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	success INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dca_executions_order ON dca_executions(order_id);
`
	if _, err := r.db.Exec(stmt); err != nil {
		return fmt.Errorf("dca: 初始化表失败: %w", err)
	}
	return nil
}

// Insert 写入新订单。
func (r *Repo) Insert(ctx context.Context, o Order) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dca_orders (id, owner, from_coin, to_coin, amount, frequency, settle_address, refund_address,
		                        active, total_executions, max_executions, last_executed_at, next_execution_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Owner, o.Pair.FromCoin, o.Pair.ToCoin, o.Amount, string(o.Frequency), o.SettleAddress, o.RefundAddress,
		boolToInt(o.Active), o.TotalExecutions, o.MaxExecutions,
		formatTimePtr(o.LastExecutedAt), o.NextExecutionAt.UTC().Format(time.RFC3339), o.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("dca: 写入订单失败: %w", err)
	}
	return nil
}

// Update 覆盖写订单的可变字段。
func (r *Repo) Update(ctx context.Context, o Order) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE dca_orders SET active = ?, total_executions = ?, last_executed_at = ?, next_execution_at = ? WHERE id = ?`,
		boolToInt(o.Active), o.TotalExecutions, formatTimePtr(o.LastExecutedAt),
		o.NextExecutionAt.UTC().Format(time.RFC3339), o.ID,
	)
	if err != nil {
		return fmt.Errorf("dca: 更新订单失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("dca: 获取更新行数失败: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get 返回属于该用户的订单。
func (r *Repo) Get(ctx context.Context, owner, id string) (Order, error) {
	row := r.db.QueryRowContext(ctx, selectOrders+` WHERE id = ? AND owner = ?`, id, owner)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// ListDue 返回到期待执行的活跃订单快照。
func (r *Repo) ListDue(ctx context.Context, now time.Time) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx,
		selectOrders+` WHERE active = 1 AND next_execution_at <= ? ORDER BY next_execution_at`,
		now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("dca: 查询到期订单失败: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// ListActiveByOwner 返回指定用户的活跃订单。
func (r *Repo) ListActiveByOwner(ctx context.Context, owner string) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx,
		selectOrders+` WHERE active = 1 AND owner = ? ORDER BY created_at`, owner)
	if err != nil {
		return nil, fmt.Errorf("dca: 查询用户订单失败: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// Delete 删除属于该用户的订单及其历史。
func (r *Repo) Delete(ctx context.Context, owner, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dca_orders WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("dca: 删除订单失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("dca: 获取删除行数失败: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM dca_executions WHERE order_id = ?`, id); err != nil {
		return fmt.Errorf("dca: 删除执行历史失败: %w", err)
	}
	return nil
}

// AppendExecution 追加一条执行历史。
func (r *Repo) AppendExecution(ctx context.Context, e Execution) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dca_executions (order_id, executed_at, shift_id, error, success) VALUES (?, ?, ?, ?, ?)`,
		e.OrderID, e.ExecutedAt.UTC().Format(time.RFC3339), e.ShiftID, e.Error, boolToInt(e.Success),
	)
	if err != nil {
		return fmt.Errorf("dca: 写入执行历史失败: %w", err)
	}
	return nil
}

// History 按时间顺序返回订单的执行历史。
func (r *Repo) History(ctx context.Context, orderID string) ([]Execution, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT order_id, executed_at, shift_id, error, success FROM dca_executions WHERE order_id = ? ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("dca: 查询执行历史失败: %w", err)
	}
	defer rows.Close()

	var history []Execution
	for rows.Next() {
		var (
			e          Execution
			executedAt string
			success    int
		)
		if err := rows.Scan(&e.OrderID, &executedAt, &e.ShiftID, &e.Error, &success); err != nil {
			return nil, fmt.Errorf("dca: 读取执行历史失败: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, executedAt); err == nil {
			e.ExecutedAt = ts
		}
		e.Success = success != 0
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dca: 遍历执行历史失败: %w", err)
	}
	return history, nil
}

const selectOrders = `SELECT id, owner, from_coin, to_coin, amount, frequency, settle_address, refund_address,
	active, total_executions, max_executions, last_executed_at, next_execution_at, created_at FROM dca_orders`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		o              Order
		frequency      string
		active         int
		lastExecutedAt sql.NullString
		nextExecution  string
		createdAt      string
	)
	if err := row.Scan(&o.ID, &o.Owner, &o.Pair.FromCoin, &o.Pair.ToCoin, &o.Amount, &frequency,
		&o.SettleAddress, &o.RefundAddress, &active, &o.TotalExecutions, &o.MaxExecutions,
		&lastExecutedAt, &nextExecution, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, err
		}
		return Order{}, fmt.Errorf("dca: 读取订单失败: %w", err)
	}
	o.Frequency = Frequency(frequency)
	o.Active = active != 0
	o.LastExecutedAt = parseTimePtr(lastExecutedAt)
	if ts, err := time.Parse(time.RFC3339, nextExecution); err == nil {
		o.NextExecutionAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		o.CreatedAt = ts
	}
	return o, nil
}

func scanOrders(rows *sql.Rows) ([]Order, error) {
	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dca: 遍历订单失败: %w", err)
	}
	return orders, nil
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
