package limitorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"swapbot/internal/exchange"
	"swapbot/internal/store"
)

// ErrNotFound 表示限价单不存在或不属于该用户。
var ErrNotFound = errors.New("limitorder: 订单不存在")

// Repo 管理限价单表。
type Repo struct {
	db *sql.DB
}

// NewRepo 初始化限价单存储，创建所需表结构。
func NewRepo(store *store.Store) (*Repo, error) {
	if store == nil {
		return nil, errors.New("limitorder: store 不能为空")
	}

	r := &Repo{db: store.DB()}
	if err := r.initSchema(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repo) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS limit_orders (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	from_coin TEXT NOT NULL,
	to_coin TEXT NOT NULL,
	amount REAL NOT NULL,
	target_rate REAL NOT NULL,
	direction TEXT NOT NULL,
	settle_address TEXT NOT NULL,
	refund_address TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL,
	executed_at TEXT,
	shift_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_limit_orders_owner ON limit_orders(owner);
CREATE INDEX IF NOT EXISTS idx_limit_orders_active ON limit_orders(active);
`
	if _, err := r.db.Exec(stmt); err != nil {
		return fmt.Errorf("limitorder: 初始化表失败: %w", err)
	}
	return nil
}

// Insert 写入新限价单。
func (r *Repo) Insert(ctx context.Context, o Order) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO limit_orders (id, owner, from_coin, to_coin, amount, target_rate, direction,
		                          settle_address, refund_address, active, executed_at, shift_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Owner, o.Pair.FromCoin, o.Pair.ToCoin, o.Amount, o.TargetRate, string(o.Direction),
		o.SettleAddress, o.RefundAddress, boolToInt(o.Active), formatTimePtr(o.ExecutedAt), o.ShiftID,
		o.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("limitorder: 写入订单失败: %w", err)
	}
	return nil
}

// Update 覆盖写限价单的可变字段。
func (r *Repo) Update(ctx context.Context, o Order) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE limit_orders SET active = ?, executed_at = ?, shift_id = ? WHERE id = ?`,
		boolToInt(o.Active), formatTimePtr(o.ExecutedAt), o.ShiftID, o.ID,
	)
	if err != nil {
		return fmt.Errorf("limitorder: 更新订单失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("limitorder: 获取更新行数失败: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive 返回全部活跃限价单，供一次评估周期使用。
func (r *Repo) ListActive(ctx context.Context) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx, selectOrders+` WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("limitorder: 查询活跃订单失败: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// ListActiveByOwner 返回指定用户的活跃限价单。
func (r *Repo) ListActiveByOwner(ctx context.Context, owner string) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx, selectOrders+` WHERE active = 1 AND owner = ? ORDER BY created_at`, owner)
	if err != nil {
		return nil, fmt.Errorf("limitorder: 查询用户订单失败: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// Get 返回属于该用户的限价单。
func (r *Repo) Get(ctx context.Context, owner, id string) (Order, error) {
	row := r.db.QueryRowContext(ctx, selectOrders+` WHERE id = ? AND owner = ?`, id, owner)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// Delete 删除属于该用户的仍活跃的限价单。
func (r *Repo) Delete(ctx context.Context, owner, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM limit_orders WHERE id = ? AND owner = ? AND active = 1`, id, owner)
	if err != nil {
		return fmt.Errorf("limitorder: 删除订单失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("limitorder: 获取删除行数失败: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const selectOrders = `SELECT id, owner, from_coin, to_coin, amount, target_rate, direction,
	settle_address, refund_address, active, executed_at, shift_id, created_at FROM limit_orders`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		o          Order
		direction  string
		active     int
		executedAt sql.NullString
		createdAt  string
	)
	if err := row.Scan(&o.ID, &o.Owner, &o.Pair.FromCoin, &o.Pair.ToCoin, &o.Amount, &o.TargetRate,
		&direction, &o.SettleAddress, &o.RefundAddress, &active, &executedAt, &o.ShiftID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, err
		}
		return Order{}, fmt.Errorf("limitorder: 读取订单失败: %w", err)
	}
	o.Direction = exchange.Direction(direction)
	o.Active = active != 0
	o.ExecutedAt = parseTimePtr(executedAt)
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
		return nil, fmt.Errorf("limitorder: 遍历订单失败: %w", err)
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
