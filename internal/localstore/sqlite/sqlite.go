// Package sqlite implements the device-local store on an embedded SQLite
// database. The file survives process restarts and power loss; WAL mode plus
// a single-writer connection pool keeps concurrent readers from blocking the
// sale path.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"dukanpos/terminal/internal/clock"
	"dukanpos/terminal/internal/domain"
	"dukanpos/terminal/internal/localstore"
	"dukanpos/terminal/internal/xid"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the local database at path and runs the
// idempotent schema migration.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local db: %w", err)
	}
	// SQLite allows one writer at a time; funnel all statements through a
	// single connection so we never trip SQLITE_BUSY mid-transaction.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			barcode TEXT NOT NULL DEFAULT '',
			category_id TEXT NOT NULL DEFAULT '',
			cost_price_cents INTEGER NOT NULL DEFAULT 0,
			sale_price_cents INTEGER NOT NULL DEFAULT 0,
			wholesale_price_cents INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS payment_methods (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS inventory (
			product_id TEXT NOT NULL,
			branch_id TEXT NOT NULL,
			quantity INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (product_id, branch_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pending_sales (
			local_id TEXT PRIMARY KEY,
			temp_invoice_number TEXT NOT NULL UNIQUE,
			server_invoice_number TEXT NOT NULL DEFAULT '',
			invoice_type TEXT NOT NULL,
			total_cents INTEGER NOT NULL,
			tax_cents INTEGER NOT NULL DEFAULT 0,
			discount_cents INTEGER NOT NULL DEFAULT 0,
			profit_cents INTEGER NOT NULL DEFAULT 0,
			payment_method_id TEXT NOT NULL DEFAULT '',
			branch_id TEXT NOT NULL,
			branch_name TEXT NOT NULL DEFAULT '',
			customer_id TEXT NOT NULL DEFAULT '',
			customer_name TEXT NOT NULL DEFAULT '',
			drawer_id TEXT NOT NULL DEFAULT '',
			drawer_name TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			credit_cents INTEGER NOT NULL DEFAULT 0,
			user_id TEXT NOT NULL DEFAULT '',
			user_name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			synced_at TEXT,
			sync_status TEXT NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			device_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_sales_status ON pending_sales (sync_status)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_sales_created ON pending_sales (created_at)`,
		`CREATE TABLE IF NOT EXISTS pending_sale_items (
			local_id TEXT NOT NULL REFERENCES pending_sales(local_id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			product_id TEXT NOT NULL,
			product_name TEXT NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL,
			unit_price_cents INTEGER NOT NULL,
			unit_cost_cents INTEGER NOT NULL DEFAULT 0,
			discount_cents INTEGER NOT NULL DEFAULT 0,
			branch_id TEXT NOT NULL,
			variant_id TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			selected_colors TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (local_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS payment_entries (
			local_id TEXT NOT NULL REFERENCES pending_sales(local_id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			entry_id TEXT NOT NULL,
			amount_cents INTEGER NOT NULL,
			method_id TEXT NOT NULL,
			method_name TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (local_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_log (
			id TEXT PRIMARY KEY,
			pending_sale_id TEXT NOT NULL,
			action TEXT NOT NULL,
			at TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_log_sale ON sync_log (pending_sale_id)`,
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate local db: %w", err)
		}
	}
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES ('schema_version', '1') ON CONFLICT(key) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

func encodeTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.In(clock.BusinessZone)
}

func encodeColors(m map[string]int) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeColors(s string) map[string]int {
	if s == "" {
		return nil
	}
	var m map[string]int
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the error text;
	// SQLITE_CONSTRAINT_UNIQUE and _PRIMARYKEY both mention the keyword.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) UpsertProducts(ctx context.Context, products []domain.Product) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, p := range products {
		if p.ID == "" {
			return localstore.ErrInvalidRecord
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, name, barcode, category_id, cost_price_cents, sale_price_cents, wholesale_price_cents, active, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name=excluded.name, barcode=excluded.barcode, category_id=excluded.category_id,
				cost_price_cents=excluded.cost_price_cents, sale_price_cents=excluded.sale_price_cents,
				wholesale_price_cents=excluded.wholesale_price_cents, active=excluded.active,
				updated_at=excluded.updated_at`,
			p.ID, p.Name, p.Barcode, p.CategoryID, p.CostPriceCents, p.SalePriceCents,
			p.WholesalePriceCents, boolToInt(p.Active), encodeTime(p.UpdatedAt),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, barcode, category_id, cost_price_cents, sale_price_cents, wholesale_price_cents, active, updated_at
		FROM products WHERE id = ?`, id)
	return scanProduct(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	var active int
	var updated string
	err := row.Scan(&p.ID, &p.Name, &p.Barcode, &p.CategoryID, &p.CostPriceCents,
		&p.SalePriceCents, &p.WholesalePriceCents, &active, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Active = active != 0
	p.UpdatedAt = decodeTime(updated)
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, barcode, category_id, cost_price_cents, sale_price_cents, wholesale_price_cents, active, updated_at
		FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) SetProductCost(ctx context.Context, productID string, costCents int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET cost_price_cents = ?, updated_at = ? WHERE id = ?`,
		costCents, encodeTime(time.Now().In(clock.BusinessZone)), productID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return localstore.ErrNotFound
	}
	return nil
}

func (s *Store) UpsertPaymentMethods(ctx context.Context, methods []domain.PaymentMethod) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, m := range methods {
		if m.ID == "" {
			return localstore.ErrInvalidRecord
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payment_methods (id, name, type) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type`,
			m.ID, m.Name, m.Type)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	var m domain.PaymentMethod
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, type FROM payment_methods WHERE id = ?`, id).
		Scan(&m.ID, &m.Name, &m.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, type FROM payment_methods ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PaymentMethod
	for rows.Next() {
		var m domain.PaymentMethod
		if err := rows.Scan(&m.ID, &m.Name, &m.Type); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) UpsertInventory(ctx context.Context, records []domain.InventoryRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, r := range records {
		if r.ProductID == "" || r.BranchID == "" {
			return localstore.ErrInvalidRecord
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO inventory (product_id, branch_id, quantity, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(product_id, branch_id) DO UPDATE SET quantity=excluded.quantity, updated_at=excluded.updated_at`,
			r.ProductID, r.BranchID, r.Quantity, encodeTime(r.UpdatedAt))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetInventory(ctx context.Context, productID, branchID string) (*domain.InventoryRecord, error) {
	var r domain.InventoryRecord
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT product_id, branch_id, quantity, updated_at FROM inventory WHERE product_id = ? AND branch_id = ?`,
		productID, branchID).Scan(&r.ProductID, &r.BranchID, &r.Quantity, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.UpdatedAt = decodeTime(updated)
	return &r, nil
}

func (s *Store) AdjustInventory(ctx context.Context, productID, branchID string, delta int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	qty, err := adjustInventoryTx(ctx, tx, productID, branchID, delta)
	if err != nil {
		return 0, err
	}
	return qty, tx.Commit()
}

func adjustInventoryTx(ctx context.Context, tx *sql.Tx, productID, branchID string, delta int) (int, error) {
	now := encodeTime(time.Now().In(clock.BusinessZone))
	var qty int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO inventory (product_id, branch_id, quantity, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(product_id, branch_id) DO UPDATE SET quantity = inventory.quantity + ?, updated_at = ?
		RETURNING quantity`,
		productID, branchID, delta, now, delta, now).Scan(&qty)
	if err != nil {
		return 0, err
	}
	return qty, nil
}

func (s *Store) EnqueueSale(ctx context.Context, sale *domain.PendingSale) error {
	if sale == nil || sale.LocalID == "" || len(sale.Items) == 0 {
		return localstore.ErrInvalidRecord
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pending_sales (
			local_id, temp_invoice_number, server_invoice_number, invoice_type,
			total_cents, tax_cents, discount_cents, profit_cents,
			payment_method_id, branch_id, branch_name, customer_id, customer_name,
			drawer_id, drawer_name, notes, credit_cents, user_id, user_name,
			created_at, synced_at, sync_status, last_error, retry_count, device_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?)`,
		sale.LocalID, sale.TempInvoiceNumber, sale.ServerInvoiceNumber, sale.InvoiceType,
		sale.TotalCents, sale.TaxCents, sale.DiscountCents, sale.ProfitCents,
		sale.PaymentMethodID, sale.BranchID, sale.BranchName, sale.CustomerID, sale.CustomerName,
		sale.DrawerID, sale.DrawerName, sale.Notes, sale.CreditCents, sale.UserID, sale.UserName,
		encodeTime(sale.CreatedAt), sale.SyncStatus, sale.LastError, sale.RetryCount, sale.DeviceID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return localstore.ErrDuplicateInvoiceNumber
		}
		return err
	}
	for i, item := range sale.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pending_sale_items (
				local_id, seq, product_id, product_name, quantity,
				unit_price_cents, unit_cost_cents, discount_cents,
				branch_id, variant_id, notes, selected_colors
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sale.LocalID, i, item.ProductID, item.ProductName, item.Quantity,
			item.UnitPriceCents, item.UnitCostCents, item.DiscountCents,
			item.BranchID, item.VariantID, item.Notes, encodeColors(item.SelectedColors),
		)
		if err != nil {
			return err
		}
		if _, err := adjustInventoryTx(ctx, tx, item.ProductID, item.BranchID, -item.Quantity); err != nil {
			return err
		}
	}
	for i, p := range sale.Payments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payment_entries (local_id, seq, entry_id, amount_cents, method_id, method_name)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sale.LocalID, i, p.ID, p.AmountCents, p.MethodID, p.MethodName)
		if err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_log (id, pending_sale_id, action, at, detail, error)
		VALUES (?, ?, ?, ?, ?, '')`,
		xid.New("log"), sale.LocalID, domain.SyncActionCreate, encodeTime(sale.CreatedAt), sale.TempInvoiceNumber)
	if err != nil {
		return err
	}
	return tx.Commit()
}

const saleColumns = `
	local_id, temp_invoice_number, server_invoice_number, invoice_type,
	total_cents, tax_cents, discount_cents, profit_cents,
	payment_method_id, branch_id, branch_name, customer_id, customer_name,
	drawer_id, drawer_name, notes, credit_cents, user_id, user_name,
	created_at, synced_at, sync_status, last_error, retry_count, device_id`

func scanSale(row rowScanner) (*domain.PendingSale, error) {
	var sale domain.PendingSale
	var created string
	var synced sql.NullString
	err := row.Scan(
		&sale.LocalID, &sale.TempInvoiceNumber, &sale.ServerInvoiceNumber, &sale.InvoiceType,
		&sale.TotalCents, &sale.TaxCents, &sale.DiscountCents, &sale.ProfitCents,
		&sale.PaymentMethodID, &sale.BranchID, &sale.BranchName, &sale.CustomerID, &sale.CustomerName,
		&sale.DrawerID, &sale.DrawerName, &sale.Notes, &sale.CreditCents, &sale.UserID, &sale.UserName,
		&created, &synced, &sale.SyncStatus, &sale.LastError, &sale.RetryCount, &sale.DeviceID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sale.CreatedAt = decodeTime(created)
	if synced.Valid {
		t := decodeTime(synced.String)
		sale.SyncedAt = &t
	}
	return &sale, nil
}

func (s *Store) loadSaleChildren(ctx context.Context, sale *domain.PendingSale) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price_cents, unit_cost_cents,
			discount_cents, branch_id, variant_id, notes, selected_colors
		FROM pending_sale_items WHERE local_id = ? ORDER BY seq`, sale.LocalID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.PendingSaleItem
		var colors string
		err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity,
			&item.UnitPriceCents, &item.UnitCostCents, &item.DiscountCents,
			&item.BranchID, &item.VariantID, &item.Notes, &colors)
		if err != nil {
			return err
		}
		item.SelectedColors = decodeColors(colors)
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	prows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, amount_cents, method_id, method_name
		FROM payment_entries WHERE local_id = ? ORDER BY seq`, sale.LocalID)
	if err != nil {
		return err
	}
	defer prows.Close()
	for prows.Next() {
		var p domain.PaymentEntry
		if err := prows.Scan(&p.ID, &p.AmountCents, &p.MethodID, &p.MethodName); err != nil {
			return err
		}
		sale.Payments = append(sale.Payments, p)
	}
	return prows.Err()
}

func (s *Store) GetPendingSale(ctx context.Context, localID string) (*domain.PendingSale, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM pending_sales WHERE local_id = ?`, localID)
	sale, err := scanSale(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadSaleChildren(ctx, sale); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) listSales(ctx context.Context, where string, args ...any) ([]domain.PendingSale, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+saleColumns+` FROM pending_sales `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PendingSale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.loadSaleChildren(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) ListSalesByStatus(ctx context.Context, status string) ([]domain.PendingSale, error) {
	return s.listSales(ctx, `WHERE sync_status = ?`, status)
}

func (s *Store) ListUnsynced(ctx context.Context, maxRetries int) ([]domain.PendingSale, error) {
	if maxRetries > 0 {
		return s.listSales(ctx,
			`WHERE sync_status IN (?, ?) AND retry_count < ?`,
			domain.SyncStatusPending, domain.SyncStatusFailed, maxRetries)
	}
	return s.listSales(ctx,
		`WHERE sync_status IN (?, ?)`,
		domain.SyncStatusPending, domain.SyncStatusFailed)
}

func (s *Store) setStatus(ctx context.Context, localID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append(args, localID)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return localstore.ErrNotFound
	}
	return nil
}

func (s *Store) MarkSyncing(ctx context.Context, localID string) error {
	return s.setStatus(ctx, localID,
		`UPDATE pending_sales SET sync_status = ? WHERE local_id = ?`,
		domain.SyncStatusSyncing)
}

func (s *Store) MarkSynced(ctx context.Context, localID, serverInvoiceNumber string) error {
	now := encodeTime(time.Now().In(clock.BusinessZone))
	return s.setStatus(ctx, localID, `
		UPDATE pending_sales
		SET sync_status = ?, server_invoice_number = ?, synced_at = ?, last_error = ''
		WHERE local_id = ?`,
		domain.SyncStatusSynced, serverInvoiceNumber, now)
}

func (s *Store) MarkFailed(ctx context.Context, localID, reason string) error {
	return s.setStatus(ctx, localID, `
		UPDATE pending_sales
		SET sync_status = ?, last_error = ?, retry_count = retry_count + 1
		WHERE local_id = ?`,
		domain.SyncStatusFailed, reason)
}

func (s *Store) DeleteSale(ctx context.Context, localID string) error {
	return s.setStatus(ctx, localID, `DELETE FROM pending_sales WHERE local_id = ?`)
}

func (s *Store) PurgeSynced(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_sales WHERE sync_status = ?`, domain.SyncStatusSynced)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) CountByStatus(ctx context.Context) (domain.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sync_status, COUNT(*) FROM pending_sales GROUP BY sync_status`)
	if err != nil {
		return domain.QueueStats{}, err
	}
	defer rows.Close()
	var stats domain.QueueStats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.QueueStats{}, err
		}
		switch status {
		case domain.SyncStatusPending:
			stats.Pending = n
		case domain.SyncStatusSyncing:
			stats.Syncing = n
		case domain.SyncStatusSynced:
			stats.Synced = n
		case domain.SyncStatusFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

func (s *Store) AppendSyncLog(ctx context.Context, entry domain.SyncLogEntry) error {
	if entry.ID == "" {
		entry.ID = xid.New("log")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_log (id, pending_sale_id, action, at, detail, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.PendingSaleID, entry.Action, encodeTime(entry.At), entry.Detail, entry.Error)
	return err
}

func (s *Store) ListSyncLog(ctx context.Context, pendingSaleID string) ([]domain.SyncLogEntry, error) {
	query := `SELECT id, pending_sale_id, action, at, detail, error FROM sync_log`
	var args []any
	if pendingSaleID != "" {
		query += ` WHERE pending_sale_id = ?`
		args = append(args, pendingSaleID)
	}
	query += ` ORDER BY at`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SyncLogEntry
	for rows.Next() {
		var e domain.SyncLogEntry
		var at string
		if err := rows.Scan(&e.ID, &e.PendingSaleID, &e.Action, &at, &e.Detail, &e.Error); err != nil {
			return nil, err
		}
		e.At = decodeTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

const deviceIDKey = "device_id"

func (s *Store) DeviceID(ctx context.Context) (string, error) {
	id, err := s.GetMeta(ctx, deviceIDKey)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, localstore.ErrNotFound) {
		return "", err
	}
	id = uuid.NewString()
	// INSERT OR IGNORE keeps the first writer's id if two goroutines race.
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO metadata (key, value) VALUES (?, ?)`, deviceIDKey, id); err != nil {
		return "", err
	}
	return s.GetMeta(ctx, deviceIDKey)
}

func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM metadata WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", localstore.ErrNotFound
	}
	return v, err
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

func (s *Store) Close() error { return s.db.Close() }
