// Package postgres implements the remote ledger on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dukanpos/terminal/internal/backend"
	"dukanpos/terminal/internal/domain"
	"dukanpos/terminal/internal/xid"
)

type Ledger struct {
	db *sql.DB
}

func New(databaseURL string) (*Ledger, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Ledger{db: db}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func invoicePrefix(invoiceType string) string {
	if invoiceType == domain.InvoiceTypeReturn {
		return "RET"
	}
	return "INV"
}

func (l *Ledger) NextInvoiceNumber(ctx context.Context, branchID, invoiceType string) (string, error) {
	year := time.Now().Year()
	var seq int64
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (branch_id, invoice_type, year, last_value)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (branch_id, invoice_type, year)
		DO UPDATE SET last_value = invoice_sequences.last_value + 1
		RETURNING last_value`,
		branchID, invoiceType, year).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("advance invoice sequence: %w", err)
	}
	return fmt.Sprintf("%s-%d-%06d", invoicePrefix(invoiceType), year, seq), nil
}

func (l *Ledger) CreateInvoice(ctx context.Context, header backend.InvoiceHeader, invoiceNumber string, items []backend.InvoiceItem) (*backend.CreatedInvoice, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id := xid.New("inv")
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales_invoices (
			id, invoice_number, invoice_type, offline_ref,
			total_cents, tax_cents, discount_cents, profit_cents,
			payment_method_id, branch_id, customer_id, drawer_id,
			notes, credit_cents, user_id, device_id, created_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10,
			NULLIF($11, ''), NULLIF($12, ''), $13, $14, $15, $16, $17)`,
		id, invoiceNumber, header.InvoiceType, header.OfflineRef,
		header.TotalCents, header.TaxCents, header.DiscountCents, header.ProfitCents,
		header.PaymentMethodID, header.BranchID, header.CustomerID, header.DrawerID,
		header.Notes, header.CreditCents, header.UserID, header.DeviceID, header.CreatedAt,
	)
	if err != nil {
		// A replayed offline sale hits the unique offline_ref index; the
		// first commit won, hand its invoice back.
		if isUniqueViolation(err) && header.OfflineRef != "" {
			existing, lookupErr := l.GetInvoiceByOfflineRef(ctx, header.OfflineRef)
			if lookupErr != nil {
				return nil, lookupErr
			}
			existing.Existing = true
			return existing, nil
		}
		return nil, fmt.Errorf("insert invoice: %w", err)
	}

	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sales_invoice_items (
				id, invoice_id, product_id, quantity,
				unit_price_cents, unit_cost_cents, discount_cents,
				branch_id, variant_id, notes
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`,
			xid.New("itm"), id, item.ProductID, item.Quantity,
			item.UnitPriceCents, item.UnitCostCents, item.DiscountCents,
			item.BranchID, item.VariantID, item.Notes,
		)
		if err != nil {
			return nil, fmt.Errorf("insert invoice item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &backend.CreatedInvoice{ID: id, InvoiceNumber: invoiceNumber}, nil
}

func (l *Ledger) GetInvoiceByOfflineRef(ctx context.Context, offlineRef string) (*backend.CreatedInvoice, error) {
	var inv backend.CreatedInvoice
	err := l.db.QueryRowContext(ctx,
		`SELECT id, invoice_number FROM sales_invoices WHERE offline_ref = $1`,
		offlineRef).Scan(&inv.ID, &inv.InvoiceNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (l *Ledger) AdjustStock(ctx context.Context, productID, branchID string, delta int) (*backend.Adjustment, error) {
	var qty int
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO inventory (product_id, branch_id, quantity, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (product_id, branch_id)
		DO UPDATE SET quantity = inventory.quantity + $3, updated_at = now()
		RETURNING quantity`,
		productID, branchID, delta).Scan(&qty)
	if err != nil {
		return nil, fmt.Errorf("adjust stock: %w", err)
	}
	return &backend.Adjustment{NewQuantity: qty, WentNegative: qty < 0}, nil
}

func (l *Ledger) AdjustVariantStock(ctx context.Context, variantID string, colors map[string]int, sold bool) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for color, qty := range colors {
		delta := -qty
		if !sold {
			delta = qty
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE variant_colors
			SET quantity = quantity + $1, updated_at = now()
			WHERE variant_id = $2 AND color = $3`,
			delta, variantID, color)
		if err != nil {
			return fmt.Errorf("adjust variant %s/%s: %w", variantID, color, err)
		}
	}
	return tx.Commit()
}

func (l *Ledger) RecordPayments(ctx context.Context, rows []backend.PaymentRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, r := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_payments (id, invoice_id, method_id, amount_cents, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			xid.New("pay"), r.InvoiceID, r.MethodID, r.AmountCents, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
	}
	return tx.Commit()
}

func (l *Ledger) RecordDrawerTransaction(ctx context.Context, dtx backend.DrawerTransaction) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	// drawer_id is nullable: drawerless sales still get an audit row.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO drawer_transactions (id, drawer_id, invoice_id, method_id, amount_cents, balance_moved, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)`,
		xid.New("dtx"), dtx.DrawerID, dtx.InvoiceID, dtx.MethodID, dtx.AmountCents, dtx.BalanceMoved, dtx.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert drawer transaction: %w", err)
	}
	if dtx.BalanceMoved && dtx.DrawerID != "" {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cash_drawers (id, balance_cents, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (id)
			DO UPDATE SET balance_cents = cash_drawers.balance_cents + $2, updated_at = now()`,
			dtx.DrawerID, dtx.AmountCents)
		if err != nil {
			return fmt.Errorf("move drawer balance: %w", err)
		}
	}
	return tx.Commit()
}

func (l *Ledger) GetCostTracking(ctx context.Context, productID string) (*domain.ProductCostTracking, error) {
	var t domain.ProductCostTracking
	err := l.db.QueryRowContext(ctx, `
		SELECT product_id, avg_cost_cents, total_qty_purchased, total_cost_cents,
			last_purchase_price_cents, last_purchase_at, has_purchase_history, updated_at
		FROM product_cost_tracking WHERE product_id = $1`,
		productID).Scan(&t.ProductID, &t.AvgCostCents, &t.TotalQtyPurchased, &t.TotalCostCents,
		&t.LastPurchasePriceCents, &t.LastPurchaseAt, &t.HasPurchaseHistory, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (l *Ledger) SaveCostTracking(ctx context.Context, t *domain.ProductCostTracking) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO product_cost_tracking (
			product_id, avg_cost_cents, total_qty_purchased, total_cost_cents,
			last_purchase_price_cents, last_purchase_at, has_purchase_history, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (product_id) DO UPDATE SET
			avg_cost_cents = excluded.avg_cost_cents,
			total_qty_purchased = excluded.total_qty_purchased,
			total_cost_cents = excluded.total_cost_cents,
			last_purchase_price_cents = excluded.last_purchase_price_cents,
			last_purchase_at = excluded.last_purchase_at,
			has_purchase_history = excluded.has_purchase_history,
			updated_at = now()`,
		t.ProductID, t.AvgCostCents, t.TotalQtyPurchased, t.TotalCostCents,
		t.LastPurchasePriceCents, t.LastPurchaseAt, t.HasPurchaseHistory)
	if err != nil {
		return fmt.Errorf("save cost tracking: %w", err)
	}
	return nil
}

func (l *Ledger) DeleteCostTracking(ctx context.Context, productID string) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM product_cost_tracking WHERE product_id = $1`, productID)
	return err
}

func (l *Ledger) TotalStock(ctx context.Context, productID string) (int, error) {
	var total int
	err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM inventory WHERE product_id = $1`,
		productID).Scan(&total)
	return total, err
}

func (l *Ledger) SetProductCost(ctx context.Context, productID string, costCents int64) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE products SET cost_price_cents = $1, updated_at = now() WHERE id = $2`,
		costCents, productID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return backend.ErrNotFound
	}
	return nil
}

func (l *Ledger) ListPurchaseHistory(ctx context.Context, productID string) ([]domain.PurchaseLine, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT i.quantity, i.unit_cost_cents, p.is_return, p.created_at
		FROM purchase_invoice_items i
		JOIN purchase_invoices p ON p.id = i.invoice_id
		WHERE i.product_id = $1
		ORDER BY p.created_at, i.id`,
		productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PurchaseLine
	for rows.Next() {
		var line domain.PurchaseLine
		if err := rows.Scan(&line.Quantity, &line.UnitCostCents, &line.IsReturn, &line.PurchasedAt); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (l *Ledger) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := l.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(barcode, ''), COALESCE(category_id, ''),
			cost_price_cents, sale_price_cents, wholesale_price_cents, active, updated_at
		FROM products WHERE id = $1`,
		productID).Scan(&p.ID, &p.Name, &p.Barcode, &p.CategoryID,
		&p.CostPriceCents, &p.SalePriceCents, &p.WholesalePriceCents, &p.Active, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (l *Ledger) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(barcode, ''), COALESCE(category_id, ''),
			cost_price_cents, sale_price_cents, wholesale_price_cents, active, updated_at
		FROM products WHERE active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		err := rows.Scan(&p.ID, &p.Name, &p.Barcode, &p.CategoryID,
			&p.CostPriceCents, &p.SalePriceCents, &p.WholesalePriceCents, &p.Active, &p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (l *Ledger) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(type, '') FROM payment_methods ORDER BY name`)
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

func (l *Ledger) ListInventory(ctx context.Context, branchID string) ([]domain.InventoryRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT product_id, branch_id, quantity, updated_at
		FROM inventory WHERE branch_id = $1`,
		branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.InventoryRecord
	for rows.Next() {
		var r domain.InventoryRecord
		if err := rows.Scan(&r.ProductID, &r.BranchID, &r.Quantity, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *Ledger) Close() error { return l.db.Close() }
