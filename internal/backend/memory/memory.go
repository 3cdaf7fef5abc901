// Package memory provides an in-memory Ledger. Tests use the error-injection
// fields to simulate a dead network or a server that fails mid-commit.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dukanpos/terminal/internal/backend"
	"dukanpos/terminal/internal/domain"
	"dukanpos/terminal/internal/xid"
)

type invKey struct {
	productID string
	branchID  string
}

type seqKey struct {
	branchID    string
	invoiceType string
}

type storedInvoice struct {
	created backend.CreatedInvoice
	header  backend.InvoiceHeader
	items   []backend.InvoiceItem
}

type Ledger struct {
	mu sync.Mutex

	// Error injection for tests. When set, the matching call returns the
	// error before touching state.
	PingErr           error
	CreateInvoiceErr  error
	AdjustStockErr    error
	RecordPaymentsErr error
	DrawerErr         error

	sequences    map[seqKey]int64
	invoices     map[string]*storedInvoice
	byOfflineRef map[string]string
	inventory    map[invKey]int
	variants     map[string]map[string]int
	payments     []backend.PaymentRow
	drawerTxs    []backend.DrawerTransaction
	drawers      map[string]int64
	costTracking map[string]domain.ProductCostTracking
	purchases    map[string][]domain.PurchaseLine
	products     map[string]domain.Product
	methods      map[string]domain.PaymentMethod
}

func New() *Ledger {
	return &Ledger{
		sequences:    make(map[seqKey]int64),
		invoices:     make(map[string]*storedInvoice),
		byOfflineRef: make(map[string]string),
		inventory:    make(map[invKey]int),
		variants:     make(map[string]map[string]int),
		drawers:      make(map[string]int64),
		costTracking: make(map[string]domain.ProductCostTracking),
		purchases:    make(map[string][]domain.PurchaseLine),
		products:     make(map[string]domain.Product),
		methods:      make(map[string]domain.PaymentMethod),
	}
}

func (l *Ledger) Ping(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.PingErr
}

func (l *Ledger) NextInvoiceNumber(ctx context.Context, branchID, invoiceType string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := seqKey{branchID, invoiceType}
	l.sequences[key]++
	prefix := "INV"
	if invoiceType == domain.InvoiceTypeReturn {
		prefix = "RET"
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, time.Now().Year(), l.sequences[key]), nil
}

func (l *Ledger) CreateInvoice(ctx context.Context, header backend.InvoiceHeader, invoiceNumber string, items []backend.InvoiceItem) (*backend.CreatedInvoice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.CreateInvoiceErr != nil {
		return nil, l.CreateInvoiceErr
	}
	if header.OfflineRef != "" {
		if id, ok := l.byOfflineRef[header.OfflineRef]; ok {
			existing := l.invoices[id].created
			existing.Existing = true
			return &existing, nil
		}
	}
	inv := &storedInvoice{
		created: backend.CreatedInvoice{ID: xid.New("inv"), InvoiceNumber: invoiceNumber},
		header:  header,
		items:   append([]backend.InvoiceItem(nil), items...),
	}
	l.invoices[inv.created.ID] = inv
	if header.OfflineRef != "" {
		l.byOfflineRef[header.OfflineRef] = inv.created.ID
	}
	created := inv.created
	return &created, nil
}

func (l *Ledger) GetInvoiceByOfflineRef(ctx context.Context, offlineRef string) (*backend.CreatedInvoice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byOfflineRef[offlineRef]
	if !ok {
		return nil, backend.ErrNotFound
	}
	created := l.invoices[id].created
	return &created, nil
}

// InvoiceCount reports how many invoices have been committed; tests use it to
// assert idempotent replay.
func (l *Ledger) InvoiceCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.invoices)
}

func (l *Ledger) SetStock(productID, branchID string, qty int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inventory[invKey{productID, branchID}] = qty
}

func (l *Ledger) Stock(productID, branchID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inventory[invKey{productID, branchID}]
}

func (l *Ledger) AdjustStock(ctx context.Context, productID, branchID string, delta int) (*backend.Adjustment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.AdjustStockErr != nil {
		return nil, l.AdjustStockErr
	}
	key := invKey{productID, branchID}
	l.inventory[key] += delta
	qty := l.inventory[key]
	return &backend.Adjustment{NewQuantity: qty, WentNegative: qty < 0}, nil
}

func (l *Ledger) AdjustVariantStock(ctx context.Context, variantID string, colors map[string]int, sold bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.variants[variantID]
	if !ok {
		m = make(map[string]int)
		l.variants[variantID] = m
	}
	for color, qty := range colors {
		if sold {
			m[color] -= qty
		} else {
			m[color] += qty
		}
	}
	return nil
}

func (l *Ledger) RecordPayments(ctx context.Context, rows []backend.PaymentRow) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.RecordPaymentsErr != nil {
		return l.RecordPaymentsErr
	}
	l.payments = append(l.payments, rows...)
	return nil
}

func (l *Ledger) Payments() []backend.PaymentRow {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]backend.PaymentRow(nil), l.payments...)
}

func (l *Ledger) SetDrawerBalance(drawerID string, cents int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drawers[drawerID] = cents
}

func (l *Ledger) DrawerBalance(drawerID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drawers[drawerID]
}

func (l *Ledger) DrawerTransactions() []backend.DrawerTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]backend.DrawerTransaction(nil), l.drawerTxs...)
}

func (l *Ledger) RecordDrawerTransaction(ctx context.Context, tx backend.DrawerTransaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.DrawerErr != nil {
		return l.DrawerErr
	}
	l.drawerTxs = append(l.drawerTxs, tx)
	if tx.BalanceMoved {
		l.drawers[tx.DrawerID] += tx.AmountCents
	}
	return nil
}

func (l *Ledger) GetCostTracking(ctx context.Context, productID string) (*domain.ProductCostTracking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.costTracking[productID]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return &t, nil
}

func (l *Ledger) SaveCostTracking(ctx context.Context, t *domain.ProductCostTracking) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.costTracking[t.ProductID] = *t
	return nil
}

func (l *Ledger) DeleteCostTracking(ctx context.Context, productID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.costTracking, productID)
	return nil
}

func (l *Ledger) TotalStock(ctx context.Context, productID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for key, qty := range l.inventory {
		if key.productID == productID {
			total += qty
		}
	}
	return total, nil
}

func (l *Ledger) SetProductCost(ctx context.Context, productID string, costCents int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.products[productID]
	if !ok {
		// Tests often reconcile products the snapshot never loaded; treat
		// the update as creating the catalog entry.
		p = domain.Product{ID: productID, Active: true}
	}
	p.CostPriceCents = costCents
	p.UpdatedAt = time.Now()
	l.products[productID] = p
	return nil
}

func (l *Ledger) SetPurchaseHistory(productID string, lines []domain.PurchaseLine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purchases[productID] = append([]domain.PurchaseLine(nil), lines...)
}

func (l *Ledger) ListPurchaseHistory(ctx context.Context, productID string) ([]domain.PurchaseLine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.PurchaseLine(nil), l.purchases[productID]...), nil
}

func (l *Ledger) SeedProducts(products []domain.Product) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range products {
		l.products[p.ID] = p
	}
}

func (l *Ledger) SeedPaymentMethods(methods []domain.PaymentMethod) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range methods {
		l.methods[m.ID] = m
	}
}

func (l *Ledger) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.products[productID]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return &p, nil
}

func (l *Ledger) ListProducts(ctx context.Context) ([]domain.Product, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Product, 0, len(l.products))
	for _, p := range l.products {
		out = append(out, p)
	}
	return out, nil
}

func (l *Ledger) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.PaymentMethod, 0, len(l.methods))
	for _, m := range l.methods {
		out = append(out, m)
	}
	return out, nil
}

func (l *Ledger) ListInventory(ctx context.Context, branchID string) ([]domain.InventoryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.InventoryRecord
	for key, qty := range l.inventory {
		if key.branchID == branchID {
			out = append(out, domain.InventoryRecord{
				ProductID: key.productID,
				BranchID:  key.branchID,
				Quantity:  qty,
				UpdatedAt: time.Now(),
			})
		}
	}
	return out, nil
}

func (l *Ledger) Close() error { return nil }
