// Package backend defines the remote ledger the terminal writes invoices to.
// Implementations must make CreateInvoice idempotent on the offline reference
// so a replayed sale never produces a second invoice.
package backend

import (
	"context"
	"errors"
	"time"

	"dukanpos/terminal/internal/domain"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// InvoiceHeader is the invoice-level payload. OfflineRef carries the temp
// invoice number of an offline sale; it is unique server-side and empty for
// sales created while online.
type InvoiceHeader struct {
	InvoiceType     string
	OfflineRef      string
	TotalCents      int64
	TaxCents        int64
	DiscountCents   int64
	ProfitCents     int64
	PaymentMethodID string
	BranchID        string
	CustomerID      string
	DrawerID        string
	Notes           string
	CreditCents     int64
	UserID          string
	DeviceID        string
	CreatedAt       time.Time
}

type InvoiceItem struct {
	ProductID      string
	Quantity       int
	UnitPriceCents int64
	UnitCostCents  int64
	DiscountCents  int64
	BranchID       string
	VariantID      string
	Notes          string
}

// CreatedInvoice reports the committed invoice. Existing is true when the
// offline reference was already committed and the stored invoice is returned
// instead of a new one.
type CreatedInvoice struct {
	ID            string
	InvoiceNumber string
	Existing      bool
}

// Adjustment is the result of an atomic stock delta.
type Adjustment struct {
	NewQuantity  int
	WentNegative bool
}

type PaymentRow struct {
	InvoiceID   string
	MethodID    string
	AmountCents int64
	CreatedAt   time.Time
}

// DrawerTransaction records a payment method's share of an invoice, one row
// per distinct method. DrawerID is empty when the sale had no drawer; the row
// is still written so reports stay complete. BalanceMoved is false for
// non-cash methods and for drawerless sales: the row is audit-only then.
type DrawerTransaction struct {
	DrawerID     string
	InvoiceID    string
	AmountCents  int64
	MethodID     string
	BalanceMoved bool
	CreatedAt    time.Time
}

// Ledger is the server-side store of record.
type Ledger interface {
	// Ping is the cheap reachability probe used by the online check.
	Ping(ctx context.Context) error

	// NextInvoiceNumber atomically advances the branch sequence for the
	// given invoice type and returns the formatted number.
	NextInvoiceNumber(ctx context.Context, branchID, invoiceType string) (string, error)

	// CreateInvoice writes the header and items atomically. When
	// header.OfflineRef matches an already-committed invoice, the existing
	// invoice is returned with Existing=true and nothing is written.
	CreateInvoice(ctx context.Context, header InvoiceHeader, invoiceNumber string, items []InvoiceItem) (*CreatedInvoice, error)
	GetInvoiceByOfflineRef(ctx context.Context, offlineRef string) (*CreatedInvoice, error)

	// AdjustStock applies a signed delta in one statement and reports the
	// resulting quantity.
	AdjustStock(ctx context.Context, productID, branchID string, delta int) (*Adjustment, error)
	AdjustVariantStock(ctx context.Context, variantID string, colors map[string]int, sold bool) error

	RecordPayments(ctx context.Context, rows []PaymentRow) error
	RecordDrawerTransaction(ctx context.Context, tx DrawerTransaction) error

	GetCostTracking(ctx context.Context, productID string) (*domain.ProductCostTracking, error)
	SaveCostTracking(ctx context.Context, tracking *domain.ProductCostTracking) error
	DeleteCostTracking(ctx context.Context, productID string) error
	SetProductCost(ctx context.Context, productID string, costCents int64) error
	ListPurchaseHistory(ctx context.Context, productID string) ([]domain.PurchaseLine, error)

	// TotalStock sums the product's quantity across all branches.
	TotalStock(ctx context.Context, productID string) (int, error)

	// Snapshot reads used to refresh the terminal's local cache.
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error)
	ListInventory(ctx context.Context, branchID string) ([]domain.InventoryRecord, error)

	Close() error
}
