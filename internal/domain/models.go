package domain

import "time"

// Product is the cached catalog record. The sale path treats it as read-only
// except for CostPriceCents, which the cost reconciliation rewrites.
type Product struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Barcode             string    `json:"barcode"`
	CategoryID          string    `json:"category_id"`
	CostPriceCents      int64     `json:"cost_price_cents"`
	SalePriceCents      int64     `json:"sale_price_cents"`
	WholesalePriceCents int64     `json:"wholesale_price_cents"`
	Active              bool      `json:"active"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// InventoryRecord is stock for one (product, branch) pair. The cached quantity
// may legitimately go negative while offline; it is resolved at sync time.
type InventoryRecord struct {
	ProductID string    `json:"product_id"`
	BranchID  string    `json:"branch_id"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PaymentMethod.Type gates cash-drawer accounting: only "cash" methods move
// the drawer balance, everything else is recorded for audit only.
type PaymentMethod struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type PaymentEntry struct {
	ID          string `json:"id"`
	AmountCents int64  `json:"amount_cents"`
	MethodID    string `json:"method_id"`
	MethodName  string `json:"method_name,omitempty"`
}

// PendingSaleItem is one line of a locally queued sale. Quantity is negative
// for returns. Notes carries the selected color/variant breakdown as free text
// so the record renders offline without joins.
type PendingSaleItem struct {
	ProductID      string         `json:"product_id"`
	ProductName    string         `json:"product_name"`
	Quantity       int            `json:"quantity"`
	UnitPriceCents int64          `json:"unit_price_cents"`
	UnitCostCents  int64          `json:"unit_cost_cents"`
	DiscountCents  int64          `json:"discount_cents"`
	BranchID       string         `json:"branch_id"`
	VariantID      string         `json:"variant_id,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	SelectedColors map[string]int `json:"selected_colors,omitempty"`
}

// PendingSale is a sale recorded locally, owned by this device until synced.
// Branch/customer/drawer names are denormalized for offline display.
type PendingSale struct {
	LocalID             string            `json:"local_id"`
	TempInvoiceNumber   string            `json:"temp_invoice_number"`
	ServerInvoiceNumber string            `json:"server_invoice_number,omitempty"`
	InvoiceType         string            `json:"invoice_type"`
	TotalCents          int64             `json:"total_cents"`
	TaxCents            int64             `json:"tax_cents"`
	DiscountCents       int64             `json:"discount_cents"`
	ProfitCents         int64             `json:"profit_cents"`
	PaymentMethodID     string            `json:"payment_method_id"`
	BranchID            string            `json:"branch_id"`
	BranchName          string            `json:"branch_name,omitempty"`
	CustomerID          string            `json:"customer_id,omitempty"`
	CustomerName        string            `json:"customer_name,omitempty"`
	DrawerID            string            `json:"drawer_id,omitempty"`
	DrawerName          string            `json:"drawer_name,omitempty"`
	Notes               string            `json:"notes,omitempty"`
	Items               []PendingSaleItem `json:"items"`
	Payments            []PaymentEntry    `json:"payments,omitempty"`
	CreditCents         int64             `json:"credit_cents"`
	UserID              string            `json:"user_id"`
	UserName            string            `json:"user_name"`
	CreatedAt           time.Time         `json:"created_at"`
	SyncedAt            *time.Time        `json:"synced_at,omitempty"`
	SyncStatus          string            `json:"sync_status"`
	LastError           string            `json:"last_error,omitempty"`
	RetryCount          int               `json:"retry_count"`
	DeviceID            string            `json:"device_id"`
}

// ProductCostTracking is the incrementally maintained running-average record.
// It is derived state, reconstructible from the purchase-invoice history.
type ProductCostTracking struct {
	ProductID              string    `json:"product_id"`
	AvgCostCents           int64     `json:"avg_cost_cents"`
	TotalQtyPurchased      int       `json:"total_qty_purchased"`
	TotalCostCents         int64     `json:"total_cost_cents"`
	LastPurchasePriceCents int64     `json:"last_purchase_price_cents"`
	LastPurchaseAt         time.Time `json:"last_purchase_at"`
	HasPurchaseHistory     bool      `json:"has_purchase_history"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// PurchaseLine is one purchase-invoice line used when replaying cost history.
type PurchaseLine struct {
	Quantity      int       `json:"quantity"`
	UnitCostCents int64     `json:"unit_cost_cents"`
	IsReturn      bool      `json:"is_return"`
	PurchasedAt   time.Time `json:"purchased_at"`
}

// SyncLogEntry is an append-only audit record; entries are never mutated.
type SyncLogEntry struct {
	ID            string    `json:"id"`
	PendingSaleID string    `json:"pending_sale_id"`
	Action        string    `json:"action"`
	At            time.Time `json:"at"`
	Detail        string    `json:"detail,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// SaleLine is a cart line as submitted by the UI. Quantity is always positive;
// sale vs return comes from the request flag.
type SaleLine struct {
	ProductID      string         `json:"product_id"`
	ProductName    string         `json:"product_name"`
	Quantity       int            `json:"quantity"`
	UnitPriceCents int64          `json:"unit_price_cents"`
	UnitCostCents  int64          `json:"unit_cost_cents"`
	DiscountCents  int64          `json:"discount_cents"`
	BranchID       string         `json:"branch_id"`
	VariantID      string         `json:"variant_id,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	SelectedColors map[string]int `json:"selected_colors,omitempty"`
}

type SaleRequest struct {
	Items           []SaleLine     `json:"items"`
	BranchID        string         `json:"branch_id"`
	BranchName      string         `json:"branch_name,omitempty"`
	CustomerID      string         `json:"customer_id,omitempty"`
	CustomerName    string         `json:"customer_name,omitempty"`
	DrawerID        string         `json:"drawer_id,omitempty"`
	DrawerName      string         `json:"drawer_name,omitempty"`
	PaymentMethodID string         `json:"payment_method_id"`
	PaymentSplits   []PaymentEntry `json:"payment_splits,omitempty"`
	CreditCents     int64          `json:"credit_cents"`
	Notes           string         `json:"notes,omitempty"`
	IsReturn        bool           `json:"is_return"`
	UserID          string         `json:"user_id"`
	UserName        string         `json:"user_name"`
}

type SaleResult struct {
	Success           bool     `json:"success"`
	InvoiceID         string   `json:"invoice_id,omitempty"`
	InvoiceNumber     string   `json:"invoice_number,omitempty"`
	TotalCents        int64    `json:"total_cents"`
	Message           string   `json:"message"`
	IsOffline         bool     `json:"is_offline,omitempty"`
	InventoryWarnings []string `json:"inventory_warnings,omitempty"`
}

type QueueStats struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

const (
	InvoiceTypeSale   = "Sale Invoice"
	InvoiceTypeReturn = "Sale Return"
)

const (
	SyncStatusPending = "pending"
	SyncStatusSyncing = "syncing"
	SyncStatusSynced  = "synced"
	SyncStatusFailed  = "failed"
)

const (
	SyncActionCreate  = "create"
	SyncActionSuccess = "sync_success"
	SyncActionFailed  = "sync_failed"
	SyncActionRetry   = "retry"
)

const PaymentTypeCash = "cash"
