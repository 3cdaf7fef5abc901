package localstore

import (
	"context"
	"errors"

	"dukanpos/terminal/internal/domain"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrInvalidRecord          = errors.New("invalid record")
	ErrDuplicateInvoiceNumber = errors.New("duplicate invoice number")
)

// Store is the device-local durable store. Every write that spans more than
// one record (a sale plus its inventory deltas plus its audit entry) must be
// atomic: committed entirely or not at all.
type Store interface {
	// Catalog snapshot, replaced wholesale on refresh.
	UpsertProducts(ctx context.Context, products []domain.Product) error
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	SetProductCost(ctx context.Context, productID string, costCents int64) error

	UpsertPaymentMethods(ctx context.Context, methods []domain.PaymentMethod) error
	GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error)

	UpsertInventory(ctx context.Context, records []domain.InventoryRecord) error
	GetInventory(ctx context.Context, productID, branchID string) (*domain.InventoryRecord, error)
	AdjustInventory(ctx context.Context, productID, branchID string, delta int) (int, error)

	// EnqueueSale persists the sale, applies local inventory deltas for its
	// items, and appends the creation audit entry in one transaction.
	EnqueueSale(ctx context.Context, sale *domain.PendingSale) error
	GetPendingSale(ctx context.Context, localID string) (*domain.PendingSale, error)
	ListSalesByStatus(ctx context.Context, status string) ([]domain.PendingSale, error)
	// ListUnsynced returns pending and failed sales with a retry count below
	// maxRetries, oldest first.
	ListUnsynced(ctx context.Context, maxRetries int) ([]domain.PendingSale, error)

	MarkSyncing(ctx context.Context, localID string) error
	MarkSynced(ctx context.Context, localID, serverInvoiceNumber string) error
	MarkFailed(ctx context.Context, localID, reason string) error
	DeleteSale(ctx context.Context, localID string) error
	PurgeSynced(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context) (domain.QueueStats, error)

	AppendSyncLog(ctx context.Context, entry domain.SyncLogEntry) error
	ListSyncLog(ctx context.Context, pendingSaleID string) ([]domain.SyncLogEntry, error)

	// DeviceID returns the stable device identifier, generating and
	// persisting one on first call.
	DeviceID(ctx context.Context) (string, error)
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error

	Close() error
}
