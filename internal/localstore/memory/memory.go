// Package memory provides an in-memory Store used by tests and by the demo
// daemon when no local database path is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dukanpos/terminal/internal/domain"
	"dukanpos/terminal/internal/localstore"
	"dukanpos/terminal/internal/xid"
)

type invKey struct {
	productID string
	branchID  string
}

type Store struct {
	mu sync.RWMutex

	products       map[string]domain.Product
	paymentMethods map[string]domain.PaymentMethod
	inventory      map[invKey]domain.InventoryRecord
	sales          map[string]domain.PendingSale
	syncLog        []domain.SyncLogEntry
	meta           map[string]string
}

func New() *Store {
	return &Store{
		products:       make(map[string]domain.Product),
		paymentMethods: make(map[string]domain.PaymentMethod),
		inventory:      make(map[invKey]domain.InventoryRecord),
		sales:          make(map[string]domain.PendingSale),
		meta:           make(map[string]string),
	}
}

func (s *Store) UpsertProducts(ctx context.Context, products []domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		if p.ID == "" {
			return localstore.ErrInvalidRecord
		}
		s.products[p.ID] = p
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) SetProductCost(ctx context.Context, productID string, costCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return localstore.ErrNotFound
	}
	p.CostPriceCents = costCents
	p.UpdatedAt = time.Now()
	s.products[productID] = p
	return nil
}

func (s *Store) UpsertPaymentMethods(ctx context.Context, methods []domain.PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range methods {
		if m.ID == "" {
			return localstore.ErrInvalidRecord
		}
		s.paymentMethods[m.ID] = m
	}
	return nil
}

func (s *Store) GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.paymentMethods[id]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	return &m, nil
}

func (s *Store) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PaymentMethod, 0, len(s.paymentMethods))
	for _, m := range s.paymentMethods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpsertInventory(ctx context.Context, records []domain.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if r.ProductID == "" || r.BranchID == "" {
			return localstore.ErrInvalidRecord
		}
		s.inventory[invKey{r.ProductID, r.BranchID}] = r
	}
	return nil
}

func (s *Store) GetInventory(ctx context.Context, productID, branchID string) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.inventory[invKey{productID, branchID}]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	return &r, nil
}

func (s *Store) AdjustInventory(ctx context.Context, productID, branchID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustInventoryLocked(productID, branchID, delta)
}

func (s *Store) adjustInventoryLocked(productID, branchID string, delta int) (int, error) {
	key := invKey{productID, branchID}
	r, ok := s.inventory[key]
	if !ok {
		r = domain.InventoryRecord{ProductID: productID, BranchID: branchID}
	}
	r.Quantity += delta
	r.UpdatedAt = time.Now()
	s.inventory[key] = r
	return r.Quantity, nil
}

func (s *Store) EnqueueSale(ctx context.Context, sale *domain.PendingSale) error {
	if sale == nil || sale.LocalID == "" || len(sale.Items) == 0 {
		return localstore.ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sales[sale.LocalID]; exists {
		return localstore.ErrDuplicateInvoiceNumber
	}
	for _, existing := range s.sales {
		if existing.TempInvoiceNumber == sale.TempInvoiceNumber {
			return localstore.ErrDuplicateInvoiceNumber
		}
	}
	cp := *sale
	cp.Items = append([]domain.PendingSaleItem(nil), sale.Items...)
	cp.Payments = append([]domain.PaymentEntry(nil), sale.Payments...)
	s.sales[cp.LocalID] = cp
	for _, item := range cp.Items {
		s.adjustInventoryLocked(item.ProductID, item.BranchID, -item.Quantity)
	}
	s.syncLog = append(s.syncLog, domain.SyncLogEntry{
		ID:            xid.New("log"),
		PendingSaleID: cp.LocalID,
		Action:        domain.SyncActionCreate,
		At:            cp.CreatedAt,
	})
	return nil
}

func (s *Store) GetPendingSale(ctx context.Context, localID string) (*domain.PendingSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[localID]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	cp := sale
	cp.Items = append([]domain.PendingSaleItem(nil), sale.Items...)
	cp.Payments = append([]domain.PaymentEntry(nil), sale.Payments...)
	return &cp, nil
}

func (s *Store) ListSalesByStatus(ctx context.Context, status string) ([]domain.PendingSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PendingSale
	for _, sale := range s.sales {
		if sale.SyncStatus == status {
			out = append(out, sale)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *Store) ListUnsynced(ctx context.Context, maxRetries int) ([]domain.PendingSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PendingSale
	for _, sale := range s.sales {
		if sale.SyncStatus != domain.SyncStatusPending && sale.SyncStatus != domain.SyncStatusFailed {
			continue
		}
		if maxRetries > 0 && sale.RetryCount >= maxRetries {
			continue
		}
		out = append(out, sale)
	}
	sortByCreated(out)
	return out, nil
}

func sortByCreated(sales []domain.PendingSale) {
	sort.Slice(sales, func(i, j int) bool {
		return sales[i].CreatedAt.Before(sales[j].CreatedAt)
	})
}

func (s *Store) MarkSyncing(ctx context.Context, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[localID]
	if !ok {
		return localstore.ErrNotFound
	}
	sale.SyncStatus = domain.SyncStatusSyncing
	s.sales[localID] = sale
	return nil
}

func (s *Store) MarkSynced(ctx context.Context, localID, serverInvoiceNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[localID]
	if !ok {
		return localstore.ErrNotFound
	}
	now := time.Now()
	sale.SyncStatus = domain.SyncStatusSynced
	sale.ServerInvoiceNumber = serverInvoiceNumber
	sale.SyncedAt = &now
	sale.LastError = ""
	s.sales[localID] = sale
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, localID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[localID]
	if !ok {
		return localstore.ErrNotFound
	}
	sale.SyncStatus = domain.SyncStatusFailed
	sale.LastError = reason
	sale.RetryCount++
	s.sales[localID] = sale
	return nil
}

func (s *Store) DeleteSale(ctx context.Context, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sales[localID]; !ok {
		return localstore.ErrNotFound
	}
	delete(s.sales, localID)
	return nil
}

func (s *Store) PurgeSynced(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sale := range s.sales {
		if sale.SyncStatus == domain.SyncStatusSynced {
			delete(s.sales, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) CountByStatus(ctx context.Context) (domain.QueueStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats domain.QueueStats
	for _, sale := range s.sales {
		switch sale.SyncStatus {
		case domain.SyncStatusPending:
			stats.Pending++
		case domain.SyncStatusSyncing:
			stats.Syncing++
		case domain.SyncStatusSynced:
			stats.Synced++
		case domain.SyncStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (s *Store) AppendSyncLog(ctx context.Context, entry domain.SyncLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = xid.New("log")
	}
	s.syncLog = append(s.syncLog, entry)
	return nil
}

func (s *Store) ListSyncLog(ctx context.Context, pendingSaleID string) ([]domain.SyncLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SyncLogEntry
	for _, e := range s.syncLog {
		if pendingSaleID == "" || e.PendingSaleID == pendingSaleID {
			out = append(out, e)
		}
	}
	return out, nil
}

const deviceIDKey = "device_id"

func (s *Store) DeviceID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.meta[deviceIDKey]; ok {
		return id, nil
	}
	id := uuid.NewString()
	s.meta[deviceIDKey] = id
	return id, nil
}

func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.meta[key]
	if !ok {
		return "", localstore.ErrNotFound
	}
	return v, nil
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
	return nil
}

func (s *Store) Close() error { return nil }
